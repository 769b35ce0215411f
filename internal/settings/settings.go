// Package settings manages the single application-settings document. Every
// signed-in user can read it; changing it takes the canManageSettings
// capability, which only the admin tier holds.
package settings

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/enlaces-epn/callcenter/internal"
	callDatamodel "github.com/enlaces-epn/callcenter/internal/core/datamodel/call"
	"github.com/enlaces-epn/callcenter/internal/rbac"
	"github.com/enlaces-epn/callcenter/internal/session"
	"github.com/enlaces-epn/callcenter/internal/store"
)

// Settings is the application-wide configuration document, stored at
// settings/app.
type Settings struct {
	AppName        string    `json:"appName"`
	SupportEmail   string    `json:"supportEmail,omitempty"`
	DefaultChannel string    `json:"defaultChannel"`
	RetentionDays  int       `json:"retentionDays"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
	UpdatedBy      string    `json:"updatedBy,omitempty"`
}

// Defaults returns the document served before an admin ever saves one.
func Defaults() Settings {
	return Settings{
		AppName:        "Enlaces EPN",
		DefaultChannel: "LLAMADA",
		RetentionDays:  365,
	}
}

// UpdateDTO carries a full replacement of the editable fields.
type UpdateDTO struct {
	AppName        string `json:"appName"`
	SupportEmail   string `json:"supportEmail"`
	DefaultChannel string `json:"defaultChannel"`
	RetentionDays  int    `json:"retentionDays"`
}

func (d UpdateDTO) Validate() error {
	var errs []internal.ValidationError

	if strings.TrimSpace(d.AppName) == "" {
		errs = append(errs, internal.ValidationError{
			Field:   "appName",
			Message: "appName is required",
			Code:    string(internal.ErrCodeValidationFailed),
		})
	}
	if d.DefaultChannel != "" && !callDatamodel.ValidChannel(d.DefaultChannel) {
		errs = append(errs, internal.ValidationError{
			Field:   "defaultChannel",
			Message: "unknown channel",
			Code:    string(internal.ErrCodeValidationFailed),
		})
	}
	if d.RetentionDays < 0 {
		errs = append(errs, internal.ValidationError{
			Field:   "retentionDays",
			Message: "retentionDays cannot be negative",
			Code:    string(internal.ErrCodeValidationFailed),
		})
	}

	if len(errs) > 0 {
		return internal.NewValidationFieldsError(errs)
	}
	return nil
}

type Service struct {
	records store.Store
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(records store.Store, logger *slog.Logger) *Service {
	return &Service{
		records: records,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns the stored document, or the defaults when none was ever saved.
func (s *Service) Get(ctx context.Context, acting *session.Session) (Settings, error) {
	if acting == nil {
		return Settings{}, internal.ErrInvalidToken
	}

	var doc Settings
	found, err := store.ReadJSON(ctx, s.records, store.SettingsPath, &doc)
	if err != nil {
		return Settings{}, internal.NewInternalError("failed to read settings", err)
	}
	if !found {
		return Defaults(), nil
	}
	return doc, nil
}

// Update replaces the document. Audit stamps come from the acting session.
func (s *Service) Update(ctx context.Context, acting *session.Session, dto UpdateDTO) (Settings, error) {
	if acting == nil || !acting.HasPermission(rbac.CanManageSettings) {
		return Settings{}, internal.NewPermissionDeniedError(string(rbac.CanManageSettings))
	}
	if err := dto.Validate(); err != nil {
		return Settings{}, err
	}

	doc := Settings{
		AppName:        strings.TrimSpace(dto.AppName),
		SupportEmail:   strings.TrimSpace(dto.SupportEmail),
		DefaultChannel: dto.DefaultChannel,
		RetentionDays:  dto.RetentionDays,
		UpdatedAt:      s.now().UTC(),
		UpdatedBy:      acting.UID(),
	}
	if doc.DefaultChannel == "" {
		doc.DefaultChannel = Defaults().DefaultChannel
	}

	if err := store.WriteJSON(ctx, s.records, store.SettingsPath, doc); err != nil {
		return Settings{}, internal.NewInternalError("failed to write settings", err)
	}

	s.logger.Info("settings updated", "updated_by", acting.UID())
	return doc, nil
}
