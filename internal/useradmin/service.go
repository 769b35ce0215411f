// Package useradmin implements the privileged user-management workflow:
// account provisioning, profile edits and removal, all gated by the
// canCreateUsers capability at invocation time, not only at menu render.
package useradmin

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/enlaces-epn/callcenter/internal"
	"github.com/enlaces-epn/callcenter/internal/authprovider"
	userDatamodel "github.com/enlaces-epn/callcenter/internal/core/datamodel/user"
	"github.com/enlaces-epn/callcenter/internal/events"
	"github.com/enlaces-epn/callcenter/internal/rbac"
	"github.com/enlaces-epn/callcenter/internal/session"
	"github.com/enlaces-epn/callcenter/internal/store"
)

// UserRecord is a profile plus the uid it is keyed by, as listed in the
// administration table.
type UserRecord struct {
	UID string `json:"id"`
	userDatamodel.Profile
}

type Service struct {
	provider authprovider.Provider
	records  store.Store
	bus      *events.EventBus
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(provider authprovider.Provider, records store.Store, bus *events.EventBus, logger *slog.Logger) *Service {
	return &Service{
		provider: provider,
		records:  records,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// requireManageUsers is the defense-in-depth gate: reachable only when the
// UI gate was bypassed or went stale.
func requireManageUsers(acting *session.Session) error {
	if acting == nil || !acting.HasPermission(rbac.CanCreateUsers) {
		return internal.NewPermissionDeniedError(string(rbac.CanCreateUsers))
	}
	return nil
}

// CreateUser provisions a credential and writes its profile record. If the
// profile write fails after the account exists, the caller gets a distinct
// error so an operator can reconcile by hand; the account is not rolled
// back.
func (s *Service) CreateUser(ctx context.Context, acting *session.Session, dto CreateUserDTO) (authprovider.Identity, error) {
	if err := requireManageUsers(acting); err != nil {
		return authprovider.Identity{}, err
	}
	if err := dto.Validate(); err != nil {
		return authprovider.Identity{}, err
	}

	identity, err := s.provider.CreateAccount(ctx, dto.Email, dto.Password)
	if err != nil {
		return authprovider.Identity{}, err
	}

	if err := s.provider.UpdateDisplayName(ctx, identity.UID, dto.DisplayName); err != nil {
		// the profile record below carries the name regardless
		s.logger.Warn("failed to attach display name to credential",
			"uid", identity.UID, "error", err)
	}

	role := rbac.DefaultRole
	if dto.Role != "" {
		role = rbac.ParseRole(dto.Role)
	}

	now := s.now().UTC()
	profile := userDatamodel.Profile{
		Email:       identity.Email,
		DisplayName: strings.TrimSpace(dto.DisplayName),
		Role:        string(role),
		Department:  dto.Department,
		IsActive:    true,
		CreatedAt:   now,
		CreatedBy:   acting.UID(),
		UpdatedAt:   now,
		UpdatedBy:   acting.UID(),
	}
	if err := store.WriteJSON(ctx, s.records, store.UserPath(identity.UID), profile); err != nil {
		s.logger.Error("profile write failed after account creation, manual reconciliation required",
			"uid", identity.UID, "email", identity.Email, "error", err)
		return identity, internal.NewExternalError(
			"account was created but its profile could not be written",
			internal.ErrCodeProfileWriteFailed, err)
	}

	s.logger.Info("user created", "uid", identity.UID, "role", role, "created_by", acting.UID())
	s.bus.Publish(ctx, events.New(events.UserCreated, map[string]interface{}{
		"uid":        identity.UID,
		"role":       string(role),
		"created_by": acting.UID(),
	}))
	return identity, nil
}

// UpdateUser writes only the supplied fields plus the audit stamps. Email and
// password never change through this path.
func (s *Service) UpdateUser(ctx context.Context, acting *session.Session, uid string, dto UpdateUserDTO) error {
	if err := requireManageUsers(acting); err != nil {
		return err
	}
	if err := dto.Validate(); err != nil {
		return err
	}

	raw, err := s.records.Read(ctx, store.UserPath(uid))
	if err != nil {
		return internal.NewInternalError("failed to read user profile", err)
	}
	if raw == nil {
		return internal.ErrUserNotFound
	}

	patch := map[string]interface{}{
		"updatedAt": s.now().UTC(),
		"updatedBy": acting.UID(),
	}
	if dto.DisplayName != nil {
		patch["displayName"] = *dto.DisplayName
	}
	if dto.Role != nil {
		patch["role"] = *dto.Role
	}
	if dto.Department != nil {
		patch["department"] = *dto.Department
	}
	if dto.IsActive != nil {
		patch["isActive"] = *dto.IsActive
	}

	if err := s.records.Update(ctx, store.UserPath(uid), patch); err != nil {
		return internal.NewInternalError("failed to update user profile", err)
	}

	s.logger.Info("user updated", "uid", uid, "updated_by", acting.UID())
	s.bus.Publish(ctx, events.New(events.UserUpdated, map[string]interface{}{
		"uid":        uid,
		"updated_by": acting.UID(),
	}))
	return nil
}

// DeleteUser removes the profile record only. The credential stays with the
// identity provider; the session resolver's least-privilege fallback keeps
// the orphan harmless. Self-deletion is rejected before anything else — an
// invariant, not a permission check.
func (s *Service) DeleteUser(ctx context.Context, acting *session.Session, uid string) error {
	if acting != nil && acting.UID() == uid {
		return internal.ErrSelfDeletionForbidden
	}
	if err := requireManageUsers(acting); err != nil {
		return err
	}

	if err := s.records.Remove(ctx, store.UserPath(uid)); err != nil {
		return internal.NewInternalError("failed to remove user profile", err)
	}

	s.logger.Info("user deleted", "uid", uid, "deleted_by", acting.UID())
	s.bus.Publish(ctx, events.New(events.UserDeleted, map[string]interface{}{
		"uid":        uid,
		"deleted_by": acting.UID(),
	}))
	return nil
}

func (s *Service) GetUser(ctx context.Context, acting *session.Session, uid string) (UserRecord, error) {
	if err := requireManageUsers(acting); err != nil {
		return UserRecord{}, err
	}

	var profile userDatamodel.Profile
	found, err := store.ReadJSON(ctx, s.records, store.UserPath(uid), &profile)
	if err != nil {
		return UserRecord{}, internal.NewInternalError("failed to read user profile", err)
	}
	if !found {
		return UserRecord{}, internal.ErrUserNotFound
	}
	return UserRecord{UID: uid, Profile: profile}, nil
}

func (s *Service) ListUsers(ctx context.Context, acting *session.Session) ([]UserRecord, error) {
	if err := requireManageUsers(acting); err != nil {
		return nil, err
	}
	return s.listUsers(ctx)
}

// WatchUsers re-lists on every change under users/ and hands the fresh slice
// to cb. The returned handle must be invoked when the owning view is torn
// down; calling it twice is a no-op.
func (s *Service) WatchUsers(ctx context.Context, acting *session.Session, cb func([]UserRecord)) (store.UnsubscribeFunc, error) {
	if err := requireManageUsers(acting); err != nil {
		return nil, err
	}

	unsubscribe, err := s.records.Subscribe(ctx, store.UsersCollection, func(store.Event) {
		users, err := s.listUsers(ctx)
		if err != nil {
			s.logger.Error("failed to reload users after change", "error", err)
			return
		}
		cb(users)
	})
	if err != nil {
		return nil, internal.NewInternalError("failed to subscribe to users", err)
	}
	return unsubscribe, nil
}

func (s *Service) listUsers(ctx context.Context) ([]UserRecord, error) {
	raw, err := s.records.List(ctx, store.UsersCollection)
	if err != nil {
		return nil, internal.NewInternalError("failed to list users", err)
	}

	users := make([]UserRecord, 0, len(raw))
	for path, value := range raw {
		var profile userDatamodel.Profile
		if err := json.Unmarshal(value, &profile); err != nil {
			s.logger.Warn("skipping undecodable user record", "path", path, "error", err)
			continue
		}
		users = append(users, UserRecord{
			UID:     strings.TrimPrefix(path, store.UsersCollection+"/"),
			Profile: profile,
		})
	}

	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}
