package useradmin

import (
	"regexp"
	"strings"

	"github.com/enlaces-epn/callcenter/internal"
	"github.com/enlaces-epn/callcenter/internal/rbac"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// CreateUserDTO is the account-provisioning input. Role may be empty, in
// which case the new user is an agent.
type CreateUserDTO struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
	Department  string `json:"department,omitempty"`
}

// Validate collects every offending field into one error and is purely
// local: no remote call happens until it passes.
func (d CreateUserDTO) Validate() error {
	var errs []internal.ValidationError

	if !emailPattern.MatchString(strings.TrimSpace(d.Email)) {
		errs = append(errs, internal.ValidationError{
			Field:   "email",
			Message: "email is not well-formed",
			Code:    string(internal.ErrCodeInvalidEmail),
		})
	}
	if len(d.Password) < 6 {
		errs = append(errs, internal.ValidationError{
			Field:   "password",
			Message: "password must be at least 6 characters",
			Code:    string(internal.ErrCodeWeakPassword),
		})
	}
	if strings.TrimSpace(d.DisplayName) == "" {
		errs = append(errs, internal.ValidationError{
			Field:   "displayName",
			Message: "displayName is required",
			Code:    string(internal.ErrCodeValidationFailed),
		})
	}
	if d.Role != "" && !rbac.Role(d.Role).Valid() {
		errs = append(errs, internal.ValidationError{
			Field:   "role",
			Message: "role must be one of admin, coordinator, agent",
			Code:    string(internal.ErrCodeInvalidRole),
		})
	}

	if len(errs) > 0 {
		return internal.NewValidationFieldsError(errs)
	}
	return nil
}

// UpdateUserDTO patches a profile. Only non-nil fields are written; email and
// password are immutable through this workflow.
type UpdateUserDTO struct {
	DisplayName *string `json:"displayName,omitempty"`
	Role        *string `json:"role,omitempty"`
	Department  *string `json:"department,omitempty"`
	IsActive    *bool   `json:"isActive,omitempty"`
}

func (d UpdateUserDTO) Validate() error {
	if d.Role != nil && !rbac.Role(*d.Role).Valid() {
		return internal.NewValidationFieldsError([]internal.ValidationError{{
			Field:   "role",
			Message: "role must be one of admin, coordinator, agent",
			Code:    string(internal.ErrCodeInvalidRole),
		}})
	}
	if d.DisplayName == nil && d.Role == nil && d.Department == nil && d.IsActive == nil {
		return internal.NewValidationError("no fields to update", internal.ErrCodeValidationFailed)
	}
	return nil
}

// Empty reports whether the patch carries no fields.
func (d UpdateUserDTO) Empty() bool {
	return d.DisplayName == nil && d.Role == nil && d.Department == nil && d.IsActive == nil
}
