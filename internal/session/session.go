package session

import (
	"github.com/enlaces-epn/callcenter/internal/authprovider"
	userDatamodel "github.com/enlaces-epn/callcenter/internal/core/datamodel/user"
	"github.com/enlaces-epn/callcenter/internal/rbac"
)

// Session binds an authenticated identity to its profile for the lifetime of
// the sign-in. Values are immutable once published; a new Session replaces
// the old one wholesale, so readers never see a mixed identity/profile pair.
type Session struct {
	Identity authprovider.Identity `json:"identity"`
	Profile  userDatamodel.Profile `json:"profile"`
}

func (s *Session) UID() string {
	return s.Identity.UID
}

// Role degrades a missing or unrecognized profile role to agent.
func (s *Session) Role() rbac.Role {
	if s == nil {
		return rbac.DefaultRole
	}
	return s.Profile.EffectiveRole()
}

// Permissions derives the effective permission set. Never a zero value: the
// fallback is always the agent set, not an elevated or empty one.
func (s *Session) Permissions() rbac.PermissionSet {
	return rbac.PermissionsFor(s.Role())
}

func (s *Session) HasPermission(c rbac.Capability) bool {
	return s.Permissions().Has(c)
}

// HasPermissionName is the fail-closed string lookup: capability names outside
// the declared set are denied.
func (s *Session) HasPermissionName(name string) bool {
	return s.Permissions().HasName(name)
}

// DisplayName prefers the profile's name over the credential's.
func (s *Session) DisplayName() string {
	if s == nil {
		return ""
	}
	if s.Profile.DisplayName != "" {
		return s.Profile.DisplayName
	}
	if s.Identity.DisplayName != "" {
		return s.Identity.DisplayName
	}
	return s.Identity.Email
}
