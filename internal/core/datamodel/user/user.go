package user

import (
	"time"

	"github.com/enlaces-epn/callcenter/internal/rbac"
)

// Profile is the durable user record stored at users/{uid}. The store owns
// the durable copy; sessions hold a read-only cached one.
type Profile struct {
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	Department  string    `json:"department,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
	UpdatedBy   string    `json:"updatedBy,omitempty"`
}

// EffectiveRole degrades an absent or unrecognized stored role to agent.
func (p Profile) EffectiveRole() rbac.Role {
	return rbac.ParseRole(p.Role)
}

// Minimal returns the synthesized least-privilege profile attached to an
// authenticated identity whose record is missing or unreadable.
func Minimal(email, displayName string) Profile {
	return Profile{
		Email:       email,
		DisplayName: displayName,
		Role:        string(rbac.DefaultRole),
		IsActive:    true,
	}
}
