// Package authprovider defines the boundary to the identity service. The RBAC
// core consumes it as a black box: credential verification, account
// provisioning and session-transition notifications.
package authprovider

import "context"

// Identity is the provider's view of an authenticated principal.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// StateHandler receives every session transition: the new identity on
// sign-in, nil on sign-out. Deliveries are serial, never overlapping.
type StateHandler func(identity *Identity)

// UnsubscribeFunc releases a state-change registration. Calling it twice is a
// no-op.
type UnsubscribeFunc func()

type Provider interface {
	// SignIn verifies credentials and returns the identity plus a bearer token
	// for subsequent requests. Fails with internal.ErrInvalidCredentials,
	// internal.ErrTooManyAttempts or internal.ErrAccountDisabled.
	SignIn(ctx context.Context, email, password string) (Identity, string, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(handler StateHandler) UnsubscribeFunc
	// CreateAccount provisions a credential. Fails with internal.ErrEmailInUse
	// or a weak-password validation error.
	CreateAccount(ctx context.Context, email, password string) (Identity, error)
	UpdateDisplayName(ctx context.Context, uid, name string) error
	// VerifyToken resolves a bearer token back to its identity.
	VerifyToken(ctx context.Context, token string) (Identity, error)
}
