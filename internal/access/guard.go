package access

import (
	"github.com/enlaces-epn/callcenter/internal/rbac"
	"github.com/enlaces-epn/callcenter/internal/session"
)

// GuardState is the outcome of evaluating a protected view against the
// active session.
type GuardState string

const (
	// GuardPending means session resolution has not completed. Consumers must
	// not redirect to sign-in from this state.
	GuardPending GuardState = "PENDING"
	// GuardGranted allows the view to render.
	GuardGranted GuardState = "GRANTED"
	// GuardDeniedUnauthenticated is terminal until a fresh sign-in; it is the
	// only state that redirects to the sign-in entry point.
	GuardDeniedUnauthenticated GuardState = "DENIED_UNAUTHENTICATED"
	// GuardDeniedUnauthorized renders an inline denial in place of the view.
	// A signed-in user is told about the restriction, never silently
	// redirected.
	GuardDeniedUnauthorized GuardState = "DENIED_UNAUTHORIZED"
)

// GuardDecision carries the state plus the redirect target when one applies.
type GuardDecision struct {
	State    GuardState `json:"state"`
	Redirect string     `json:"redirect,omitempty"`
}

// EvaluateGuard decides whether a view requiring the given capability may
// render. Pure and side-effect free; safe to re-run on every render.
func EvaluateGuard(loading bool, sess *session.Session, required rbac.Capability) GuardDecision {
	if loading {
		return GuardDecision{State: GuardPending}
	}
	if sess == nil {
		return GuardDecision{State: GuardDeniedUnauthenticated, Redirect: RouteLogin}
	}
	if sess.HasPermission(required) {
		return GuardDecision{State: GuardGranted}
	}
	return GuardDecision{State: GuardDeniedUnauthorized}
}

// Evaluate runs the guard against the service's current session.
func (s *Service) Evaluate(required rbac.Capability) GuardDecision {
	return EvaluateGuard(s.Loading(), s.CurrentSession(), required)
}
