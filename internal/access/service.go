// Package access is the single source of truth for what the current session
// may do: effective permissions, role checks, the landing route and the
// per-view guard.
package access

import (
	"context"
	"log/slog"
	"sync"

	"github.com/enlaces-epn/callcenter/internal/authprovider"
	"github.com/enlaces-epn/callcenter/internal/rbac"
	"github.com/enlaces-epn/callcenter/internal/session"
)

// Application routes, in landing priority order.
const (
	RouteDashboard = "/dashboard"
	RouteNewCall   = "/new-call"
	RouteCalls     = "/calls"
	RouteReports   = "/reports"
	RouteSettings  = "/settings"
	RouteUsers     = "/users"
	RouteLogin     = "/login"
)

// Service holds the active session behind a lock so the swap is atomic:
// readers never observe a mixed old-identity/new-profile pair. One instance
// per process, threaded explicitly to consumers.
type Service struct {
	resolver *session.Resolver
	provider authprovider.Provider
	logger   *slog.Logger

	mu      sync.RWMutex
	current *session.Session

	unsub func()
}

func NewService(resolver *session.Resolver, provider authprovider.Provider, logger *slog.Logger) *Service {
	s := &Service{
		resolver: resolver,
		provider: provider,
		logger:   logger,
	}
	s.unsub = resolver.OnSessionChange(func(sess *session.Session) {
		s.mu.Lock()
		s.current = sess
		s.mu.Unlock()

		if sess != nil {
			logger.Info("session established", "uid", sess.UID(), "role", sess.Role())
		} else {
			logger.Info("session cleared")
		}
	})
	return s
}

// Close releases the resolver subscription.
func (s *Service) Close() {
	if s.unsub != nil {
		s.unsub()
	}
}

func (s *Service) CurrentSession() *session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// IsAuthenticated reports a non-nil session, independent of loading state.
func (s *Service) IsAuthenticated() bool {
	return s.CurrentSession() != nil
}

// Loading reports whether a session transition is still resolving.
func (s *Service) Loading() bool {
	return s.resolver.Loading()
}

// EffectivePermissions is never a surprise value: no session, a missing role
// or an unrecognized role all resolve to the agent set.
func (s *Service) EffectivePermissions() rbac.PermissionSet {
	return s.CurrentSession().Permissions()
}

func (s *Service) HasPermission(c rbac.Capability) bool {
	return s.EffectivePermissions().Has(c)
}

// HasPermissionName denies capability names outside the declared set.
func (s *Service) HasPermissionName(name string) bool {
	return s.EffectivePermissions().HasName(name)
}

func (s *Service) IsRole(role rbac.Role) bool {
	return s.CurrentSession().Role() == role
}

// SignOut delegates to the auth provider; the session clears when the
// provider's sign-out notification arrives.
func (s *Service) SignOut(ctx context.Context) error {
	return s.provider.SignOut(ctx)
}

// LandingRoute picks the first route the current session can see, in fixed
// priority order: dashboard, then call entry, then the call list. Higher
// privilege lands on the more informative page.
func (s *Service) LandingRoute() string {
	return LandingRouteFor(s.CurrentSession())
}

// LandingRouteFor is the pure form of LandingRoute, usable against any
// session value (including a per-request one).
func LandingRouteFor(sess *session.Session) string {
	if sess == nil {
		return RouteLogin
	}
	perms := sess.Permissions()
	switch {
	case perms.CanViewDashboard:
		return RouteDashboard
	case perms.CanFillForms:
		return RouteNewCall
	case perms.CanViewCalls:
		return RouteCalls
	default:
		return RouteLogin
	}
}
