package access

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/enlaces-epn/callcenter/internal/rbac"
)

// Authorization gates route groups on a single capability. It runs the same
// decision logic the views use, so HTTP and UI can never disagree about who
// sees what.
type Authorization struct {
	logger *slog.Logger
}

func NewAuthorization(logger *slog.Logger) *Authorization {
	return &Authorization{logger: logger}
}

// Require denies the request unless the context session holds the
// capability. Missing session yields 401 with the sign-in redirect; an
// authenticated session without the capability yields 403 and no redirect.
func (a *Authorization) Require(capability rbac.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, _ := SessionFromContext(r.Context())
			decision := EvaluateGuard(false, sess, capability)

			switch decision.State {
			case GuardGranted:
				next.ServeHTTP(w, r)
			case GuardDeniedUnauthenticated:
				a.logger.WarnContext(r.Context(), "access denied: not signed in",
					"path", r.URL.Path, "required_capability", capability)
				writeDecision(w, http.StatusUnauthorized, decision)
			default:
				a.logger.WarnContext(r.Context(), "access denied: insufficient permissions",
					"path", r.URL.Path,
					"uid", sess.UID(),
					"role", sess.Role(),
					"required_capability", capability)
				writeDecision(w, http.StatusForbidden, decision)
			}
		})
	}
}

func writeDecision(w http.ResponseWriter, status int, decision GuardDecision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(decision)
}
