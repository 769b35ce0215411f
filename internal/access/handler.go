package access

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/enlaces-epn/callcenter/internal"
	"github.com/enlaces-epn/callcenter/internal/authprovider"
	"github.com/enlaces-epn/callcenter/internal/rbac"
	"github.com/enlaces-epn/callcenter/internal/session"
	"github.com/enlaces-epn/callcenter/internal/transport"
	"github.com/enlaces-epn/callcenter/pkg/logger"
)

// Handler exposes sign-in and session inspection over HTTP. Each request
// resolves its own session from the bearer token; the in-process service
// state is not consulted.
type Handler struct {
	*transport.BaseHandler
	provider authprovider.Provider
	resolver *session.Resolver
}

func NewHandler(provider authprovider.Provider, resolver *session.Resolver) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		provider:    provider,
		resolver:    resolver,
	}
}

type LoginDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is the signed-in view of a session: who you are, what you
// may do and where you land.
type SessionResponse struct {
	Identity     authprovider.Identity `json:"identity"`
	Profile      interface{}           `json:"profile"`
	Role         rbac.Role             `json:"role"`
	Permissions  rbac.PermissionSet    `json:"permissions"`
	LandingRoute string                `json:"landingRoute"`
}

type loginResponse struct {
	Token string `json:"token"`
	SessionResponse
}

func sessionResponse(sess *session.Session) SessionResponse {
	return SessionResponse{
		Identity:     sess.Identity,
		Profile:      sess.Profile,
		Role:         sess.Role(),
		Permissions:  sess.Permissions(),
		LandingRoute: LandingRouteFor(sess),
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(dto.Email) == "" || dto.Password == "" {
		h.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	identity, token, err := h.provider.SignIn(r.Context(), dto.Email, dto.Password)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	sess := h.resolver.ResolveSession(r.Context(), identity)
	h.WriteJSON(w, http.StatusOK, loginResponse{
		Token:           token,
		SessionResponse: sessionResponse(sess),
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := h.ExtractTokenFromHeader(r)
	if token == "" {
		h.WriteError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	if _, err := h.provider.VerifyToken(r.Context(), token); err != nil {
		h.WriteAppError(w, err)
		return
	}

	if err := h.provider.SignOut(r.Context()); err != nil {
		h.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the resolved session for the calling token.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	h.WriteJSON(w, http.StatusOK, sessionResponse(sess))
}

// Guard evaluates a protected view for the calling session. Unknown
// capability names are denied, matching the fail-closed lookup.
func (h *Handler) Guard(w http.ResponseWriter, r *http.Request) {
	capability := r.URL.Query().Get("capability")
	if capability == "" {
		h.WriteError(w, http.StatusBadRequest, "capability query parameter is required")
		return
	}

	sess, _ := SessionFromContext(r.Context())
	h.WriteJSON(w, http.StatusOK, guardByName(sess, capability))
}

func guardByName(sess *session.Session, capability string) GuardDecision {
	if sess == nil {
		return GuardDecision{State: GuardDeniedUnauthenticated, Redirect: RouteLogin}
	}
	if sess.HasPermissionName(capability) {
		return GuardDecision{State: GuardGranted}
	}
	return GuardDecision{State: GuardDeniedUnauthorized}
}

// SessionMiddleware resolves the bearer token into a session and stores it
// on the request context. Requests without a valid token are rejected.
func (h *Handler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.ExtractTokenFromHeader(r)
		if token == "" {
			h.WriteError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		identity, err := h.provider.VerifyToken(r.Context(), token)
		if err != nil {
			if appErr, ok := internal.IsAppError(err); ok {
				h.WriteJSON(w, http.StatusUnauthorized, internal.Response{Error: appErr})
			} else {
				h.WriteError(w, http.StatusUnauthorized, "invalid token")
			}
			return
		}

		sess := h.resolver.ResolveSession(r.Context(), identity)
		ctx := logger.With(ContextWithSession(r.Context(), sess), "uid", identity.UID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalSessionMiddleware attaches a session when a valid token is present
// and lets the request through either way.
func (h *Handler) OptionalSessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.ExtractTokenFromHeader(r)
		if token != "" {
			if identity, err := h.provider.VerifyToken(r.Context(), token); err == nil {
				sess := h.resolver.ResolveSession(r.Context(), identity)
				r = r.WithContext(ContextWithSession(r.Context(), sess))
			}
		}
		next.ServeHTTP(w, r)
	})
}
