package useradmin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/enlaces-epn/callcenter/internal/access"
	"github.com/enlaces-epn/callcenter/internal/authprovider"
	"github.com/enlaces-epn/callcenter/internal/session"
	"github.com/enlaces-epn/callcenter/internal/store"
	"github.com/enlaces-epn/callcenter/internal/transport"
	"github.com/enlaces-epn/callcenter/pkg/logger"
)

type ServiceAPI interface {
	CreateUser(ctx context.Context, acting *session.Session, dto CreateUserDTO) (authprovider.Identity, error)
	UpdateUser(ctx context.Context, acting *session.Session, uid string, dto UpdateUserDTO) error
	DeleteUser(ctx context.Context, acting *session.Session, uid string) error
	GetUser(ctx context.Context, acting *session.Session, uid string) (UserRecord, error)
	ListUsers(ctx context.Context, acting *session.Session) ([]UserRecord, error)
	WatchUsers(ctx context.Context, acting *session.Session, cb func([]UserRecord)) (store.UnsubscribeFunc, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(svc ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
	}
}

// CreateUser handles POST /users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var dto CreateUserDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	identity, err := h.Service.CreateUser(r.Context(), sess, dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, identity)
}

// ListUsers handles GET /users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	users, err := h.Service.ListUsers(r.Context(), sess)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, users)
}

// GetUser handles GET /users/{uid}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.Service.GetUser(r.Context(), sess, chi.URLParam(r, "uid"))
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, user)
}

// UpdateUser handles PATCH /users/{uid}
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var dto UpdateUserDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Service.UpdateUser(r.Context(), sess, chi.URLParam(r, "uid"), dto); err != nil {
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Watch handles GET /users/watch; it streams the full user list as a
// server-sent event on every change until the client disconnects.
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates := make(chan []UserRecord, 1)
	unsubscribe, err := h.Service.WatchUsers(r.Context(), sess, func(users []UserRecord) {
		select {
		case updates <- users:
		default:
		}
	})
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case users := <-updates:
			payload, err := json.Marshal(users)
			if err != nil {
				h.Logger.Error("failed to encode user snapshot", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: users\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// DeleteUser handles DELETE /users/{uid}
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.Service.DeleteUser(r.Context(), sess, chi.URLParam(r, "uid")); err != nil {
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
