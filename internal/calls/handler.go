package calls

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi"

	"github.com/enlaces-epn/callcenter/internal/access"
	callDatamodel "github.com/enlaces-epn/callcenter/internal/core/datamodel/call"
	"github.com/enlaces-epn/callcenter/internal/transport"
	"github.com/enlaces-epn/callcenter/pkg/logger"
)

type Handler struct {
	*transport.BaseHandler
	Service *Service
}

func NewHandler(svc *Service) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
	}
}

// CreateCall handles POST /calls
func (h *Handler) CreateCall(w http.ResponseWriter, r *http.Request) {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var dto CreateCallDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.Service.LogCall(r.Context(), sess, dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, rec)
}

// ListCalls handles GET /calls
func (h *Handler) ListCalls(w http.ResponseWriter, r *http.Request) {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	recs, err := h.Service.ListCalls(r.Context(), sess, filtersFromQuery(r.URL.Query()))
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, recs)
}

// GetCall handles GET /calls/{id}
func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rec, err := h.Service.GetCall(r.Context(), sess, chi.URLParam(r, "id"))
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, rec)
}

// DeleteCall handles DELETE /calls/{id}
func (h *Handler) DeleteCall(w http.ResponseWriter, r *http.Request) {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.Service.DeleteCall(r.Context(), sess, chi.URLParam(r, "id")); err != nil {
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// FormOptions handles GET /calls/options; it feeds the intake form's selects.
func (h *Handler) FormOptions(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, map[string][]string{
		"medio":      callDatamodel.Channels,
		"gestion":    callDatamodel.Categories,
		"claseOrden": callDatamodel.OrderClasses,
		"estado":     callDatamodel.Statuses,
		"barrio":     callDatamodel.Neighborhoods,
	})
}

// Dashboard handles GET /dashboard/summary
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	summary, err := h.Service.DashboardSummary(r.Context(), sess)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, summary)
}

// Watch handles GET /calls/watch; it streams the full call list as a
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

	updates := make(chan []callDatamodel.Record, 1)
	unsubscribe, err := h.Service.WatchCalls(r.Context(), sess, func(recs []callDatamodel.Record) {
		select {
		case updates <- recs:
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
		case recs := <-updates:
			payload, err := json.Marshal(recs)
			if err != nil {
				h.Logger.Error("failed to encode call snapshot", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: calls\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// Stats handles GET /reports/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := h.Service.ComputeStats(r.Context(), sess, filtersFromQuery(r.URL.Query()))
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, stats)
}

// Export handles GET /reports/export; the response is a CSV download.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var buf bytes.Buffer
	if err := h.Service.ExportCSV(r.Context(), sess, filtersFromQuery(r.URL.Query()), &buf); err != nil {
		h.WriteAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.Service.ExportFileName()))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.Logger.Error("csv export write failed", "error", err)
	}
}

func filtersFromQuery(q url.Values) ListFilters {
	filters := ListFilters{
		Search:    q.Get("search"),
		Category:  q.Get("gestion"),
		Status:    q.Get("estado"),
		Channel:   q.Get("medio"),
		AgentName: q.Get("agente"),
		Period:    Period(q.Get("periodo")),
	}
	if t, ok := parseDate(q.Get("fechaInicio")); ok {
		filters.DateFrom = &t
	}
	if t, ok := parseDate(q.Get("fechaFin")); ok {
		filters.DateTo = &t
	}
	return filters
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
