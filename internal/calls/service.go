// Package calls implements call intake, the call list, reporting and the
// CSV export behind the dashboard and reports views.
package calls

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/enlaces-epn/callcenter/internal"
	callDatamodel "github.com/enlaces-epn/callcenter/internal/core/datamodel/call"
	"github.com/enlaces-epn/callcenter/internal/events"
	"github.com/enlaces-epn/callcenter/internal/rbac"
	"github.com/enlaces-epn/callcenter/internal/session"
	"github.com/enlaces-epn/callcenter/internal/store"
)

type Service struct {
	records store.Store
	bus     *events.EventBus
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(records store.Store, bus *events.EventBus, logger *slog.Logger) *Service {
	return &Service{
		records: records,
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}
}

func requireCapability(acting *session.Session, c rbac.Capability) error {
	if acting == nil || !acting.HasPermission(c) {
		return internal.NewPermissionDeniedError(string(c))
	}
	return nil
}

// LogCall stores a new contact. The agent name defaults to the acting
// session's display name, matching how the form pre-fills it.
func (s *Service) LogCall(ctx context.Context, acting *session.Session, dto CreateCallDTO) (callDatamodel.Record, error) {
	if err := requireCapability(acting, rbac.CanFillForms); err != nil {
		return callDatamodel.Record{}, err
	}
	if err := dto.Validate(); err != nil {
		return callDatamodel.Record{}, err
	}

	now := s.now().UTC()
	rec := callDatamodel.Record{
		ID:              uuid.NewString(),
		Date:            dto.Date,
		Channel:         dto.Channel,
		CustomerName:    strings.TrimSpace(dto.CustomerName),
		NationalID:      dto.NationalID,
		Phone:           strings.TrimSpace(dto.Phone),
		Address:         dto.Address,
		Neighborhood:    dto.Neighborhood,
		ContractAccount: dto.ContractAccount,
		Category:        dto.Category,
		OrderClass:      dto.OrderClass,
		WorkOrderNumber: dto.WorkOrderNumber,
		Status:          dto.Status,
		Incident:        dto.Incident,
		Notes:           dto.Notes,
		AgentName:       dto.AgentName,
		CreatedAt:       now,
		CreatedBy:       acting.UID(),
	}
	if rec.Date.IsZero() {
		rec.Date = now
	}
	if rec.Channel == "" {
		rec.Channel = "LLAMADA"
	}
	if rec.AgentName == "" {
		rec.AgentName = acting.DisplayName()
	}

	if err := store.WriteJSON(ctx, s.records, store.CallPath(rec.ID), rec); err != nil {
		return callDatamodel.Record{}, internal.NewInternalError("failed to store call record", err)
	}

	s.logger.Info("call logged", "call_id", rec.ID, "category", rec.Category, "created_by", acting.UID())
	s.bus.Publish(ctx, events.New(events.CallLogged, map[string]interface{}{
		"call_id":    rec.ID,
		"category":   rec.Category,
		"created_by": acting.UID(),
	}))
	return rec, nil
}

// ListCalls returns the filtered call list, most recent first.
func (s *Service) ListCalls(ctx context.Context, acting *session.Session, filters ListFilters) ([]callDatamodel.Record, error) {
	if err := requireCapability(acting, rbac.CanViewCalls); err != nil {
		return nil, err
	}
	return s.listCalls(ctx, filters)
}

func (s *Service) GetCall(ctx context.Context, acting *session.Session, id string) (callDatamodel.Record, error) {
	if err := requireCapability(acting, rbac.CanViewCalls); err != nil {
		return callDatamodel.Record{}, err
	}

	var rec callDatamodel.Record
	found, err := store.ReadJSON(ctx, s.records, store.CallPath(id), &rec)
	if err != nil {
		return callDatamodel.Record{}, internal.NewInternalError("failed to read call record", err)
	}
	if !found {
		return callDatamodel.Record{}, internal.ErrCallNotFound
	}
	return rec, nil
}

// DeleteCall is restricted to the canDeleteCalls capability, which only the
// admin tier holds.
func (s *Service) DeleteCall(ctx context.Context, acting *session.Session, id string) error {
	if err := requireCapability(acting, rbac.CanDeleteCalls); err != nil {
		return err
	}

	raw, err := s.records.Read(ctx, store.CallPath(id))
	if err != nil {
		return internal.NewInternalError("failed to read call record", err)
	}
	if raw == nil {
		return internal.ErrCallNotFound
	}

	if err := s.records.Remove(ctx, store.CallPath(id)); err != nil {
		return internal.NewInternalError("failed to remove call record", err)
	}

	s.logger.Info("call deleted", "call_id", id, "deleted_by", acting.UID())
	s.bus.Publish(ctx, events.New(events.CallDeleted, map[string]interface{}{
		"call_id":    id,
		"deleted_by": acting.UID(),
	}))
	return nil
}

// WatchCalls re-lists on every change under calls/ and hands the fresh,
// unfiltered slice to cb.
func (s *Service) WatchCalls(ctx context.Context, acting *session.Session, cb func([]callDatamodel.Record)) (store.UnsubscribeFunc, error) {
	if err := requireCapability(acting, rbac.CanViewCalls); err != nil {
		return nil, err
	}

	unsubscribe, err := s.records.Subscribe(ctx, store.CallsCollection, func(store.Event) {
		recs, err := s.listCalls(ctx, ListFilters{})
		if err != nil {
			s.logger.Error("failed to reload calls after change", "error", err)
			return
		}
		cb(recs)
	})
	if err != nil {
		return nil, internal.NewInternalError("failed to subscribe to calls", err)
	}
	return unsubscribe, nil
}

// Stats is the aggregate view behind the reports page. Keys carry the wire
// names the deployed reports already use.
type Stats struct {
	TotalCalls  int            `json:"totalLlamadas"`
	ByCategory  map[string]int `json:"porGestion"`
	ByStatus    map[string]int `json:"porEstado"`
	ByAgent     map[string]int `json:"porAgente"`
	ByChannel   map[string]int `json:"porMedio"`
	DailyAvg    float64        `json:"promedioPorDia"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

// ComputeStats aggregates the filtered calls. The daily average divides by
// the number of days in the current month, as the reports page always has.
func (s *Service) ComputeStats(ctx context.Context, acting *session.Session, filters ListFilters) (Stats, error) {
	if err := requireCapability(acting, rbac.CanViewReports); err != nil {
		return Stats{}, err
	}

	recs, err := s.listCalls(ctx, filters)
	if err != nil {
		return Stats{}, err
	}

	now := s.now()
	stats := Stats{
		TotalCalls:  len(recs),
		ByCategory:  map[string]int{},
		ByStatus:    map[string]int{},
		ByAgent:     map[string]int{},
		ByChannel:   map[string]int{},
		GeneratedAt: now.UTC(),
	}
	for _, rec := range recs {
		stats.ByCategory[rec.Category]++
		stats.ByStatus[rec.Status]++
		stats.ByAgent[rec.AgentName]++
		stats.ByChannel[rec.Channel]++
	}

	daysInMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, now.Location()).Day()
	stats.DailyAvg = math.Round(float64(len(recs))/float64(daysInMonth)*10) / 10

	return stats, nil
}

// Summary backs the dashboard metric cards.
type Summary struct {
	TotalCalls    int       `json:"totalCalls"`
	TodayCalls    int       `json:"todayCalls"`
	PendingCalls  int       `json:"pendingCalls"`
	ResolvedCalls int       `json:"resolvedCalls"`
	GeneratedAt   time.Time `json:"generatedAt"`
}

// DashboardSummary counts all calls, today's calls, and the open/closed
// split across every record.
func (s *Service) DashboardSummary(ctx context.Context, acting *session.Session) (Summary, error) {
	if err := requireCapability(acting, rbac.CanViewDashboard); err != nil {
		return Summary{}, err
	}

	recs, err := s.listCalls(ctx, ListFilters{})
	if err != nil {
		return Summary{}, err
	}

	now := s.now()
	summary := Summary{
		TotalCalls:  len(recs),
		GeneratedAt: now.UTC(),
	}
	for _, rec := range recs {
		y, m, d := rec.Date.In(now.Location()).Date()
		ny, nm, nd := now.Date()
		if y == ny && m == nm && d == nd {
			summary.TodayCalls++
		}
		switch rec.Status {
		case "PENDIENTE", "ABIERTO", "EN PROCESO":
			summary.PendingCalls++
		case "RESUELTO", "CERRADO":
			summary.ResolvedCalls++
		}
	}
	return summary, nil
}

var csvHeader = []string{
	"Fecha", "Medio", "Nombre Usuario", "Cédula", "Teléfono", "Dirección",
	"Barrio", "Cuenta/Contrato", "Gestión", "Clase Orden", "Número OT",
	"Estado", "Incidencia", "Observaciones", "Agente",
}

// ExportCSV streams the filtered calls with the same columns the spreadsheet
// export has always produced.
func (s *Service) ExportCSV(ctx context.Context, acting *session.Session, filters ListFilters, w io.Writer) error {
	if err := requireCapability(acting, rbac.CanViewReports); err != nil {
		return err
	}

	recs, err := s.listCalls(ctx, filters)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return internal.NewInternalError("failed to write export", err)
	}
	for _, rec := range recs {
		row := []string{
			rec.Date.Format("02/01/2006 15:04"),
			rec.Channel,
			rec.CustomerName,
			rec.NationalID,
			rec.Phone,
			rec.Address,
			rec.Neighborhood,
			rec.ContractAccount,
			rec.Category,
			rec.OrderClass,
			rec.WorkOrderNumber,
			rec.Status,
			rec.Incident,
			rec.Notes,
			rec.AgentName,
		}
		if err := cw.Write(row); err != nil {
			return internal.NewInternalError("failed to write export", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return internal.NewInternalError("failed to write export", err)
	}
	return nil
}

// ExportFileName stamps the download the way the old spreadsheet export did.
func (s *Service) ExportFileName() string {
	return fmt.Sprintf("reporte_llamadas_%s.csv", s.now().Format("02012006_1504"))
}

func (s *Service) listCalls(ctx context.Context, filters ListFilters) ([]callDatamodel.Record, error) {
	raw, err := s.records.List(ctx, store.CallsCollection)
	if err != nil {
		return nil, internal.NewInternalError("failed to list calls", err)
	}

	now := s.now()
	recs := make([]callDatamodel.Record, 0, len(raw))
	for path, value := range raw {
		var rec callDatamodel.Record
		if err := json.Unmarshal(value, &rec); err != nil {
			s.logger.Warn("skipping undecodable call record", "path", path, "error", err)
			continue
		}
		if rec.ID == "" {
			rec.ID = strings.TrimPrefix(path, store.CallsCollection+"/")
		}
		if filters.matches(rec, now) {
			recs = append(recs, rec)
		}
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Date.After(recs[j].Date) })
	return recs, nil
}
