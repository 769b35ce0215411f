package calls

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/enlaces-epn/callcenter/internal"
	"github.com/enlaces-epn/callcenter/internal/authprovider"
	callDatamodel "github.com/enlaces-epn/callcenter/internal/core/datamodel/call"
	userDatamodel "github.com/enlaces-epn/callcenter/internal/core/datamodel/user"
	"github.com/enlaces-epn/callcenter/internal/events"
	"github.com/enlaces-epn/callcenter/internal/rbac"
	"github.com/enlaces-epn/callcenter/internal/session"
	"github.com/enlaces-epn/callcenter/internal/store/memory"
	"github.com/enlaces-epn/callcenter/pkg/logger"
)

func TestCalls(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Calls Suite")
}

func actingAs(uid, name, role string) *session.Session {
	return &session.Session{
		Identity: authprovider.Identity{UID: uid, Email: uid + "@epn.ec"},
		Profile: userDatamodel.Profile{
			Email:       uid + "@epn.ec",
			DisplayName: name,
			Role:        role,
			IsActive:    true,
		},
	}
}

var _ = ginkgo.Describe("Calls service", func() {
	var (
		ctx     context.Context
		svc     *Service
		agent   *session.Session
		admin   *session.Session
		nowFunc func() time.Time
	)

	fixedNow := time.Date(2024, time.April, 15, 10, 30, 0, 0, time.UTC)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		nowFunc = func() time.Time { return fixedNow }
		bus := events.NewEventBus(logger.LoggerWrapper())
		svc = NewService(memory.New(), bus, logger.LoggerWrapper())
		svc.now = nowFunc
		agent = actingAs("agent-1", "Rosa Pérez", string(rbac.RoleAgent))
		admin = actingAs("admin-1", "Admin", string(rbac.RoleAdmin))
	})

	logCall := func(acting *session.Session, dto CreateCallDTO) string {
		rec, err := svc.LogCall(ctx, acting, dto)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		return rec.ID
	}

	baseDTO := func() CreateCallDTO {
		return CreateCallDTO{
			Date:         fixedNow,
			Channel:      "LLAMADA",
			CustomerName: "Juan Pardo",
			Phone:        "3001234567",
			Category:     "RECLAMO",
			Status:       "ABIERTO",
		}
	}

	ginkgo.Describe("LogCall", func() {
		ginkgo.It("stores the record with audit fields and defaults", func() {
			dto := baseDTO()
			dto.Channel = ""
			dto.AgentName = ""

			rec, err := svc.LogCall(ctx, agent, dto)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(rec.ID).NotTo(gomega.BeEmpty())
			gomega.Expect(rec.Channel).To(gomega.Equal("LLAMADA"))
			gomega.Expect(rec.AgentName).To(gomega.Equal("Rosa Pérez"))
			gomega.Expect(rec.CreatedBy).To(gomega.Equal("agent-1"))
			gomega.Expect(rec.CreatedAt).To(gomega.Equal(fixedNow))

			got, err := svc.GetCall(ctx, agent, rec.ID)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(got.CustomerName).To(gomega.Equal("Juan Pardo"))
		})

		ginkgo.It("reports every missing mandatory field at once", func() {
			_, err := svc.LogCall(ctx, agent, CreateCallDTO{})

			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			details, ok := appErr.Details.(internal.ValidationErrors)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(details.Fields()).To(gomega.ConsistOf("nombreUsuario", "telefono", "gestion"))
		})

		ginkgo.It("rejects values outside the closed selects", func() {
			dto := baseDTO()
			dto.Channel = "TELEGRAMA"
			dto.Status = "PERDIDO"

			_, err := svc.LogCall(ctx, agent, dto)
			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			details := appErr.Details.(internal.ValidationErrors)
			gomega.Expect(details.Fields()).To(gomega.ConsistOf("medio", "estado"))
		})

		ginkgo.It("requires a session", func() {
			_, err := svc.LogCall(ctx, nil, baseDTO())
			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodePermissionDenied))
		})
	})

	ginkgo.Describe("listing and filters", func() {
		ginkgo.BeforeEach(func() {
			d1 := baseDTO()
			d1.CustomerName = "Ana Ruiz"
			d1.Category = "FACTURACION"
			d1.AgentName = "Rosa Pérez"
			d1.Date = fixedNow.AddDate(0, 0, -1)
			logCall(agent, d1)

			d2 := baseDTO()
			d2.CustomerName = "Pedro Gómez"
			d2.Category = "RECLAMO"
			d2.AgentName = "Luis Vera"
			d2.Date = fixedNow
			logCall(agent, d2)

			d3 := baseDTO()
			d3.CustomerName = "Marta Díaz"
			d3.Category = "RECLAMO"
			d3.AgentName = "Luis Vera"
			d3.Date = fixedNow.AddDate(0, -2, 0)
			logCall(agent, d3)
		})

		ginkgo.It("sorts the unfiltered list most recent first", func() {
			recs, err := svc.ListCalls(ctx, agent, ListFilters{})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(recs).To(gomega.HaveLen(3))
			gomega.Expect(recs[0].CustomerName).To(gomega.Equal("Pedro Gómez"))
			gomega.Expect(recs[2].CustomerName).To(gomega.Equal("Marta Díaz"))
		})

		ginkgo.It("filters by category and agent substring", func() {
			recs, err := svc.ListCalls(ctx, agent, ListFilters{Category: "RECLAMO", AgentName: "luis"})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(recs).To(gomega.HaveLen(2))
		})

		ginkgo.It("filters by free-text search over name, phone and notes", func() {
			recs, err := svc.ListCalls(ctx, agent, ListFilters{Search: "marta"})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(recs).To(gomega.HaveLen(1))
			gomega.Expect(recs[0].CustomerName).To(gomega.Equal("Marta Díaz"))
		})

		ginkgo.It("restricts to the current month", func() {
			recs, err := svc.ListCalls(ctx, agent, ListFilters{Period: PeriodCurrentMonth})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(recs).To(gomega.HaveLen(2))
		})
	})

	ginkgo.Describe("DeleteCall", func() {
		var id string

		ginkgo.BeforeEach(func() {
			id = logCall(agent, baseDTO())
		})

		ginkgo.It("removes the record for an admin", func() {
			gomega.Expect(svc.DeleteCall(ctx, admin, id)).To(gomega.Succeed())
			_, err := svc.GetCall(ctx, admin, id)
			gomega.Expect(err).To(gomega.MatchError(internal.ErrCallNotFound))
		})

		ginkgo.It("denies agents and coordinators", func() {
			coordinator := actingAs("coord-1", "Coord", string(rbac.RoleCoordinator))
			for _, acting := range []*session.Session{agent, coordinator} {
				err := svc.DeleteCall(ctx, acting, id)
				appErr, ok := internal.IsAppError(err)
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodePermissionDenied))
			}
		})

		ginkgo.It("fails with not-found for an unknown id", func() {
			err := svc.DeleteCall(ctx, admin, "no-such-call")
			gomega.Expect(err).To(gomega.MatchError(internal.ErrCallNotFound))
		})
	})

	ginkgo.Describe("reports", func() {
		coordinator := actingAs("coord-1", "Coord", string(rbac.RoleCoordinator))

		ginkgo.BeforeEach(func() {
			for i, cat := range []string{"RECLAMO", "RECLAMO", "FACTURACION"} {
				dto := baseDTO()
				dto.Category = cat
				dto.AgentName = "Rosa Pérez"
				dto.Date = fixedNow.AddDate(0, 0, -i)
				logCall(agent, dto)
			}
		})

		ginkgo.It("aggregates totals by category, status, agent and channel", func() {
			stats, err := svc.ComputeStats(ctx, coordinator, ListFilters{})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(stats.TotalCalls).To(gomega.Equal(3))
			gomega.Expect(stats.ByCategory).To(gomega.Equal(map[string]int{"RECLAMO": 2, "FACTURACION": 1}))
			gomega.Expect(stats.ByAgent).To(gomega.Equal(map[string]int{"Rosa Pérez": 3}))
			gomega.Expect(stats.ByChannel).To(gomega.Equal(map[string]int{"LLAMADA": 3}))
			// April has 30 days: 3/30 rounded to one decimal
			gomega.Expect(stats.DailyAvg).To(gomega.Equal(0.1))
		})

		ginkgo.It("denies agents the report view", func() {
			_, err := svc.ComputeStats(ctx, agent, ListFilters{})
			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodePermissionDenied))
		})

		ginkgo.It("exports the filtered calls as CSV with the legacy columns", func() {
			var buf bytes.Buffer
			err := svc.ExportCSV(ctx, coordinator, ListFilters{Category: "FACTURACION"}, &buf)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			gomega.Expect(lines).To(gomega.HaveLen(2))
			gomega.Expect(lines[0]).To(gomega.ContainSubstring("Nombre Usuario"))
			gomega.Expect(lines[0]).To(gomega.ContainSubstring("Cuenta/Contrato"))
			gomega.Expect(lines[1]).To(gomega.ContainSubstring("FACTURACION"))
		})
	})

	ginkgo.Describe("DashboardSummary", func() {
		coordinator := actingAs("coord-2", "Coord", string(rbac.RoleCoordinator))

		ginkgo.BeforeEach(func() {
			today := baseDTO()
			today.Status = "PENDIENTE"
			logCall(agent, today)

			yesterday := baseDTO()
			yesterday.Date = fixedNow.AddDate(0, 0, -1)
			yesterday.Status = "RESUELTO"
			logCall(agent, yesterday)

			lastWeek := baseDTO()
			lastWeek.Date = fixedNow.AddDate(0, 0, -7)
			lastWeek.Status = "CANCELADO"
			logCall(agent, lastWeek)
		})

		ginkgo.It("counts totals, today's calls and the open/closed split", func() {
			summary, err := svc.DashboardSummary(ctx, coordinator)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(summary.TotalCalls).To(gomega.Equal(3))
			gomega.Expect(summary.TodayCalls).To(gomega.Equal(1))
			gomega.Expect(summary.PendingCalls).To(gomega.Equal(1))
			gomega.Expect(summary.ResolvedCalls).To(gomega.Equal(1))
		})

		ginkgo.It("denies agents the dashboard", func() {
			_, err := svc.DashboardSummary(ctx, agent)
			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodePermissionDenied))
		})
	})

	ginkgo.Describe("WatchCalls", func() {
		ginkgo.It("hands watchers the fresh list after a change", func() {
			var snapshots [][]callDatamodel.Record
			unsubscribe, err := svc.WatchCalls(ctx, agent, func(recs []callDatamodel.Record) {
				snapshots = append(snapshots, recs)
			})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			defer unsubscribe()

			logCall(agent, baseDTO())

			gomega.Eventually(func() int { return len(snapshots) }).Should(gomega.BeNumerically(">=", 1))
			gomega.Expect(snapshots[len(snapshots)-1]).To(gomega.HaveLen(1))
		})

		ginkgo.It("denies watchers without the view capability", func() {
			_, err := svc.WatchCalls(ctx, nil, func([]callDatamodel.Record) {})
			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodePermissionDenied))
		})
	})
})
