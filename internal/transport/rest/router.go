package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/enlaces-epn/callcenter/internal/access"
	"github.com/enlaces-epn/callcenter/internal/calls"
	"github.com/enlaces-epn/callcenter/internal/rbac"
	"github.com/enlaces-epn/callcenter/internal/settings"
	"github.com/enlaces-epn/callcenter/internal/store"
	"github.com/enlaces-epn/callcenter/internal/transport/middleware"
	"github.com/enlaces-epn/callcenter/internal/transport/swagger"
	"github.com/enlaces-epn/callcenter/internal/useradmin"
)

// RegisterAllRoutes wires every handler under /api/v1. Route groups are
// gated on the same capabilities the views check, so a stale or bypassed UI
// gate never widens access.
func RegisterAllRoutes(
	router *chi.Mux,
	records store.Store,
	accessHandler *access.Handler,
	authz *access.Authorization,
	userHandler *useradmin.Handler,
	callHandler *calls.Handler,
	settingsHandler *settings.Handler,
	allowedOrigins []string,
	logger *slog.Logger,
) {
	healthHandler := NewHealthHandler(records)

	router.Use(middleware.CORS(allowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	// OpenAPI spec and Swagger UI live outside the API prefix
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		r.Route("/auth", func(sr chi.Router) {
			sr.Post("/login", accessHandler.Login)
			sr.Post("/logout", accessHandler.Logout)
		})

		// the guard endpoint answers for signed-out callers too
		r.Group(func(gr chi.Router) {
			gr.Use(accessHandler.OptionalSessionMiddleware)
			gr.Get("/session/guard", accessHandler.Guard)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(accessHandler.SessionMiddleware)

			pr.Get("/session", accessHandler.Me)
			pr.Get("/settings", settingsHandler.GetSettings)
			pr.Get("/calls/options", callHandler.FormOptions)

			pr.Group(func(cr chi.Router) {
				cr.Use(authz.Require(rbac.CanFillForms))
				cr.Post("/calls", callHandler.CreateCall)
			})

			pr.Group(func(cr chi.Router) {
				cr.Use(authz.Require(rbac.CanViewCalls))
				cr.Get("/calls", callHandler.ListCalls)
				cr.Get("/calls/watch", callHandler.Watch)
				cr.Get("/calls/{id}", callHandler.GetCall)
			})

			pr.Group(func(cr chi.Router) {
				cr.Use(authz.Require(rbac.CanDeleteCalls))
				cr.Delete("/calls/{id}", callHandler.DeleteCall)
			})

			pr.Group(func(dr chi.Router) {
				dr.Use(authz.Require(rbac.CanViewDashboard))
				dr.Get("/dashboard/summary", callHandler.Dashboard)
			})

			pr.Group(func(rr chi.Router) {
				rr.Use(authz.Require(rbac.CanViewReports))
				rr.Get("/reports/stats", callHandler.Stats)
				rr.Get("/reports/export", callHandler.Export)
			})

			pr.Group(func(ur chi.Router) {
				ur.Use(authz.Require(rbac.CanCreateUsers))
				ur.Post("/users", userHandler.CreateUser)
				ur.Get("/users", userHandler.ListUsers)
				ur.Get("/users/watch", userHandler.Watch)
				ur.Get("/users/{uid}", userHandler.GetUser)
				ur.Patch("/users/{uid}", userHandler.UpdateUser)
				ur.Delete("/users/{uid}", userHandler.DeleteUser)
			})

			pr.Group(func(sr chi.Router) {
				sr.Use(authz.Require(rbac.CanManageSettings))
				sr.Put("/settings", settingsHandler.UpdateSettings)
			})
		})
	})
}
