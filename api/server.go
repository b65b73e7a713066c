/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     zap request log
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /api/leaves/*         Applications and workflow decisions
  /api/employees/*      Directory and balances
  /api/departments      Directory
  /api/policies/*       Leave policies
  /api/admin/*          Year-start initialization
  /api/scenarios/*      Demo scenarios (only when enabled)
  /metrics              Prometheus
  /healthz              Liveness and store reachability

  Everything under /api except scenarios needs the X-Employee-ID header.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Actor resolution and request logging
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	// Demo mounts /api/scenarios.
	Demo bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", ActorHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if opts.Demo {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(h.withActor)

			// Leave applications
			r.Route("/leaves", func(r chi.Router) {
				r.Get("/", h.ListLeaves)
				r.Post("/", h.SubmitLeave)
				r.Get("/{id}", h.GetLeave)
				r.Put("/{id}", h.UpdateLeave)
				r.Post("/{id}/cancel", h.CancelLeave)
				r.Post("/{id}/decision", h.DecideLeave)
			})

			// Directory and balances
			r.Route("/employees", func(r chi.Router) {
				r.Post("/", h.CreateEmployee)
				r.Get("/{id}", h.GetEmployee)
				r.Get("/{id}/balances", h.ListBalances)
				r.Get("/{id}/balances/{leaveType}", h.GetBalance)
			})
			r.Post("/departments", h.CreateDepartment)

			// Policies
			r.Route("/policies", func(r chi.Router) {
				r.Get("/", h.ListPolicies)
				r.Get("/export", h.ExportPolicies)
				r.Post("/import", h.ImportPolicies)
				r.Get("/{leaveType}", h.GetPolicy)
				r.Put("/{leaveType}", h.PutPolicy)
			})

			// Admin
			r.Post("/admin/ledger/initialize", h.InitializeYear)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	return r
}
