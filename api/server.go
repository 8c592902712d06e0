/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/policies, /api/agents, /api/products   Portfolio
  /api/dashboard, /api/collections            Views
  /api/indicators, /api/reconciliation/*      Insurer feed reconciliation
  /api/rules, /api/config, /api/goals         Administration
  /metrics                                    Prometheus scrape endpoint
  /healthz                                    Liveness (store ping)

SECURITY NOTE:
  No authentication middleware. All endpoints are public; deploy behind the
  agency's reverse proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures the outer surface of the router.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        prometheus.Gatherer         // nil disables /metrics
	Health         func(context.Context) error // nil reports healthy
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(r.Context()); err != nil {
				writeErrorMessage(w, http.StatusServiceUnavailable, "Unhealthy", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
			r.Get("/{id}", h.GetPolicy)
		})

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.CreateAgent)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
		})

		r.Get("/dashboard", h.GetDashboard)
		r.Get("/collections", h.GetCollections)

		r.Route("/indicators", func(r chi.Router) {
			r.Get("/", h.ListIndicators)
			r.Post("/", h.IngestIndicators)
		})

		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/", h.PreviewReconciliation)
			r.Post("/run", h.RunReconciliation)
			r.Get("/periods", h.ListPeriods)
			r.Get("/runs", h.ListReconciliationRuns)
			r.Get("/runs/{id}", h.GetReconciliationRun)
		})

		r.Post("/rules/apply", h.ApplyRules)

		r.Route("/config", func(r chi.Router) {
			r.Get("/", h.ListConfig)
			r.Put("/{key}", h.UpdateConfig)
		})

		r.Route("/goals", func(r chi.Router) {
			r.Put("/", h.SaveGoal)
			r.Get("/{year}", h.GetGoal)
		})
	})

	return r
}
