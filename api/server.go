/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind the restaurant's proxy
  3. RequestLog: One structured line per request (slog)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the kiosk and staff frontends

ROUTE GROUPS:
  /api/customers/*      Enrollment, balances, earn, history
  /api/redemptions/*    Redemption sessions (customer side)
  /api/staff/*          Code verification at the counter
  /api/rewards          Reward catalog
  /api/admin/*          Rewards, adjustments, reversals
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus
  /healthz              Liveness + store ping

SECURITY NOTE:
  No authentication middleware. Staff and admin routes must be protected
  upstream.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Request logging
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions tune the router. The zero value allows the local dev
// frontends.
type RouterOptions struct {
	CORSOrigins []string
}

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Customer routes
		r.Route("/customers", func(r chi.Router) {
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Get("/{id}/tier", h.GetTier)
			r.Get("/{id}/rewards", h.ListCustomerRewards)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Get("/{id}/audit", h.GetAudit)
			r.Post("/{id}/purchases", h.RecordPurchase)
			r.Post("/{id}/earn", h.EarnPoints)
			r.Post("/{id}/redemptions", h.BeginRedemption)
		})

		// Redemption session routes
		r.Route("/redemptions", func(r chi.Router) {
			r.Get("/{id}", h.GetSession)
			r.Post("/{id}/confirm", h.ConfirmRedemption)
			r.Post("/{id}/cancel", h.CancelRedemption)
			r.Post("/{id}/recover", h.RecoverSession)
		})

		// Staff routes
		r.Route("/staff/redemptions", func(r chi.Router) {
			r.Post("/verify", h.StaffVerify)
			r.Post("/reject", h.StaffReject)
		})

		r.Get("/rewards", h.ListRewards)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/rewards", h.PutReward)
			r.Post("/adjustments", h.CreateAdjustment)
			r.Post("/redemptions/{ticket}/reverse", h.ReverseRedemption)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
