/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the mobile app / dashboard

ROUTE GROUPS:
  /api/v1/users/*         User registration and lookup
  /api/v1/transactions/*  Deposits, redemptions, history
  /api/v1/smart-bins/*    Fleet registry and device reports
  /health                 Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/health", h.Health)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
		})

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/deposit", h.Deposit)
			r.Post("/redeem", h.Redeem)
			r.Post("/calculate", h.Calculate)
			r.Get("/points", h.PointsHistory)
			r.Get("/total-points", h.TotalPoints)
			r.Get("/options", h.WalletOptions)
			r.Get("/packages", h.Packages)
			r.Get("/{id}", h.GetTransaction)
		})

		// Smart bin routes
		r.Route("/smart-bins", func(r chi.Router) {
			r.Get("/", h.ListBins)
			r.Post("/", h.CreateBin)
			r.Get("/{id}", h.GetBin)
			r.Post("/{id}/status", h.UpdateBinStatus)
			r.Post("/{id}/heartbeat", h.Heartbeat)
		})
	})

	return r
}
