/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests from the admin frontend

ROUTE GROUPS:
  /healthz                  Liveness + store ping
  /metrics                  Prometheus scrape endpoint
  /api/rent-payments/*      Generation, edit, cancel, list
  /api/hostels, /api/blocks Scope creation
  /api/scopes/*             Scope reads and settings
  /api/room-types           Rate cards
  /api/tenants/*            Tenant management
  /api/generation/runs      Generation history
  /api/scenarios/*          Demo scenarios

ROUTE ORDER:
  Static rent-payment segments (generate, refresh, additional) are
  registered before POST /{blockId} so chi matches them first.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are used when the configuration lists none.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a router with all routes configured. metrics may be nil.
func NewRouter(h *Handler, metrics http.Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/rent-payments", func(r chi.Router) {
			r.Get("/", h.ListObligations)
			r.Post("/generate", h.GenerateHostel)
			r.Post("/refresh", h.RefreshBlock)
			r.Post("/additional", h.CreateAdditional)
			r.Post("/{blockId}", h.GenerateBlock)
			r.Get("/{id}", h.GetObligation)
			r.Put("/{id}/edit", h.EditObligation)
			r.Delete("/{id}/remove", h.RemoveObligation)
		})

		r.Post("/hostels", h.CreateHostel)
		r.Post("/blocks", h.CreateBlock)

		r.Route("/scopes", func(r chi.Router) {
			r.Get("/", h.ListScopes)
			r.Get("/{id}", h.GetScope)
			r.Put("/{id}/settings", h.UpdateScopeSettings)
		})

		r.Post("/room-types", h.CreateRoomType)

		r.Route("/tenants", func(r chi.Router) {
			r.Post("/", h.CreateTenant)
			r.Get("/{id}", h.GetTenant)
			r.Put("/{id}/status", h.UpdateTenantStatus)
		})

		r.Get("/generation/runs", h.ListGenerationRuns)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
