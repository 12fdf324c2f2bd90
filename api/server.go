/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Logger:     Structured request logging (zerolog)
  4. CORS:       Cross-origin requests for operator frontends
  5. WithCaller: Resolves the acting account for every /api route

ROUTE GROUPS:
  /api/accounts/*      Account management, cascade controls, history
  /api/transactions/*  Transfers and reversals
  /api/capping         Floor configuration
  /api/subscribers/*   Subscriber lifecycle
  /api/packages        Catalog reads
  /api/scenarios/*     Demo scenarios

SECURITY NOTE:
  Authentication happens upstream; this service trusts the X-Account-Id
  header (see auth.go). Do not expose it directly to the public internet.

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", CallerHeader},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(h.WithCaller)

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Put("/{id}", h.UpdateAccount)
			r.Delete("/{id}", h.DeleteAccount)
			r.Post("/{id}/deactivate", h.DeactivateAccount)
			r.Post("/{id}/reactivate", h.ReactivateAccount)
			r.Get("/{id}/transactions", h.GetAccountTransactions)
			r.Get("/{id}/subscribers", h.ListAccountSubscribers)
		})

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/", h.CreateTransaction)
			r.Delete("/{id}", h.ReverseTransaction)
		})

		// Capping routes
		r.Route("/capping", func(r chi.Router) {
			r.Get("/", h.GetCapping)
			r.Put("/", h.UpdateCapping)
		})

		// Subscriber routes
		r.Route("/subscribers", func(r chi.Router) {
			r.Post("/", h.CreateSubscriber)
			r.Get("/{id}", h.GetSubscriber)
			r.Post("/{id}/activate", h.ActivateSubscriber)
			r.Delete("/{id}", h.DeleteSubscriber)
		})

		// Catalog routes
		r.Get("/packages", h.ListPackages)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	// Liveness probe (no caller required)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

// requestLogger emits one structured line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
