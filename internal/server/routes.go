package server

import (
	"net/http"

	"github.com/filipexyz/hookd/internal/handler"
	"github.com/filipexyz/hookd/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimw.Recoverer)

	// Health checks (no auth)
	healthHandler := handler.NewHealthHandler(s.nats, s.index)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// ================================================================
	// INTAKE
	// Authenticated by HMAC signature per source, not by middleware:
	// the verifier needs the raw body.
	// ================================================================
	intakeHandler := handler.NewIntakeHandler(
		s.verifier, s.index, s.store, s.scheduler,
		s.cfg.MaxBodyBytes, s.cfg.AppendRetries,
	)

	r.Route("/webhooks/{source}", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.rateLimiter))
		r.Use(s.requireReady)
		r.Post("/", intakeHandler.Receive)
	})

	// ================================================================
	// ADMIN API v1
	// Operational surface: event log reads, delivery records, DLQ.
	// ================================================================
	eventsHandler := handler.NewEventsHandler(s.store)
	dlqHandler := handler.NewDLQHandler(s.store, s.scheduler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE"},
			AllowedHeaders: []string{"Content-Type"},
		}))

		// Events
		r.Get("/events", eventsHandler.List)
		r.Get("/events/{seq}", eventsHandler.Get)
		r.Get("/events/key/{key}", eventsHandler.GetByKey)

		// DLQ
		r.Get("/dlq", dlqHandler.List)
		r.Get("/dlq/{seq}", dlqHandler.Get)
		r.Post("/dlq/{seq}/replay", dlqHandler.Replay)
		r.Delete("/dlq/{seq}", dlqHandler.Delete)
	})

	return r
}

// requireReady rejects intake until the dedup index rebuild has completed.
func (s *Server) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.index.Ready() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"starting up, retry shortly"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
