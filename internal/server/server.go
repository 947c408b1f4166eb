package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/filipexyz/hookd/internal/config"
	"github.com/filipexyz/hookd/internal/dedup"
	"github.com/filipexyz/hookd/internal/delivery"
	"github.com/filipexyz/hookd/internal/middleware"
	"github.com/filipexyz/hookd/internal/nats"
	"github.com/filipexyz/hookd/internal/security"
	"github.com/filipexyz/hookd/internal/store"
	"github.com/filipexyz/hookd/internal/verify"
)

// Server wires the intake pipeline: verifier, dedup index, event store and
// delivery scheduler behind the HTTP surface.
type Server struct {
	cfg         *config.Config
	nats        *nats.Client
	store       *store.Store
	index       *dedup.Index
	verifier    *verify.Verifier
	scheduler   *delivery.Scheduler
	rateLimiter *middleware.RateLimiter
	server      *http.Server

	schedulerCancel context.CancelFunc
}

// New creates a Server. The consumer is the single downstream delivery
// callback registered by the surrounding application; pass nil to default
// to the HTTP forwarder configured by DELIVER_URL.
func New(cfg *config.Config, sources *config.Sources, nc *nats.Client, consumer delivery.Consumer) (*Server, error) {
	st := store.New(nc.JetStream(), nc.Stream(), nc.DLQ(), nc.DeliveryKV())

	verifier := verify.New(sources.SecretTable(), verify.WithTolerance(cfg.SignatureTolerance))
	index := dedup.New()

	if consumer == nil {
		if cfg.DeliverURL == "" {
			return nil, fmt.Errorf("no delivery consumer registered and DELIVER_URL not set")
		}
		if err := security.ValidateURL(cfg.DeliverURL); err != nil {
			return nil, fmt.Errorf("DELIVER_URL rejected: %w", err)
		}
		consumer = delivery.NewHTTPConsumer(cfg.DeliverURL, cfg.DeliverSecret)
	}

	sched := delivery.NewScheduler(st, consumer, delivery.Config{
		MaxAttempts: cfg.MaxAttempts,
		Backoff: delivery.Backoff{
			Base:   cfg.BackoffBase,
			Cap:    cfg.BackoffCap,
			Jitter: cfg.BackoffJitter,
		},
		DeliveryTimeout: cfg.DeliveryTimeout,
		Workers:         cfg.DeliveryWorkers,
		SweepInterval:   cfg.SweepInterval,
		InFlightTimeout: cfg.InFlightTimeout,
	})

	rlCfg := middleware.DefaultRateLimitConfig()
	rlCfg.SourceRates = sources.RateTable()
	rateLimiter := middleware.NewRateLimiter(rlCfg, verifier.KnownSource)

	s := &Server{
		cfg:         cfg,
		nats:        nc,
		store:       st,
		index:       index,
		verifier:    verifier,
		scheduler:   sched,
		rateLimiter: rateLimiter,
	}

	s.server = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.routes(),
	}

	return s, nil
}

// Rebuild loads the dedup index from the durable store and starts the
// delivery scheduler. Must complete before Start: serving intake on a cold
// index risks double-appending duplicates, so readiness is gated on it.
func (s *Server) Rebuild(ctx context.Context) error {
	start := time.Now()
	if err := s.index.Rebuild(ctx, s.store); err != nil {
		return err
	}
	slog.Info("startup rebuild complete", "keys", s.index.Len(), "took", time.Since(start))

	schedCtx, cancel := context.WithCancel(context.Background())
	s.schedulerCancel = cancel
	go s.scheduler.Start(schedCtx)

	return nil
}

// Store returns the event store, for the surrounding application.
func (s *Server) Store() *store.Store {
	return s.store
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Serve starts the HTTP server on the given listener.
func (s *Server) Serve(l net.Listener) error {
	return s.server.Serve(l)
}

// Shutdown gracefully shuts down the server: HTTP first (drains inflight
// intake requests, whose appends must complete), then the scheduler.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if s.schedulerCancel != nil {
		s.schedulerCancel()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return err
}
