// Package delivery drives redelivery of stored events to the downstream
// consumer. The store holds the authoritative per-event state; workers
// claim events by compare-and-swap, never by in-memory locks, so crash
// recovery is just a sweep for stale in-flight records.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/filipexyz/hookd/internal/domain"
	"github.com/filipexyz/hookd/internal/store"
	"github.com/google/uuid"
)

// Config holds scheduler tuning.
type Config struct {
	MaxAttempts     int
	Backoff         Backoff
	DeliveryTimeout time.Duration
	Workers         int
	SweepInterval   time.Duration
	// InFlightTimeout is the staleness bound: an in-flight claim older
	// than this is treated as crashed and re-scheduled.
	InFlightTimeout time.Duration
}

// Scheduler delivers pending events, retries with backoff, and dead-letters
// at the attempt ceiling.
type Scheduler struct {
	store    *store.Store
	consumer Consumer
	cfg      Config
	owner    string
	work     chan string
}

// NewScheduler creates a Scheduler. The consumer is the single registered
// downstream callback.
func NewScheduler(s *store.Store, consumer Consumer, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	return &Scheduler{
		store:    s,
		consumer: consumer,
		cfg:      cfg,
		owner:    uuid.NewString(),
		work:     make(chan string, 256),
	}
}

// Enqueue wakes the scheduler for a freshly appended event. Non-blocking:
// if the buffer is full the periodic sweep picks the event up instead.
func (s *Scheduler) Enqueue(key string) {
	select {
	case s.work <- key:
	default:
	}
}

// Start runs the worker pool and the sweep loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("delivery scheduler started",
		"workers", s.cfg.Workers,
		"sweep_interval", s.cfg.SweepInterval,
		"max_attempts", s.cfg.MaxAttempts,
		"owner", s.owner,
	)

	for i := 0; i < s.cfg.Workers; i++ {
		go s.worker(ctx)
	}

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	// Sweep immediately so events stranded by a previous process are
	// picked up before the first tick.
	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			slog.Info("delivery scheduler stopped")
			return
		}
	}
}

// sweep scans delivery records for due retries and stale in-flight claims.
func (s *Scheduler) sweep(ctx context.Context) {
	now := time.Now().UTC()
	err := s.store.Records(ctx, func(rec *store.DeliveryRecord) error {
		switch rec.State {
		case domain.StatePending:
			if !rec.NextAttemptAt.After(now) {
				s.Enqueue(rec.Key)
			}
		case domain.StateInFlight:
			if now.Sub(rec.StateChangedAt) > s.cfg.InFlightTimeout {
				s.Enqueue(rec.Key)
			}
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		slog.Error("delivery sweep failed", "error", err)
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case key := <-s.work:
			s.process(ctx, key)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) process(ctx context.Context, key string) {
	rec, _, err := s.store.LookupKey(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && ctx.Err() == nil {
			slog.Error("delivery: lookup failed", "key", key, "error", err)
		}
		return
	}

	switch rec.State {
	case domain.StatePending:
		s.attempt(ctx, rec)
	case domain.StateInFlight:
		s.recoverStale(ctx, rec)
	}
}

// attempt claims a due pending event and dispatches it once.
func (s *Scheduler) attempt(ctx context.Context, rec *store.DeliveryRecord) {
	now := time.Now().UTC()
	if rec.NextAttemptAt.After(now) {
		return
	}

	if rec.AttemptCount >= s.cfg.MaxAttempts {
		s.deadLetter(ctx, rec, domain.StatePending, rec.LastError)
		return
	}

	// Claim via CAS: exactly one worker wins, so at most one delivery is
	// in flight per event.
	claimed, err := s.store.UpdateDeliveryState(ctx, rec.Key, domain.StatePending, func(r *store.DeliveryRecord) {
		r.State = domain.StateInFlight
		r.AttemptCount++
		r.Owner = s.owner
	})
	if err != nil {
		if !errors.Is(err, store.ErrStaleState) && ctx.Err() == nil {
			slog.Error("delivery: claim failed", "key", rec.Key, "error", err)
		}
		return
	}

	se, err := s.store.GetBySeq(ctx, claimed.Seq)
	if err != nil {
		s.finishFailure(ctx, claimed, "load event: "+err.Error())
		return
	}

	attemptCtx := ctx
	if s.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
		defer cancel()
	}

	if err := s.consumer.Deliver(attemptCtx, se.Event); err != nil {
		s.finishFailure(ctx, claimed, err.Error())
		return
	}

	if _, err := s.store.UpdateDeliveryState(ctx, claimed.Key, domain.StateInFlight, func(r *store.DeliveryRecord) {
		r.State = domain.StateDelivered
		r.LastError = ""
		r.Owner = ""
	}); err != nil && ctx.Err() == nil {
		slog.Error("delivery: ack transition failed", "key", claimed.Key, "error", err)
		return
	}

	slog.Info("event delivered",
		"key", claimed.Key,
		"seq", claimed.Seq,
		"source", claimed.Source,
		"attempt", claimed.AttemptCount,
	)
}

// finishFailure moves a failed in-flight attempt back to pending with
// backoff, or to the terminal state at the attempt ceiling.
func (s *Scheduler) finishFailure(ctx context.Context, rec *store.DeliveryRecord, errMsg string) {
	if rec.AttemptCount >= s.cfg.MaxAttempts {
		s.deadLetter(ctx, rec, domain.StateInFlight, errMsg)
		return
	}

	delay := s.cfg.Backoff.Delay(rec.AttemptCount)
	if _, err := s.store.UpdateDeliveryState(ctx, rec.Key, domain.StateInFlight, func(r *store.DeliveryRecord) {
		r.State = domain.StatePending
		r.NextAttemptAt = time.Now().UTC().Add(delay)
		r.LastError = errMsg
		r.Owner = ""
	}); err != nil && ctx.Err() == nil {
		slog.Error("delivery: retry transition failed", "key", rec.Key, "error", err)
		return
	}

	slog.Warn("delivery attempt failed",
		"key", rec.Key,
		"seq", rec.Seq,
		"attempt", rec.AttemptCount,
		"next_in", delay,
		"error", errMsg,
	)
}

// deadLetter moves an event to the terminal failure state and records it on
// the DLQ stream.
func (s *Scheduler) deadLetter(ctx context.Context, rec *store.DeliveryRecord, from domain.DeliveryState, errMsg string) {
	updated, err := s.store.UpdateDeliveryState(ctx, rec.Key, from, func(r *store.DeliveryRecord) {
		r.State = domain.StateFailed
		if errMsg != "" {
			r.LastError = errMsg
		}
		r.Owner = ""
	})
	if err != nil {
		if !errors.Is(err, store.ErrStaleState) && ctx.Err() == nil {
			slog.Error("delivery: dead-letter transition failed", "key", rec.Key, "error", err)
		}
		return
	}

	se, err := s.store.GetBySeq(ctx, updated.Seq)
	if err != nil {
		slog.Error("delivery: load event for DLQ failed", "key", rec.Key, "error", err)
		return
	}
	if err := s.store.DeadLetter(ctx, se.Event, updated.AttemptCount, updated.LastError); err != nil {
		slog.Error("delivery: DLQ publish failed", "key", rec.Key, "error", err)
	}

	slog.Warn("event dead-lettered",
		"key", updated.Key,
		"seq", updated.Seq,
		"source", updated.Source,
		"attempts", updated.AttemptCount,
		"error", updated.LastError,
	)
}

// recoverStale re-schedules an in-flight claim whose worker is presumed
// crashed. The attempt was already counted at claim time, so the count is
// left as is; the consumer may have received the payload, which is why
// consumers must be idempotent.
func (s *Scheduler) recoverStale(ctx context.Context, rec *store.DeliveryRecord) {
	if time.Now().UTC().Sub(rec.StateChangedAt) <= s.cfg.InFlightTimeout {
		return
	}

	if _, err := s.store.UpdateDeliveryState(ctx, rec.Key, domain.StateInFlight, func(r *store.DeliveryRecord) {
		r.State = domain.StatePending
		r.NextAttemptAt = time.Now().UTC()
		r.LastError = "in-flight claim expired"
		r.Owner = ""
	}); err != nil {
		if !errors.Is(err, store.ErrStaleState) && ctx.Err() == nil {
			slog.Error("delivery: stale recovery failed", "key", rec.Key, "error", err)
		}
		return
	}

	slog.Warn("stale in-flight delivery re-scheduled",
		"key", rec.Key,
		"seq", rec.Seq,
		"claimed_by", rec.Owner,
	)
}
