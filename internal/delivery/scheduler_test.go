package delivery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/filipexyz/hookd/internal/domain"
	hookdnats "github.com/filipexyz/hookd/internal/nats"
	"github.com/filipexyz/hookd/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	srv, err := hookdnats.StartEmbedded(hookdnats.EmbeddedConfig{
		StoreDir: t.TempDir(),
		Port:     -1,
	})
	if err != nil {
		t.Fatalf("start embedded NATS: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	nc, err := hookdnats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := nc.EnsureStreams(ctx); err != nil {
		t.Fatalf("ensure streams: %v", err)
	}

	return store.New(nc.JetStream(), nc.Stream(), nc.DLQ(), nc.DeliveryKV())
}

func fastConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:     maxAttempts,
		Backoff:         Backoff{Base: time.Millisecond, Cap: 5 * time.Millisecond},
		DeliveryTimeout: time.Second,
		Workers:         2,
		SweepInterval:   20 * time.Millisecond,
		InFlightTimeout: time.Minute,
	}
}

func startScheduler(t *testing.T, s *store.Store, consumer Consumer, cfg Config) *Scheduler {
	t.Helper()
	sched := NewScheduler(s, consumer, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Start(ctx)
	return sched
}

func waitForState(t *testing.T, s *store.Store, key string, want domain.DeliveryState) *store.DeliveryRecord {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec, _, err := s.LookupKey(context.Background(), key)
		if err == nil && rec.State == want {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec, _, _ := s.LookupKey(context.Background(), key)
	t.Fatalf("record never reached %s, last: %+v", want, rec)
	return nil
}

func TestSchedulerDeliversPendingEvent(t *testing.T) {
	s := setupTestStore(t)

	ev := domain.NewEvent("billing", "evt_1", []byte(`{"amt":500}`))
	if _, err := s.Append(context.Background(), ev); err != nil {
		t.Fatalf("append: %v", err)
	}

	var got atomic.Pointer[domain.Event]
	consumer := ConsumerFunc(func(ctx context.Context, e *domain.Event) error {
		got.Store(e)
		return nil
	})

	sched := startScheduler(t, s, consumer, fastConfig(8))
	sched.Enqueue(ev.IdempotencyKey)

	rec := waitForState(t, s, ev.IdempotencyKey, domain.StateDelivered)
	if rec.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", rec.AttemptCount)
	}

	delivered := got.Load()
	if delivered == nil {
		t.Fatal("consumer never invoked")
	}
	if delivered.IdempotencyKey != ev.IdempotencyKey || string(delivered.RawPayload) != `{"amt":500}` {
		t.Errorf("delivered event = %+v", delivered)
	}
	if delivered.Sequence != ev.Sequence {
		t.Errorf("delivered sequence = %d, want %d", delivered.Sequence, ev.Sequence)
	}
}

func TestSchedulerRetriesThenSucceeds(t *testing.T) {
	s := setupTestStore(t)

	ev := domain.NewEvent("billing", "evt_1", []byte(`{}`))
	if _, err := s.Append(context.Background(), ev); err != nil {
		t.Fatalf("append: %v", err)
	}

	var calls atomic.Int32
	consumer := ConsumerFunc(func(ctx context.Context, e *domain.Event) error {
		if calls.Add(1) <= 2 {
			return errors.New("503 service unavailable")
		}
		return nil
	})

	sched := startScheduler(t, s, consumer, fastConfig(8))
	sched.Enqueue(ev.IdempotencyKey)

	// Two failures plus the success: attempt_count ends at 3
	rec := waitForState(t, s, ev.IdempotencyKey, domain.StateDelivered)
	if rec.AttemptCount != 3 {
		t.Errorf("attempt_count = %d, want 3", rec.AttemptCount)
	}
	if rec.LastError != "" {
		t.Errorf("delivered record carries last_error %q", rec.LastError)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("consumer called %d times, want 3", got)
	}
}

func TestSchedulerDeadLettersAtCeiling(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := domain.NewEvent("billing", "evt_1", []byte(`{}`))
	if _, err := s.Append(ctx, ev); err != nil {
		t.Fatalf("append: %v", err)
	}

	var calls atomic.Int32
	consumer := ConsumerFunc(func(ctx context.Context, e *domain.Event) error {
		calls.Add(1)
		return errors.New("connection refused")
	})

	const maxAttempts = 3
	sched := startScheduler(t, s, consumer, fastConfig(maxAttempts))
	sched.Enqueue(ev.IdempotencyKey)

	rec := waitForState(t, s, ev.IdempotencyKey, domain.StateFailed)
	if rec.AttemptCount != maxAttempts {
		t.Errorf("attempt_count = %d, want %d", rec.AttemptCount, maxAttempts)
	}
	if rec.LastError != "connection refused" {
		t.Errorf("last_error = %q", rec.LastError)
	}
	if got := calls.Load(); got != maxAttempts {
		t.Errorf("consumer called %d times, want exactly %d", got, maxAttempts)
	}

	// Dead-lettering recorded the exhausted event
	deadline := time.Now().Add(10 * time.Second)
	for {
		entries, err := s.DLQList(ctx, "billing", 10)
		if err != nil {
			t.Fatalf("DLQ list: %v", err)
		}
		if len(entries) == 1 {
			if entries[0].Message.IdempotencyKey != ev.IdempotencyKey {
				t.Errorf("DLQ key = %s, want %s", entries[0].Message.IdempotencyKey, ev.IdempotencyKey)
			}
			if entries[0].Message.Attempts != maxAttempts {
				t.Errorf("DLQ attempts = %d, want %d", entries[0].Message.Attempts, maxAttempts)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("DLQ has %d entries, want 1", len(entries))
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Terminal: the sweep must not touch the failed record again
	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != maxAttempts {
		t.Errorf("consumer called again after dead-letter: %d calls", got)
	}
}

func TestSchedulerRecoversStaleInFlight(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := domain.NewEvent("billing", "evt_1", []byte(`{}`))
	if _, err := s.Append(ctx, ev); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Simulate a crashed worker: claim the event and never finish
	if _, err := s.UpdateDeliveryState(ctx, ev.IdempotencyKey, domain.StatePending, func(r *store.DeliveryRecord) {
		r.State = domain.StateInFlight
		r.AttemptCount++
		r.Owner = "crashed-worker"
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	consumer := ConsumerFunc(func(ctx context.Context, e *domain.Event) error {
		return nil
	})

	cfg := fastConfig(8)
	cfg.InFlightTimeout = 50 * time.Millisecond
	time.Sleep(60 * time.Millisecond) // age the claim past the timeout
	startScheduler(t, s, consumer, cfg)

	// Recovery does not recount the crashed attempt; the redelivery adds one
	rec := waitForState(t, s, ev.IdempotencyKey, domain.StateDelivered)
	if rec.AttemptCount != 2 {
		t.Errorf("attempt_count = %d, want 2", rec.AttemptCount)
	}
	if rec.Owner != "" {
		t.Errorf("delivered record still owned by %q", rec.Owner)
	}
}

func TestSchedulerSweepPicksUpDueRetries(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// An event stranded pending by a previous process: no Enqueue, the
	// startup sweep alone must find it.
	ev := domain.NewEvent("billing", "evt_1", []byte(`{}`))
	if _, err := s.Append(ctx, ev); err != nil {
		t.Fatalf("append: %v", err)
	}

	consumer := ConsumerFunc(func(ctx context.Context, e *domain.Event) error {
		return nil
	})
	startScheduler(t, s, consumer, fastConfig(8))

	waitForState(t, s, ev.IdempotencyKey, domain.StateDelivered)
}

func TestSchedulerHonorsNextAttemptAt(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := domain.NewEvent("billing", "evt_1", []byte(`{}`))
	if _, err := s.Append(ctx, ev); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Push the retry out beyond the test window
	if _, err := s.UpdateDeliveryState(ctx, ev.IdempotencyKey, domain.StatePending, func(r *store.DeliveryRecord) {
		r.State = domain.StateInFlight
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.UpdateDeliveryState(ctx, ev.IdempotencyKey, domain.StateInFlight, func(r *store.DeliveryRecord) {
		r.State = domain.StatePending
		r.NextAttemptAt = time.Now().UTC().Add(time.Hour)
	}); err != nil {
		t.Fatalf("defer retry: %v", err)
	}

	var calls atomic.Int32
	consumer := ConsumerFunc(func(ctx context.Context, e *domain.Event) error {
		calls.Add(1)
		return nil
	})

	sched := startScheduler(t, s, consumer, fastConfig(8))
	sched.Enqueue(ev.IdempotencyKey)

	time.Sleep(200 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("consumer called %d times before next_attempt_at", got)
	}
}
