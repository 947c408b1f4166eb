package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/filipexyz/hookd/internal/domain"
	"github.com/nats-io/nats.go/jetstream"
)

// DeliveryRecord is the per-event delivery bookkeeping, keyed by idempotency
// key in the KV bucket. The event payload itself is immutable in the log;
// only this record ever changes, and only through UpdateDeliveryState.
type DeliveryRecord struct {
	Key            string               `json:"key"`
	Seq            uint64               `json:"seq"`
	Source         string               `json:"source"`
	State          domain.DeliveryState `json:"state"`
	AttemptCount   int                  `json:"attempt_count"`
	NextAttemptAt  time.Time            `json:"next_attempt_at"`
	StateChangedAt time.Time            `json:"state_changed_at"`
	LastError      string               `json:"last_error,omitempty"`
	// Owner identifies the scheduler worker holding an in_flight claim,
	// for operational debugging of stale claims.
	Owner string `json:"owner,omitempty"`
}

// LookupKey returns the delivery record for an idempotency key along with
// its KV revision.
func (s *Store) LookupKey(ctx context.Context, key string) (*DeliveryRecord, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("get delivery record: %w", err)
	}

	var rec DeliveryRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, 0, fmt.Errorf("unmarshal delivery record: %w", err)
	}
	return &rec, entry.Revision(), nil
}

// Records calls fn for every delivery record. Used for the startup index
// rebuild and the scheduler's retry/staleness sweep.
func (s *Store) Records(ctx context.Context, fn func(rec *DeliveryRecord) error) error {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil
		}
		return fmt.Errorf("list delivery records: %w", err)
	}
	defer lister.Stop()

	for key := range lister.Keys() {
		rec, _, err := s.LookupKey(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// UpdateDeliveryState applies mutate to the record for key if its current
// state equals expected, with compare-and-swap semantics: a concurrent
// writer or a state mismatch yields ErrStaleState and no change. The
// mutation must be a legal forward transition of the state machine.
func (s *Store) UpdateDeliveryState(ctx context.Context, key string, expected domain.DeliveryState, mutate func(rec *DeliveryRecord)) (*DeliveryRecord, error) {
	rec, rev, err := s.LookupKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.State != expected {
		return nil, fmt.Errorf("%w: have %s, expected %s", ErrStaleState, rec.State, expected)
	}

	mutate(rec)
	if rec.State != expected && !expected.CanTransition(rec.State) {
		return nil, fmt.Errorf("illegal delivery transition %s -> %s", expected, rec.State)
	}
	rec.StateChangedAt = time.Now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal delivery record: %w", err)
	}

	if _, err := s.kv.Update(ctx, key, data, rev); err != nil {
		// A revision conflict means someone else won the swap.
		return nil, fmt.Errorf("%w: %v", ErrStaleState, err)
	}
	return rec, nil
}

// resetDeliveryRecord swaps a terminally failed record back to pending with
// a fresh attempt budget. Only DLQReplay calls this; it is the one exit from
// the failed state and is never taken automatically.
func (s *Store) resetDeliveryRecord(ctx context.Context, key string) (*DeliveryRecord, error) {
	rec, rev, err := s.LookupKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.State != domain.StateFailed {
		return nil, fmt.Errorf("%w: have %s, expected %s", ErrStaleState, rec.State, domain.StateFailed)
	}

	rec.State = domain.StatePending
	rec.AttemptCount = 0
	rec.NextAttemptAt = time.Now().UTC()
	rec.StateChangedAt = time.Now().UTC()
	rec.LastError = ""
	rec.Owner = ""

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal delivery record: %w", err)
	}
	if _, err := s.kv.Update(ctx, key, data, rev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStaleState, err)
	}
	return rec, nil
}
