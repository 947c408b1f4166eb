// Package dedup is the in-memory idempotency index: a derived cache over
// the durable store that short-circuits duplicate deliveries before they
// touch the log. It is rebuilt from the store at startup and never treated
// as authoritative ahead of it.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/filipexyz/hookd/internal/store"
)

// Result is the outcome of a reservation attempt.
type Result struct {
	// Fresh is true for exactly one caller per key: the one that must
	// proceed to persist. All others observe the duplicate.
	Fresh bool
	// Seq is the stored event's position for duplicates of a committed
	// key; zero while the winning reservation is still in flight.
	Seq uint64
}

type entry struct {
	committed bool
	seq       uint64
}

// Index maps idempotency keys to store positions.
type Index struct {
	mu      sync.Mutex
	entries map[string]*entry
	ready   bool
}

// New creates an empty, not-yet-ready Index. Rebuild must complete before
// intake traffic is served.
func New() *Index {
	return &Index{entries: make(map[string]*entry)}
}

// Ready reports whether the startup rebuild has completed.
func (i *Index) Ready() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ready
}

// Rebuild loads every known key from the store's delivery records. Serving
// intake before this completes risks double-appending on dedup collision,
// so the server gates readiness on it.
func (i *Index) Rebuild(ctx context.Context, s *store.Store) error {
	loaded := make(map[string]*entry)
	err := s.Records(ctx, func(rec *store.DeliveryRecord) error {
		loaded[rec.Key] = &entry{committed: true, seq: rec.Seq}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild dedup index: %w", err)
	}

	i.mu.Lock()
	i.entries = loaded
	i.ready = true
	i.mu.Unlock()

	slog.Info("dedup index rebuilt", "keys", len(loaded))
	return nil
}

// CheckAndReserve atomically claims a key. Exactly one concurrent caller
// per key observes Fresh and must follow up with Commit or Release; every
// other caller observes the duplicate.
func (i *Index) CheckAndReserve(key string) Result {
	i.mu.Lock()
	defer i.mu.Unlock()

	if e, ok := i.entries[key]; ok {
		return Result{Fresh: false, Seq: e.seq}
	}
	i.entries[key] = &entry{}
	return Result{Fresh: true}
}

// Commit finalizes a reservation with the position the store assigned.
func (i *Index) Commit(key string, seq uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()

	e, ok := i.entries[key]
	if !ok {
		e = &entry{}
		i.entries[key] = e
	}
	e.committed = true
	e.seq = seq
}

// Release undoes a reservation whose append failed, so the key does not
// become permanently unreachable.
func (i *Index) Release(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if e, ok := i.entries[key]; ok && !e.committed {
		delete(i.entries, key)
	}
}

// Len returns the number of known keys.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.entries)
}
