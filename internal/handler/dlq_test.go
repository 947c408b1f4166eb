package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/filipexyz/hookd/internal/domain"
	"github.com/filipexyz/hookd/internal/store"
	"github.com/go-chi/chi/v5"
)

func setupDLQ(t *testing.T) (*intakeEnv, *chi.Mux) {
	t.Helper()
	env := setupIntake(t, 1<<20)

	dh := NewDLQHandler(env.store, env.sched)
	r := chi.NewRouter()
	r.Get("/api/v1/dlq", dh.List)
	r.Get("/api/v1/dlq/{seq}", dh.Get)
	r.Post("/api/v1/dlq/{seq}/replay", dh.Replay)
	r.Delete("/api/v1/dlq/{seq}", dh.Delete)
	return env, r
}

// deadLetterEvent drives a seeded event through the state machine into the
// terminal failed state and onto the DLQ stream.
func deadLetterEvent(t *testing.T, env *intakeEnv, resp IntakeResponse) uint64 {
	t.Helper()
	ctx := context.Background()

	if _, err := env.store.UpdateDeliveryState(ctx, resp.IdempotencyKey, domain.StatePending, func(r *store.DeliveryRecord) {
		r.State = domain.StateFailed
		r.AttemptCount = 8
		r.LastError = "connection refused"
	}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	se, err := env.store.GetBySeq(ctx, resp.Sequence)
	if err != nil {
		t.Fatalf("load event: %v", err)
	}
	if err := env.store.DeadLetter(ctx, se.Event, 8, "connection refused"); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	entries, err := env.store.DLQList(ctx, "", 100)
	if err != nil {
		t.Fatalf("list DLQ: %v", err)
	}
	for _, e := range entries {
		if e.Message.IdempotencyKey == resp.IdempotencyKey {
			return e.Seq
		}
	}
	t.Fatal("dead-lettered event not found on DLQ stream")
	return 0
}

func TestDLQListAndGet(t *testing.T) {
	env, api := setupDLQ(t)

	seeded := seedEvent(t, env, "evt_1")
	dlqSeq := deadLetterEvent(t, env, seeded)

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/dlq", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", rr.Code, rr.Body.String())
	}
	var list DLQListResponse
	json.Unmarshal(rr.Body.Bytes(), &list)
	if list.Count != 1 {
		t.Fatalf("DLQ count = %d, want 1", list.Count)
	}

	rr = httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/dlq/"+strconv.FormatUint(dlqSeq, 10), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", rr.Code, rr.Body.String())
	}
	var entry store.DLQEntry
	json.Unmarshal(rr.Body.Bytes(), &entry)
	if entry.Message.IdempotencyKey != seeded.IdempotencyKey || entry.Message.Attempts != 8 {
		t.Errorf("entry = %+v", entry.Message)
	}

	rr = httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/dlq/9999", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing entry status = %d, want 404", rr.Code)
	}
}

func TestDLQReplay(t *testing.T) {
	env, api := setupDLQ(t)

	seeded := seedEvent(t, env, "evt_1")
	dlqSeq := deadLetterEvent(t, env, seeded)

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest("POST", "/api/v1/dlq/"+strconv.FormatUint(dlqSeq, 10)+"/replay", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("replay status = %d: %s", rr.Code, rr.Body.String())
	}

	var rec store.DeliveryRecord
	json.Unmarshal(rr.Body.Bytes(), &rec)
	if rec.State != domain.StatePending || rec.AttemptCount != 0 {
		t.Errorf("replayed record = %+v, want pending with fresh attempt budget", rec)
	}

	// Replay consumes the DLQ entry; a second replay finds nothing
	rr = httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest("POST", "/api/v1/dlq/"+strconv.FormatUint(dlqSeq, 10)+"/replay", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("second replay status = %d, want 404", rr.Code)
	}
}

func TestDLQDelete(t *testing.T) {
	env, api := setupDLQ(t)

	seeded := seedEvent(t, env, "evt_1")
	dlqSeq := deadLetterEvent(t, env, seeded)

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest("DELETE", "/api/v1/dlq/"+strconv.FormatUint(dlqSeq, 10), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", rr.Code, rr.Body.String())
	}

	// The record stays failed; delete only drops the queue entry
	rec, _, err := env.store.LookupKey(context.Background(), seeded.IdempotencyKey)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if rec.State != domain.StateFailed {
		t.Errorf("record state = %s, want failed", rec.State)
	}
}
