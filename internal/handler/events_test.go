package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/filipexyz/hookd/internal/domain"
	"github.com/filipexyz/hookd/internal/store"
	"github.com/go-chi/chi/v5"
)

func setupEvents(t *testing.T) (*intakeEnv, *chi.Mux) {
	t.Helper()
	env := setupIntake(t, 1<<20)

	eh := NewEventsHandler(env.store)
	r := chi.NewRouter()
	r.Get("/api/v1/events", eh.List)
	r.Get("/api/v1/events/{seq}", eh.Get)
	r.Get("/api/v1/events/key/{key}", eh.GetByKey)
	return env, r
}

func seedEvent(t *testing.T, env *intakeEnv, eventID string) IntakeResponse {
	t.Helper()
	req := signedRequest("billing", []byte(`{"id":"`+eventID+`"}`), "s3cr3t")
	req.Header.Set(HeaderEventID, eventID)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("seed intake status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp IntakeResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	return resp
}

func TestEventsList(t *testing.T) {
	env, api := setupEvents(t)

	var seeded []IntakeResponse
	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		seeded = append(seeded, seedEvent(t, env, id))
	}

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/events", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	var resp EventsListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 3 || len(resp.Events) != 3 {
		t.Fatalf("count = %d (%d events), want 3", resp.Count, len(resp.Events))
	}

	// ?since is an exclusive cursor
	rr = httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/events?since="+strconv.FormatUint(seeded[0].Sequence, 10), nil))
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Count != 2 {
		t.Errorf("since first seq: count = %d, want 2", resp.Count)
	}

	rr = httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/events?limit=abc", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/events?limit=5000", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("oversize limit status = %d, want 400", rr.Code)
	}
}

func TestEventsGet(t *testing.T) {
	env, api := setupEvents(t)
	seeded := seedEvent(t, env, "evt_1")

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/events/"+strconv.FormatUint(seeded.Sequence, 10), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	var se store.StoredEvent
	if err := json.Unmarshal(rr.Body.Bytes(), &se); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if se.Seq != seeded.Sequence || se.Event.IdempotencyKey != seeded.IdempotencyKey {
		t.Errorf("got %+v, want seq %d key %s", se, seeded.Sequence, seeded.IdempotencyKey)
	}

	rr = httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/events/9999", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing event status = %d, want 404", rr.Code)
	}

	rr = httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/events/notanumber", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad seq status = %d, want 400", rr.Code)
	}
}

func TestEventsGetByKey(t *testing.T) {
	env, api := setupEvents(t)
	seeded := seedEvent(t, env, "evt_1")

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/events/key/"+seeded.IdempotencyKey, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	var rec store.DeliveryRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Key != seeded.IdempotencyKey || rec.Seq != seeded.Sequence {
		t.Errorf("record = %+v", rec)
	}
	if rec.State != domain.StatePending {
		t.Errorf("state = %s, want pending", rec.State)
	}

	rr = httptest.NewRecorder()
	api.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/events/key/unknown", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown key status = %d, want 404", rr.Code)
	}
}
