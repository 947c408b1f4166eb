package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/filipexyz/hookd/internal/delivery"
	"github.com/filipexyz/hookd/internal/store"
	"github.com/go-chi/chi/v5"
)

// DLQHandler serves the dead letter queue admin API.
type DLQHandler struct {
	store     *store.Store
	scheduler *delivery.Scheduler
}

// NewDLQHandler creates a new DLQHandler.
func NewDLQHandler(s *store.Store, sched *delivery.Scheduler) *DLQHandler {
	return &DLQHandler{store: s, scheduler: sched}
}

// DLQListResponse is the response from listing DLQ entries.
type DLQListResponse struct {
	Entries []store.DLQEntry `json:"entries"`
	Count   int              `json:"count"`
}

// List returns dead-lettered events, optionally filtered by ?source.
func (h *DLQHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	entries, err := h.store.DLQList(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list DLQ: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, DLQListResponse{Entries: entries, Count: len(entries)})
}

// Get returns one DLQ entry by its DLQ sequence.
func (h *DLQHandler) Get(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sequence")
		return
	}

	entry, err := h.store.DLQGet(r.Context(), seq)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "DLQ entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get DLQ entry: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// Replay resets a dead-lettered event back to pending delivery and removes
// it from the DLQ.
func (h *DLQHandler) Replay(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sequence")
		return
	}

	rec, err := h.store.DLQReplay(r.Context(), seq)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "DLQ entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "replay: "+err.Error())
		return
	}

	h.scheduler.Enqueue(rec.Key)
	slog.Info("DLQ entry replayed", "dlq_seq", seq, "key", rec.Key, "event_seq", rec.Seq)

	writeJSON(w, http.StatusOK, rec)
}

// Delete drops a DLQ entry without replaying it.
func (h *DLQHandler) Delete(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sequence")
		return
	}

	if err := h.store.DLQDelete(r.Context(), seq); err != nil {
		writeError(w, http.StatusInternalServerError, "delete DLQ entry: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": seq})
}
