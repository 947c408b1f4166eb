package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/filipexyz/hookd/internal/store"
	"github.com/go-chi/chi/v5"
)

// EventsHandler serves the admin read side of the event log.
type EventsHandler struct {
	store *store.Store
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(s *store.Store) *EventsHandler {
	return &EventsHandler{store: s}
}

// EventsListResponse is the response from listing events.
type EventsListResponse struct {
	Events []store.StoredEvent `json:"events"`
	Count  int                 `json:"count"`
}

// List returns events with sequence greater than ?since, up to ?limit.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		since = parsed
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	events, err := h.store.ScanSince(r.Context(), since, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "scan events: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, EventsListResponse{Events: events, Count: len(events)})
}

// Get returns a single event by sequence position.
func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sequence")
		return
	}

	event, err := h.store.GetBySeq(r.Context(), seq)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get event: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// GetByKey returns the delivery record for an idempotency key.
func (h *EventsHandler) GetByKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	rec, _, err := h.store.LookupKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown idempotency key")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, rec)
}
