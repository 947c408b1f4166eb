package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/filipexyz/hookd/internal/dedup"
	"github.com/filipexyz/hookd/internal/delivery"
	"github.com/filipexyz/hookd/internal/domain"
	"github.com/filipexyz/hookd/internal/store"
	"github.com/filipexyz/hookd/internal/verify"
	"github.com/go-chi/chi/v5"
)

// Intake headers on inbound webhook requests.
const (
	HeaderSignature = "X-Hookd-Signature"
	HeaderTimestamp = "X-Hookd-Timestamp"
	HeaderEventID   = "X-Hookd-Event-Id"
)

// IntakeResponse is the 202 body. Duplicates get the identical shape so
// retrying senders stand down either way.
type IntakeResponse struct {
	IdempotencyKey string `json:"idempotency_key"`
	Sequence       uint64 `json:"sequence"`
	Duplicate      bool   `json:"duplicate"`
}

// IntakeHandler handles POST /webhooks/{source}: the verify -> dedup ->
// append -> enqueue pipeline.
type IntakeHandler struct {
	verifier      *verify.Verifier
	index         *dedup.Index
	store         *store.Store
	scheduler     *delivery.Scheduler
	maxBodyBytes  int64
	appendRetries int
}

// NewIntakeHandler creates an IntakeHandler.
func NewIntakeHandler(v *verify.Verifier, idx *dedup.Index, s *store.Store, sched *delivery.Scheduler, maxBodyBytes int64, appendRetries int) *IntakeHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	if appendRetries < 1 {
		appendRetries = 1
	}
	return &IntakeHandler{
		verifier:      v,
		index:         idx,
		store:         s,
		scheduler:     sched,
		maxBodyBytes:  maxBodyBytes,
		appendRetries: appendRetries,
	}
}

// Receive accepts one webhook delivery. Verification failures are rejected
// without persisting anything; a duplicate idempotency key is acknowledged
// exactly like a fresh event; transient storage failures are retried a
// bounded number of times before surfacing a 503 (senders retry on non-2xx,
// which dedup makes safe).
func (h *IntakeHandler) Receive(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	if err := h.verifier.Verify(source, body, r.Header.Get(HeaderSignature), r.Header.Get(HeaderTimestamp)); err != nil {
		switch {
		case errors.Is(err, verify.ErrExpiredTimestamp):
			writeError(w, http.StatusRequestTimeout, err.Error())
		default:
			// Unknown source and bad signature get the same status;
			// the body distinguishes them for legitimate callers.
			writeError(w, http.StatusUnauthorized, err.Error())
		}
		return
	}

	event := domain.NewEvent(source, r.Header.Get(HeaderEventID), body)

	res := h.index.CheckAndReserve(event.IdempotencyKey)
	if !res.Fresh {
		writeJSON(w, http.StatusAccepted, IntakeResponse{
			IdempotencyKey: event.IdempotencyKey,
			Sequence:       res.Seq,
			Duplicate:      true,
		})
		return
	}

	// Once the reservation is won the append must not be abandoned
	// mid-write, even if the caller goes away.
	appendCtx := context.WithoutCancel(r.Context())

	var seq uint64
	for i := 0; ; i++ {
		seq, err = h.store.Append(appendCtx, event)
		if err == nil || errors.Is(err, store.ErrDuplicateKey) {
			break
		}
		if i+1 >= h.appendRetries {
			// Release so the key does not end up reserved but never
			// written; the sender's own retry gets a fresh shot.
			h.index.Release(event.IdempotencyKey)
			slog.Error("intake: append failed",
				"source", source,
				"key", event.IdempotencyKey,
				"attempts", i+1,
				"error", err,
			)
			writeError(w, http.StatusServiceUnavailable, "storage unavailable, retry later")
			return
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}

	duplicate := errors.Is(err, store.ErrDuplicateKey)
	h.index.Commit(event.IdempotencyKey, seq)
	if !duplicate {
		h.scheduler.Enqueue(event.IdempotencyKey)
		slog.Info("webhook accepted",
			"source", source,
			"key", event.IdempotencyKey,
			"seq", seq,
			"bytes", len(body),
		)
	}

	writeJSON(w, http.StatusAccepted, IntakeResponse{
		IdempotencyKey: event.IdempotencyKey,
		Sequence:       seq,
		Duplicate:      duplicate,
	})
}
