package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Event is one accepted webhook, exactly as it was verified at intake.
// Everything except the delivery bookkeeping (which lives in the store's
// delivery record) is write-once.
type Event struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Source         string    `json:"source"`
	SourceEventID  string    `json:"source_event_id,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
	RawPayload     []byte    `json:"raw_payload"`

	// Sequence is assigned by the store on durable append; zero until then.
	Sequence uint64 `json:"sequence,omitempty"`
}

// NewEvent builds an Event for a verified request body.
func NewEvent(source, sourceEventID string, payload []byte) *Event {
	now := time.Now().UTC()
	return &Event{
		IdempotencyKey: DeriveKey(source, sourceEventID, payload, now),
		Source:         source,
		SourceEventID:  sourceEventID,
		ReceivedAt:     now,
		RawPayload:     payload,
	}
}

// DeriveKey computes the idempotency key for a delivery. Senders that supply
// an event id get a stable key across retries; without one we fall back to a
// content hash bucketed by arrival minute, so network-level retries of the
// same body still collapse.
func DeriveKey(source, sourceEventID string, payload []byte, receivedAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte(":"))
	if sourceEventID != "" {
		h.Write([]byte(sourceEventID))
	} else {
		body := sha256.Sum256(payload)
		h.Write(body[:])
		h.Write([]byte(":"))
		h.Write([]byte(receivedAt.UTC().Truncate(time.Minute).Format(time.RFC3339)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DeliveryState is the redelivery state machine position for an event.
// Transitions only move forward: pending -> in_flight -> {delivered,
// pending(retry), failed}. delivered and failed are terminal.
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateInFlight  DeliveryState = "in_flight"
	StateDelivered DeliveryState = "delivered"
	StateFailed    DeliveryState = "failed"
)

// Valid reports whether s is a known state.
func (s DeliveryState) Valid() bool {
	switch s {
	case StatePending, StateInFlight, StateDelivered, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s DeliveryState) Terminal() bool {
	return s == StateDelivered || s == StateFailed
}

// CanTransition reports whether s -> next is a legal state machine move.
func (s DeliveryState) CanTransition(next DeliveryState) bool {
	switch s {
	case StatePending:
		// pending -> failed happens when the attempt ceiling is hit
		// before another claim is made.
		return next == StateInFlight || next == StateFailed
	case StateInFlight:
		return next == StateDelivered || next == StatePending || next == StateFailed
	}
	return false
}
