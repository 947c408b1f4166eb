// Package store is the durable event store: an append-only JetStream log of
// accepted webhooks plus a KV bucket of per-event delivery records. The log
// is the single source of truth; the stream sequence number is the event's
// total-order position and replay cursor.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/filipexyz/hookd/internal/domain"
	"github.com/nats-io/nats.go/jetstream"
)

var (
	// ErrDuplicateKey means the idempotency key already names a stored
	// event. Not a failure at intake: duplicates are acknowledged
	// identically to fresh events.
	ErrDuplicateKey = errors.New("idempotency key already stored")
	// ErrStaleState means a compare-and-swap on a delivery record lost to
	// a concurrent writer or the expected state no longer matches.
	ErrStaleState = errors.New("delivery record state is stale")
	// ErrNotFound means no event or record exists for the given position
	// or key.
	ErrNotFound = errors.New("not found")
)

// Store is the durable event store.
type Store struct {
	js     jetstream.JetStream
	stream jetstream.Stream
	dlq    jetstream.Stream
	kv     jetstream.KeyValue
}

// New creates a Store over an events stream, DLQ stream and delivery bucket
// (see the nats package for their configuration).
func New(js jetstream.JetStream, stream, dlq jetstream.Stream, kv jetstream.KeyValue) *Store {
	return &Store{js: js, stream: stream, dlq: dlq, kv: kv}
}

// StoredEvent is an event together with its stream metadata.
type StoredEvent struct {
	Seq       uint64        `json:"seq"`
	Event     *domain.Event `json:"event"`
	Timestamp time.Time     `json:"timestamp"`
}

// Append durably appends an event and creates its pending delivery record.
// It returns the assigned sequence position only after the JetStream publish
// ack, i.e. after the message is recoverable across a crash.
//
// A second append with the same idempotency key returns the existing
// sequence and ErrDuplicateKey; the stored payload is never touched. This is
// defense in depth beneath the dedup index: the broker suppresses re-appends
// by Nats-Msg-Id within its duplicate window, and the record create is
// atomic (KV Create fails if the key exists) beyond it.
func (s *Store) Append(ctx context.Context, event *domain.Event) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}

	ack, err := s.js.Publish(ctx, "hooks."+event.Source, data,
		jetstream.WithMsgID(event.IdempotencyKey),
	)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	event.Sequence = ack.Sequence

	rec := DeliveryRecord{
		Key:            event.IdempotencyKey,
		Seq:            ack.Sequence,
		Source:         event.Source,
		State:          domain.StatePending,
		NextAttemptAt:  time.Now().UTC(),
		StateChangedAt: time.Now().UTC(),
	}
	recData, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal delivery record: %w", err)
	}

	_, err = s.kv.Create(ctx, event.IdempotencyKey, recData)
	if errors.Is(err, jetstream.ErrKeyExists) {
		// Lost the reservation race, or the broker deduplicated the
		// publish (ack.Duplicate). Either way exactly one record
		// exists; report its position.
		if existing, _, lookupErr := s.LookupKey(ctx, event.IdempotencyKey); lookupErr == nil {
			return existing.Seq, ErrDuplicateKey
		}
		return ack.Sequence, ErrDuplicateKey
	}
	if err != nil {
		// The event is in the log but its record is not. The caller
		// retries the whole append: the publish is suppressed by
		// msg-id dedup and only the record create is redone.
		return 0, fmt.Errorf("create delivery record: %w", err)
	}

	slog.Debug("event appended",
		"key", event.IdempotencyKey,
		"source", event.Source,
		"seq", ack.Sequence,
		"duplicate", ack.Duplicate,
	)
	return ack.Sequence, nil
}

// GetBySeq retrieves a stored event by sequence position.
func (s *Store) GetBySeq(ctx context.Context, seq uint64) (*StoredEvent, error) {
	msg, err := s.stream.GetMsg(ctx, seq)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event %d: %w", seq, err)
	}

	var event domain.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event %d: %w", seq, err)
	}
	event.Sequence = seq

	return &StoredEvent{Seq: seq, Event: &event, Timestamp: msg.Time}, nil
}

// ScanSince returns up to limit events with sequence strictly greater than
// since, in sequence order. Restartable from any position; used by the
// delivery scheduler's recovery sweep and by operational replay.
func (s *Store) ScanSince(ctx context.Context, since uint64, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	cfg := jetstream.ConsumerConfig{
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
	if since > 0 {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = since + 1
	}

	consumer, err := s.stream.CreateOrUpdateConsumer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create scan consumer: %w", err)
	}

	events := make([]StoredEvent, 0, limit)

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return events, nil // no messages or timeout
	}

	for msg := range msgs.Messages() {
		var event domain.Event
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			continue
		}

		meta, _ := msg.Metadata()
		se := StoredEvent{Event: &event, Timestamp: event.ReceivedAt}
		if meta != nil {
			se.Seq = meta.Sequence.Stream
			se.Timestamp = meta.Timestamp
		}
		event.Sequence = se.Seq

		events = append(events, se)
		if len(events) >= limit {
			break
		}
	}

	return events, nil
}
