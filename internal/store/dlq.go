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

// DLQMessage is a dead-lettered event: one that exhausted its delivery
// attempts. The original event stays in the log; this is the operational
// signal plus enough context to replay it.
type DLQMessage struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Seq            uint64    `json:"seq"`
	Source         string    `json:"source"`
	ReceivedAt     time.Time `json:"received_at"`
	FailedAt       time.Time `json:"failed_at"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error,omitempty"`
}

// DLQEntry is a DLQ message with its own stream sequence.
type DLQEntry struct {
	Seq     uint64      `json:"seq"`
	Message *DLQMessage `json:"message"`
}

// DeadLetter records that an event reached the terminal failure state.
func (s *Store) DeadLetter(ctx context.Context, event *domain.Event, attempts int, lastErr string) error {
	msg := DLQMessage{
		IdempotencyKey: event.IdempotencyKey,
		Seq:            event.Sequence,
		Source:         event.Source,
		ReceivedAt:     event.ReceivedAt,
		FailedAt:       time.Now().UTC(),
		Attempts:       attempts,
		LastError:      lastErr,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal DLQ message: %w", err)
	}

	if _, err := s.js.Publish(ctx, "dlq."+event.Source, data); err != nil {
		return fmt.Errorf("publish to DLQ: %w", err)
	}
	return nil
}

// DLQList returns dead-lettered events, optionally filtered by source.
func (s *Store) DLQList(ctx context.Context, source string, limit int) ([]DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	filterSubject := "dlq.>"
	if source != "" {
		filterSubject = "dlq." + source
	}

	consumer, err := s.dlq.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create DLQ consumer: %w", err)
	}

	entries := make([]DLQEntry, 0, limit)

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(time.Second))
	if err != nil {
		return entries, nil // no messages or timeout
	}

	for msg := range msgs.Messages() {
		var dlqMsg DLQMessage
		if err := json.Unmarshal(msg.Data(), &dlqMsg); err != nil {
			continue
		}

		meta, _ := msg.Metadata()
		seq := uint64(0)
		if meta != nil {
			seq = meta.Sequence.Stream
		}

		entries = append(entries, DLQEntry{Seq: seq, Message: &dlqMsg})
	}

	return entries, nil
}

// DLQGet retrieves a dead-lettered event by its DLQ sequence.
func (s *Store) DLQGet(ctx context.Context, seq uint64) (*DLQEntry, error) {
	msg, err := s.dlq.GetMsg(ctx, seq)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get DLQ message: %w", err)
	}

	var dlqMsg DLQMessage
	if err := json.Unmarshal(msg.Data, &dlqMsg); err != nil {
		return nil, fmt.Errorf("unmarshal DLQ message: %w", err)
	}

	return &DLQEntry{Seq: seq, Message: &dlqMsg}, nil
}

// DLQDelete removes a message from the DLQ.
func (s *Store) DLQDelete(ctx context.Context, seq uint64) error {
	return s.dlq.DeleteMsg(ctx, seq)
}

// DLQReplay resets a dead-lettered event's delivery record back to pending
// with a fresh attempt budget and removes it from the DLQ. This is the one
// deliberate exception to the forward-only state machine: an explicit
// operator action, never taken automatically.
func (s *Store) DLQReplay(ctx context.Context, seq uint64) (*DeliveryRecord, error) {
	entry, err := s.DLQGet(ctx, seq)
	if err != nil {
		return nil, err
	}

	rec, err := s.resetDeliveryRecord(ctx, entry.Message.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	if err := s.DLQDelete(ctx, seq); err != nil {
		return rec, fmt.Errorf("delete replayed DLQ message: %w", err)
	}
	return rec, nil
}
