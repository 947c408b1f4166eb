package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the append-only log of accepted webhook events.
	StreamName = "HOOKD_EVENTS"
	// DLQStreamName holds events that exhausted their delivery attempts.
	DLQStreamName = "HOOKD_DLQ"
	// DeliveryBucket is the KV bucket of per-event delivery records,
	// keyed by idempotency key. KV revisions back the store's CAS.
	DeliveryBucket = "hookd_delivery"
)

// Client wraps NATS connection and JetStream.
type Client struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	stream   jetstream.Stream
	dlq      jetstream.Stream
	delivery jetstream.KeyValue
}

// Connect establishes a connection to NATS and initializes JetStream.
func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &Client{
		conn: nc,
		js:   js,
	}, nil
}

// EnsureStreams creates or updates the required JetStream streams and the
// delivery-record KV bucket. Must succeed before intake accepts traffic.
func (c *Client) EnsureStreams(ctx context.Context) error {
	// Append-only event log. No MaxAge: retention is an external policy,
	// the core never deletes accepted events.
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "hookd accepted webhook events",
		Subjects:    []string{"hooks.>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		Replicas:    1,
		// Broker-side duplicate suppression window on Nats-Msg-Id,
		// defense in depth beneath the dedup index.
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	c.stream = stream
	slog.Info("JetStream stream ready", "name", StreamName)

	dlq, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        DLQStreamName,
		Description: "hookd dead letter queue",
		Subjects:    []string{"dlq.>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("create DLQ stream: %w", err)
	}
	c.dlq = dlq
	slog.Info("JetStream stream ready", "name", DLQStreamName)

	kv, err := c.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      DeliveryBucket,
		Description: "hookd per-event delivery records",
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create delivery bucket: %w", err)
	}
	c.delivery = kv
	slog.Info("JetStream KV bucket ready", "name", DeliveryBucket)

	return nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Stream returns the events stream.
func (c *Client) Stream() jetstream.Stream {
	return c.stream
}

// DLQ returns the dead letter stream.
func (c *Client) DLQ() jetstream.Stream {
	return c.dlq
}

// DeliveryKV returns the delivery-record bucket.
func (c *Client) DeliveryKV() jetstream.KeyValue {
	return c.delivery
}

// Close closes the NATS connection.
func (c *Client) Close() {
	c.conn.Drain()
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}
