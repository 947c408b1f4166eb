package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// StoredEvent represents an event with its stream metadata.
type StoredEvent struct {
	Seq   uint64 `json:"seq"`
	Event struct {
		IdempotencyKey string    `json:"idempotency_key"`
		Source         string    `json:"source"`
		SourceEventID  string    `json:"source_event_id,omitempty"`
		ReceivedAt     time.Time `json:"received_at"`
		RawPayload     []byte    `json:"raw_payload"`
		Sequence       uint64    `json:"sequence,omitempty"`
	} `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// DeliveryRecord is the delivery bookkeeping for one event.
type DeliveryRecord struct {
	Key            string    `json:"key"`
	Seq            uint64    `json:"seq"`
	Source         string    `json:"source"`
	State          string    `json:"state"`
	AttemptCount   int       `json:"attempt_count"`
	NextAttemptAt  time.Time `json:"next_attempt_at"`
	StateChangedAt time.Time `json:"state_changed_at"`
	LastError      string    `json:"last_error,omitempty"`
}

// EventsListResponse is the response from listing events.
type EventsListResponse struct {
	Events []StoredEvent `json:"events"`
	Count  int           `json:"count"`
}

// EventsQueryOptions configures event queries.
type EventsQueryOptions struct {
	Since uint64
	Limit int
}

// EventsList queries the event log from a sequence cursor.
func (c *Client) EventsList(opts EventsQueryOptions) (*EventsListResponse, error) {
	u, _ := url.Parse(c.server + "/api/v1/events")
	q := u.Query()

	if opts.Since > 0 {
		q.Set("since", strconv.FormatUint(opts.Since, 10))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	u.RawQuery = q.Encode()

	resp, err := c.httpClient.Get(u.String())
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "failed to list events"}
	}

	var result EventsListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// EventsGet retrieves a single event by sequence position.
func (c *Client) EventsGet(seq uint64) (*StoredEvent, error) {
	resp, err := c.httpClient.Get(fmt.Sprintf("%s/api/v1/events/%d", c.server, seq))
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "event not found"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "failed to get event"}
	}

	var event StoredEvent
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return nil, err
	}

	return &event, nil
}

// EventsGetRecord retrieves the delivery record for an idempotency key.
func (c *Client) EventsGetRecord(key string) (*DeliveryRecord, error) {
	resp, err := c.httpClient.Get(c.server + "/api/v1/events/key/" + url.PathEscape(key))
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "unknown idempotency key"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "failed to get delivery record"}
	}

	var rec DeliveryRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, err
	}

	return &rec, nil
}
