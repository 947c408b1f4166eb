package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DLQMessage is a dead-lettered event.
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

// DLQListResponse is the response from listing DLQ entries.
type DLQListResponse struct {
	Entries []DLQEntry `json:"entries"`
	Count   int        `json:"count"`
}

// DLQList returns dead-lettered events, optionally filtered by source.
func (c *Client) DLQList(source string, limit int) (*DLQListResponse, error) {
	u, _ := url.Parse(c.server + "/api/v1/dlq")
	q := u.Query()
	if source != "" {
		q.Set("source", source)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	resp, err := c.httpClient.Get(u.String())
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "failed to list DLQ"}
	}

	var result DLQListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// DLQGet retrieves one DLQ entry.
func (c *Client) DLQGet(seq uint64) (*DLQEntry, error) {
	resp, err := c.httpClient.Get(fmt.Sprintf("%s/api/v1/dlq/%d", c.server, seq))
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "DLQ entry not found"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "failed to get DLQ entry"}
	}

	var entry DLQEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

// DLQReplay resets a dead-lettered event to pending delivery.
func (c *Client) DLQReplay(seq uint64) (*DeliveryRecord, error) {
	resp, err := c.httpClient.Post(fmt.Sprintf("%s/api/v1/dlq/%d/replay", c.server, seq), "application/json", nil)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "DLQ entry not found"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "failed to replay DLQ entry"}
	}

	var rec DeliveryRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

// DLQDelete drops a DLQ entry without replaying it.
func (c *Client) DLQDelete(seq uint64) error {
	req, err := http.NewRequest("DELETE", fmt.Sprintf("%s/api/v1/dlq/%d", c.server, seq), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: "failed to delete DLQ entry"}
	}

	return nil
}
