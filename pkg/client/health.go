package client

import (
	"encoding/json"
	"net/http"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string `json:"status"`
	Nats   bool   `json:"nats"`
}

// Health checks the server health.
func (c *Client) Health() (*HealthResponse, error) {
	resp, err := c.httpClient.Get(c.server + "/health")
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return &health, &APIError{
			StatusCode: resp.StatusCode,
			Message:    "server degraded",
		}
	}

	return &health, nil
}

// Ready checks if the server has finished its startup rebuild and accepts
// intake traffic.
func (c *Client) Ready() error {
	resp, err := c.httpClient.Get(c.server + "/ready")
	if err != nil {
		return &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    "server not ready",
		}
	}

	return nil
}
