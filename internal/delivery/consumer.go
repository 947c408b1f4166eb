package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/filipexyz/hookd/internal/domain"
	"github.com/filipexyz/hookd/internal/security"
	"github.com/filipexyz/hookd/internal/verify"
)

// Consumer is the downstream delivery callback, registered once at startup.
// Deliver returns nil on ack; any error (including a context deadline)
// counts as a failed attempt. The scheduler never inspects payload
// semantics, and the consumer must itself be idempotent: redelivery after a
// crash is possible and expected.
type Consumer interface {
	Deliver(ctx context.Context, event *domain.Event) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(ctx context.Context, event *domain.Event) error

func (f ConsumerFunc) Deliver(ctx context.Context, event *domain.Event) error {
	return f(ctx, event)
}

// HTTPConsumer forwards events to a downstream endpoint as signed POSTs.
// The raw payload is forwarded byte-for-byte; metadata rides in headers.
type HTTPConsumer struct {
	url        string
	secret     string
	httpClient *http.Client
}

// NewHTTPConsumer creates a consumer posting to url, signing with secret.
func NewHTTPConsumer(url, secret string) *HTTPConsumer {
	return &HTTPConsumer{
		url:        url,
		secret:     secret,
		httpClient: newSafeHTTPClient(),
	}
}

// Deliver posts the event downstream. 2xx is an ack; anything else fails
// the attempt.
func (c *HTTPConsumer) Deliver(ctx context.Context, event *domain.Event) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(event.RawPayload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Hookd-Signature", verify.Sign(c.secret, ts, event.RawPayload))
	req.Header.Set("X-Hookd-Timestamp", ts)
	req.Header.Set("X-Hookd-Key", event.IdempotencyKey)
	req.Header.Set("X-Hookd-Source", event.Source)
	req.Header.Set("X-Hookd-Seq", strconv.FormatUint(event.Sequence, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
}

// newSafeHTTPClient creates an HTTP client that validates destination IPs
// on every connection (including redirects) to prevent SSRF attacks.
func newSafeHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := net.LookupIP(host)
			if err != nil {
				return nil, fmt.Errorf("cannot resolve %s: %w", host, err)
			}
			for _, ip := range ips {
				if err := security.ValidateIP(ip); err != nil {
					return nil, fmt.Errorf("blocked destination %s (%s): %w", host, ip, err)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
}
