package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func testRateConfig() RateLimitConfig {
	return RateLimitConfig{
		DefaultRatePerSecond: 1,
		DefaultBurst:         3,
		SourceRates:          map[string]int{"priority": 100},
		UnknownRatePerSecond: 1,
		UnknownBurst:         1,
		CleanupInterval:      time.Minute,
		MaxAge:               time.Minute,
	}
}

func rateLimitedRouter(t *testing.T, rl *RateLimiter) *chi.Mux {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/webhooks/{source}", func(r chi.Router) {
		r.Use(RateLimit(rl))
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
	})
	return r
}

func post(r *chi.Mux, source, remoteAddr string) int {
	req := httptest.NewRequest("POST", "/webhooks/"+source, nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr.Code
}

func TestRateLimitBurstThenReject(t *testing.T) {
	rl := NewRateLimiter(testRateConfig(), func(string) bool { return true })
	defer rl.Stop()
	r := rateLimitedRouter(t, rl)

	for i := range 3 {
		if code := post(r, "billing", ""); code != http.StatusAccepted {
			t.Fatalf("request %d status = %d, want 202", i, code)
		}
	}
	if code := post(r, "billing", ""); code != http.StatusTooManyRequests {
		t.Fatalf("over-burst status = %d, want 429", code)
	}
}

func TestRateLimitPerSourceIsolation(t *testing.T) {
	rl := NewRateLimiter(testRateConfig(), func(string) bool { return true })
	defer rl.Stop()
	r := rateLimitedRouter(t, rl)

	for range 4 {
		post(r, "billing", "")
	}
	// billing exhausting its bucket must not affect github
	if code := post(r, "github", ""); code != http.StatusAccepted {
		t.Fatalf("unrelated source status = %d, want 202", code)
	}
}

func TestRateLimitSourceOverride(t *testing.T) {
	rl := NewRateLimiter(testRateConfig(), func(string) bool { return true })
	defer rl.Stop()
	r := rateLimitedRouter(t, rl)

	// priority gets burst 2x its 100/s override, far beyond the default
	for i := range 20 {
		if code := post(r, "priority", ""); code != http.StatusAccepted {
			t.Fatalf("request %d status = %d, want 202", i, code)
		}
	}
}

func TestRateLimitUnknownSourceByIP(t *testing.T) {
	known := func(source string) bool { return source == "billing" }
	rl := NewRateLimiter(testRateConfig(), known)
	defer rl.Stop()
	r := rateLimitedRouter(t, rl)

	// Unknown sources share the caller's IP bucket (burst 1)
	if code := post(r, "bogus-a", "10.1.2.3:1111"); code != http.StatusAccepted {
		t.Fatalf("first probe status = %d, want 202", code)
	}
	if code := post(r, "bogus-b", "10.1.2.3:2222"); code != http.StatusTooManyRequests {
		t.Fatalf("second probe from same IP status = %d, want 429", code)
	}
	// A different caller is unaffected
	if code := post(r, "bogus-a", "10.9.9.9:3333"); code != http.StatusAccepted {
		t.Fatalf("other IP status = %d, want 202", code)
	}
}
