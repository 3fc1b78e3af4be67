package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestIPRateLimiterAllow(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{
		Rate:            rate.Limit(1),
		Burst:           2,
		CleanupInterval: time.Minute,
		MaxAge:          time.Minute,
	})
	defer rl.Stop()

	if !rl.Allow("203.0.113.5") {
		t.Error("first request denied, want allowed")
	}
	if !rl.Allow("203.0.113.5") {
		t.Error("second request denied, want allowed within burst")
	}
	if rl.Allow("203.0.113.5") {
		t.Error("third request allowed, want denied past burst")
	}

	// A different switch host gets its own bucket.
	if !rl.Allow("203.0.113.6") {
		t.Error("request from fresh ip denied, want allowed")
	}
}

func TestIPRateLimiterSweep(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{
		Rate:            rate.Limit(10),
		Burst:           10,
		CleanupInterval: time.Hour,
		MaxAge:          0,
	})
	defer rl.Stop()

	rl.Allow("203.0.113.5")
	rl.Allow("203.0.113.6")

	// MaxAge 0 makes every client immediately stale.
	time.Sleep(time.Millisecond)
	rl.sweep()

	rl.mu.Lock()
	n := len(rl.clients)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("clients after sweep = %d, want 0", n)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{
		Rate:            rate.Limit(1),
		Burst:           1,
		CleanupInterval: time.Minute,
		MaxAge:          time.Minute,
	})
	defer rl.Stop()

	handler := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"event":"new_channel","unique_id":"1756400000.42","channel":"PJSIP/101-00000001"}`

	req := httptest.NewRequest(http.MethodPost, "/agent/events", strings.NewReader(body))
	req.RemoteAddr = "203.0.113.5:41234"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("first event status = %d, want 200", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/agent/events", strings.NewReader(body))
	req.RemoteAddr = "203.0.113.5:41234"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second event status = %d, want 429", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var env mwEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if env.Error != "rate limit exceeded" {
		t.Errorf("error = %q, want rate limit exceeded", env.Error)
	}
}

func TestAgentRateLimitConfig(t *testing.T) {
	cfg := AgentRateLimitConfig()
	if cfg.Rate != rate.Limit(200) || cfg.Burst != 400 {
		t.Errorf("agent config = %v/%d, want 200/400", cfg.Rate, cfg.Burst)
	}

	// The agent ceiling must sit well above the admin default so an event
	// replay never throttles earlier than admin traffic would.
	def := DefaultRateLimitConfig()
	if cfg.Rate <= def.Rate || cfg.Burst <= def.Burst {
		t.Error("agent config not above default config")
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.168.1.1:8080", "192.168.1.1"},
		{"[::1]:8080", "::1"},
		{"10.0.0.1", "10.0.0.1"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/agent/caller_name", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := extractIP(req); got != tt.want {
			t.Errorf("extractIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
