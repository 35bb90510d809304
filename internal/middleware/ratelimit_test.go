package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 10,
		BurstSize:         3,
		Enabled:           false, // disable the background cleanup goroutine for this unit test
	}, sharedMetrics(), zerolog.Nop())

	for i := 0; i < 3; i++ {
		if !rl.allow("client-a") {
			t.Fatalf("request %d within burst size was denied", i)
		}
	}
}

func TestRateLimiterDeniesBeyondBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         2,
		Enabled:           false,
	}, sharedMetrics(), zerolog.Nop())

	if !rl.allow("client-b") || !rl.allow("client-b") {
		t.Fatal("first two requests within burst should be allowed")
	}
	if rl.allow("client-b") {
		t.Fatal("third request beyond burst size should be denied")
	}
}

func TestRateLimiterRefillsTokensOverTime(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 1000,
		BurstSize:         1,
		Enabled:           false,
	}, sharedMetrics(), zerolog.Nop())

	if !rl.allow("client-c") {
		t.Fatal("first request should be allowed")
	}
	if rl.allow("client-c") {
		t.Fatal("second immediate request should be denied, bucket just drained")
	}

	time.Sleep(50 * time.Millisecond)

	if !rl.allow("client-c") {
		t.Fatal("request after refill window should be allowed")
	}
}

func TestRateLimiterIsolatesClientsByID(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         1,
		Enabled:           false,
	}, sharedMetrics(), zerolog.Nop())

	if !rl.allow("client-d") {
		t.Fatal("client-d's first request should be allowed")
	}
	if !rl.allow("client-e") {
		t.Fatal("client-e's bucket is independent of client-d's and should be allowed")
	}
}

func TestRateLimiterGetClientIDPrefersAccessKeyID(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig(), sharedMetrics(), zerolog.Nop())
	defer rl.Stop()

	req := httptest.NewRequest(http.MethodGet, "/upstream/object.bin", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("Authorization",
		"AWS4-HMAC-SHA256 Credential=AKIAEXAMPLE/20260731/us-east-1/s3/aws4_request, "+
			"SignedHeaders=host;x-amz-date, Signature=deadbeef")

	if got := rl.getClientID(req); got != "AKIAEXAMPLE" {
		t.Fatalf("getClientID = %q, want the SigV4 access key id", got)
	}
}

func TestRateLimiterGetClientIDPrefersForwardedFor(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig(), sharedMetrics(), zerolog.Nop())
	defer rl.Stop()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	if got := rl.getClientID(req); got != "203.0.113.9" {
		t.Fatalf("getClientID = %q, want the forwarded address", got)
	}
}

func TestRateLimiterGetClientIDFallsBackToRemoteAddr(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig(), sharedMetrics(), zerolog.Nop())
	defer rl.Stop()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	if got := rl.getClientID(req); got != "10.0.0.1:1234" {
		t.Fatalf("getClientID = %q, want remote addr", got)
	}
}

func TestRateLimiterMiddlewareReturns429OnceExhausted(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 0.0001,
		BurstSize:         1,
		Enabled:           false,
	}, sharedMetrics(), zerolog.Nop())
	// Enforce limits without starting the background cleanup goroutine.
	rl.enabled = true

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rl.Middleware(next)

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/upstream/object.bin", nil)
		r.RemoteAddr = "198.51.100.7:5555"
		return r
	}

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req())
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", rec1.Code, http.StatusOK)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req())
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", rec2.Code, http.StatusTooManyRequests)
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Fatal("429 response missing Retry-After header")
	}
}

func TestRateLimiterMiddlewareBypassesWhenDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 0.0001,
		BurstSize:         1,
		Enabled:           false,
	}, sharedMetrics(), zerolog.Nop())
	rl.enabled = false

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rl.Middleware(next)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/upstream/object.bin", nil)
		req.RemoteAddr = "198.51.100.8:5555"
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want %d with rate limiting disabled", i, rec.Code, http.StatusOK)
		}
	}
}

func TestAccessKeyIDFromAuthorizationRejectsMalformedHeader(t *testing.T) {
	cases := []string{
		"",
		"Bearer sometoken",
		"AWS4-HMAC-SHA256 SignedHeaders=host, Signature=deadbeef",
		"AWS4-HMAC-SHA256 Credential=, Signature=deadbeef",
	}
	for _, authHeader := range cases {
		if got := accessKeyIDFromAuthorization(authHeader); got != "" {
			t.Errorf("accessKeyIDFromAuthorization(%q) = %q, want empty", authHeader, got)
		}
	}
}
