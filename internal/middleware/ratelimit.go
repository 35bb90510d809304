package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/cipherproxy/internal/metrics"
)

// RateLimiter implements per-caller token bucket rate limiting in front of
// the proxy's upload/download handlers. Clients are identified by their
// SigV4 access key when the request carries one, since that survives a NAT
// or load balancer that would otherwise collapse many distinct callers onto
// one IP; anonymous or unsigned requests fall back to the remote address.
type RateLimiter struct {
	// Configuration
	requestsPerSecond float64
	burstSize         int
	enabled           bool

	// Per-client buckets
	buckets sync.Map // map[string]*bucket

	// Metrics
	metrics *metrics.Metrics
	logger  zerolog.Logger

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
}

// bucket represents a token bucket for a single client.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	// RequestsPerSecond is the rate of token refill.
	RequestsPerSecond float64

	// BurstSize is the maximum number of tokens (burst capacity).
	BurstSize int

	// Enabled determines if rate limiting is active.
	Enabled bool

	// CleanupInterval is how often to clean up stale buckets.
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig returns sensible defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
		Enabled:           true,
		CleanupInterval:   5 * time.Minute,
	}
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig, m *metrics.Metrics, logger zerolog.Logger) *RateLimiter {
	rl := &RateLimiter{
		requestsPerSecond: config.RequestsPerSecond,
		burstSize:         config.BurstSize,
		enabled:           config.Enabled,
		metrics:           m,
		logger:            logger.With().Str("component", "ratelimiter").Logger(),
		cleanupInterval:   config.CleanupInterval,
		stopCleanup:       make(chan struct{}),
	}

	if config.Enabled {
		go rl.cleanupLoop()
	}

	return rl
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.enabled {
			next.ServeHTTP(w, r)
			return
		}

		clientID := rl.getClientID(r)

		if !rl.allow(clientID) {
			rl.logger.Warn().
				Str("client_id", clientID).
				Str("path", r.URL.Path).
				Msg("Rate limit exceeded")

			if rl.metrics != nil {
				rl.metrics.RecordRateLimited("request")
			}

			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded, please slow down", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getClientID extracts the client identifier from the request: the SigV4
// access key id named in an Authorization header's Credential= component
// when present, else the X-Forwarded-For header (for proxied requests),
// else the raw remote address.
func (rl *RateLimiter) getClientID(r *http.Request) string {
	if accessKeyID := accessKeyIDFromAuthorization(r.Header.Get("Authorization")); accessKeyID != "" {
		return accessKeyID
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}

	return r.RemoteAddr
}

// accessKeyIDFromAuthorization pulls the access key id out of a SigV4
// Authorization header's "Credential=<access-key-id>/<date>/<region>/..."
// component, or returns "" if the header is absent or malformed.
func accessKeyIDFromAuthorization(authHeader string) string {
	const marker = "Credential="
	idx := strings.Index(authHeader, marker)
	if idx < 0 {
		return ""
	}
	credential := authHeader[idx+len(marker):]
	if end := strings.IndexAny(credential, ", "); end >= 0 {
		credential = credential[:end]
	}
	accessKeyID, _, found := strings.Cut(credential, "/")
	if !found {
		return ""
	}
	return accessKeyID
}

// allow checks if a request is allowed under the rate limit.
func (rl *RateLimiter) allow(clientID string) bool {
	b := rl.getBucket(clientID)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	// Refill tokens based on time elapsed
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * rl.requestsPerSecond

	// Cap at burst size
	if b.tokens > float64(rl.burstSize) {
		b.tokens = float64(rl.burstSize)
	}

	b.lastRefill = now

	// Check if we have at least 1 token
	if b.tokens >= 1 {
		b.tokens--
		return true
	}

	return false
}

// getBucket gets or creates a bucket for the client.
func (rl *RateLimiter) getBucket(clientID string) *bucket {
	if b, ok := rl.buckets.Load(clientID); ok {
		return b.(*bucket)
	}

	// Create new bucket with full tokens
	b := &bucket{
		tokens:     float64(rl.burstSize),
		lastRefill: time.Now(),
	}

	actual, _ := rl.buckets.LoadOrStore(clientID, b)
	return actual.(*bucket)
}

// cleanupLoop periodically removes stale buckets.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup removes buckets that haven't been accessed recently.
func (rl *RateLimiter) cleanup() {
	threshold := time.Now().Add(-rl.cleanupInterval)
	deleted := 0

	rl.buckets.Range(func(key, value interface{}) bool {
		b := value.(*bucket)
		b.mu.Lock()
		if b.lastRefill.Before(threshold) {
			rl.buckets.Delete(key)
			deleted++
		}
		b.mu.Unlock()
		return true
	})

	if deleted > 0 {
		rl.logger.Debug().
			Int("deleted", deleted).
			Msg("Cleaned up stale rate limit buckets")
	}
}

// Stop stops the rate limiter's background cleanup.
func (rl *RateLimiter) Stop() {
	if rl.enabled {
		close(rl.stopCleanup)
	}
}
