// Package coordination implements the Redis-backed lock the write-once
// middleware uses to guarantee a presigned URL is served at most once,
// per SPEC_FULL.md §4.10.
package coordination

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// LockDuration is the TTL applied to a successfully-acquired lock, matching
// the original implementation's constant.
const LockDuration = time.Hour

// Store wraps a redis.Client with the two operations write-once needs.
// Construction mirrors the teacher's internal/cache/redis client setup:
// options built from Config, a Ping on connect, structured logging.
type Store struct {
	client *redis.Client
	logger zerolog.Logger
}

// Config names the subset of connection parameters the original
// implementation's redis_config.rs exposes as CLI flags/env vars.
type Config struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New parses cfg.URL (a redis:// URL) and opens a client, verifying
// connectivity with a Ping before returning.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("coordination: parsing redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("coordination: connecting to redis: %w", err)
	}

	sub := logger.With().Str("component", "coordination").Logger()
	sub.Info().Str("addr", opts.Addr).Msg("connected to redis")

	return &Store{client: client, logger: sub}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("coordination: closing redis client: %w", err)
	}
	s.logger.Info().Msg("redis connection closed")
	return nil
}

// HashKey returns the lock key for a URI: "locks:" followed by the hex
// SHA-256 digest of the URI, matching the original implementation's
// WriteOnceService::hash_key.
func HashKey(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return "locks:" + hex.EncodeToString(sum[:])
}

// TryAcquire attempts SET key value EX LockDuration NX for uri's hash key.
// It reports true if the lock was newly acquired, false if it already
// existed.
func (s *Store) TryAcquire(ctx context.Context, uri string) (bool, error) {
	key := HashKey(uri)
	ok, err := s.client.SetNX(ctx, key, "true", LockDuration).Result()
	if err != nil {
		return false, fmt.Errorf("coordination: SET NX %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes uri's lock key, allowing a subsequent attempt to proceed.
func (s *Store) Release(ctx context.Context, uri string) error {
	key := HashKey(uri)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("coordination: DEL %s: %w", key, err)
	}
	return nil
}
