// Package cache is the optional Redis-backed mirror described in
// SPEC_FULL.md's domain stack: a distributed rate-limit store for the
// admission rate limiter, so multiple wharfd processes behind the same
// deployment share rate-limit state, plus a generic JSON get/set surface.
// The policy store does not use this package. Disabled
// (nil client) is the default; every method degrades to a no-op or a
// "not enabled" error so callers only need one code path.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a pooled Redis client, or nil when disabled.
type Cache struct {
	client *redis.Client
}

// Config holds cache configuration, mirroring the runtime's REDIS_* env
// vars (internal/config.RuntimeConfig).
type Config struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// NewCache creates a Redis-backed cache, or a disabled stub if config.Enabled
// is false.
func NewCache(cfg Config) (*Cache, error) {
	if !cfg.Enabled {
		return &Cache{client: nil}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:        25,
		MinIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the underlying connection, if any.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsEnabled reports whether a live Redis connection backs this cache.
func (c *Cache) IsEnabled() bool {
	return c != nil && c.client != nil
}

// Get retrieves a value and unmarshals it into target.
func (c *Cache) Get(ctx context.Context, key string, target any) error {
	if !c.IsEnabled() {
		return fmt.Errorf("cache: not enabled")
	}
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return fmt.Errorf("cache: key not found: %s", key)
	}
	if err != nil {
		return fmt.Errorf("cache: get %s: %w", key, err)
	}
	return json.Unmarshal([]byte(val), target)
}

// Set stores value as JSON with the given TTL (0 means no expiry).
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsEnabled() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete removes one or more keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if !c.IsEnabled() || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// RateLimitStore adapts Cache into the ratelimit package's redisBucketStore
// seam: a fixed-window counter per key, approximating the local
// x/time/rate token bucket closely enough for cross-process admission
// control (spec §4.6 only mandates a retryAfter, not bucket-for-bucket
// parity with the single-process implementation).
type RateLimitStore struct {
	cache *Cache
}

// NewRateLimitStore wraps an enabled Cache for use as a Limiter's
// distributed bucket store.
func NewRateLimitStore(c *Cache) *RateLimitStore {
	return &RateLimitStore{cache: c}
}

// Allow increments the fixed-window counter for key, creating it with a
// windowSeconds expiry on first use, and reports whether the request is
// within capacity plus how long until the window resets if not.
func (s *RateLimitStore) Allow(ctx context.Context, key string, capacity int, windowSeconds float64) (bool, time.Duration, error) {
	if !s.cache.IsEnabled() {
		return false, 0, fmt.Errorf("cache: rate limit store not enabled")
	}
	window := time.Duration(windowSeconds * float64(time.Second))
	count, err := s.cache.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("cache: incr %s: %w", key, err)
	}
	if count == 1 {
		if err := s.cache.client.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, fmt.Errorf("cache: expire %s: %w", key, err)
		}
	}
	if int(count) <= capacity {
		return true, 0, nil
	}
	ttl, err := s.cache.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return false, ttl, nil
}
