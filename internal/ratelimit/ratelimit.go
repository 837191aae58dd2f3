// Package ratelimit implements the token-bucket admission limiter described
// in spec §4.6: capacity C per key, refilling at C/windowSeconds tokens per
// second, with an explicit retryAfter reported on denial.
//
// golang.org/x/time/rate supplies the refill math: a reservation's Delay()
// is exactly the spec's retryAfter, so Consume below leans on
// Limiter.ReserveN rather than re-deriving the bucket arithmetic by hand.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wharfd/wharfd/internal/logger"
)

// Limiter is a per-key token-bucket limiter with a background sweeper that
// removes buckets sitting at full capacity, bounding memory for long-lived
// deployments with high key cardinality (e.g. one bucket per client IP).
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	capacity int
	perSec   rate.Limit

	redis redisBucketStore // optional; nil unless configured

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// redisBucketStore is the seam a Redis-backed cross-process bucket mirror
// would implement; see internal/cache for the concrete adapter. Left as an
// interface here so this package has no import-time dependency on go-redis.
type redisBucketStore interface {
	Allow(ctx context.Context, key string, capacity int, windowSeconds float64) (allowed bool, retryAfter time.Duration, err error)
}

// New builds a Limiter with capacity tokens refilling over windowSeconds.
func New(capacity int, windowSeconds float64) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	l := &Limiter{
		buckets:   map[string]*rate.Limiter{},
		capacity:  capacity,
		perSec:    rate.Limit(float64(capacity) / windowSeconds),
		stopSweep: make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// WithRedis attaches a distributed bucket store used instead of the local
// map when non-nil, so multiple processes behind the same admission-control
// plugin share limiter state.
func (l *Limiter) WithRedis(store redisBucketStore) *Limiter {
	l.redis = store
	return l
}

// Consume attempts to take one token for key. allowed is false when the
// bucket has no tokens left; retryAfterSeconds is the ceil'd wait per spec.
func (l *Limiter) Consume(ctx context.Context, key string) (allowed bool, retryAfterSeconds int) {
	if l.redis != nil {
		windowSeconds := float64(l.capacity) / float64(l.perSec)
		ok, delay, err := l.redis.Allow(ctx, key, l.capacity, windowSeconds)
		if err == nil {
			return ok, int(math.Ceil(delay.Seconds()))
		}
		logger.RateLimit().Warn().Err(err).Msg("redis bucket store unavailable, falling back to local bucket")
	}

	limiter := l.getOrCreate(key)
	reservation := limiter.ReserveN(time.Now(), 1)
	if !reservation.OK() {
		return false, 0
	}
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		return false, int(math.Ceil(delay.Seconds()))
	}
	return true, 0
}

func (l *Limiter) getOrCreate(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.buckets[key]
	if !ok {
		lim = rate.NewLimiter(l.perSec, l.capacity)
		l.buckets[key] = lim
	}
	return lim
}

// sweepLoop periodically drops buckets sitting at full capacity (idle),
// bounding the map's size under sustained unique-key churn.
func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopSweep:
			return
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for key, lim := range l.buckets {
		if lim.TokensAt(now) >= float64(l.capacity) {
			delete(l.buckets, key)
		}
	}
}

// Stop halts the background sweeper. Safe to call once during shutdown.
func (l *Limiter) Stop() {
	l.sweepOnce.Do(func() { close(l.stopSweep) })
}
