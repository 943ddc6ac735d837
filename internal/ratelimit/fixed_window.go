/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/acronis/watchtower/lrucache"
)

type fixedWindowBucket struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// FixedWindowLimiter counts requests per key in fixed windows.
// The window of a key starts with its first request, not on a wall-clock boundary.
type FixedWindowLimiter struct {
	rate    Rate
	now     func() time.Time
	buckets *lrucache.LRUCache[string, *fixedWindowBucket]
}

var _ Limiter = (*FixedWindowLimiter)(nil)

// NewFixedWindowLimiter creates a new fixed window rate limiter.
// Buckets live in an LRU cache bounded by opts.MaxKeys and expire two windows after they were (re)opened,
// so idle clients do not hold memory; call RemoveExpired periodically to reclaim it eagerly.
func NewFixedWindowLimiter(rate Rate, opts Opts) (*FixedWindowLimiter, error) {
	if err := rate.validate(); err != nil {
		return nil, err
	}
	if opts.MaxKeys == 0 {
		opts.MaxKeys = DefaultMaxKeys
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	buckets, err := lrucache.NewWithOpts[string, *fixedWindowBucket](opts.MaxKeys, opts.MetricsCollector,
		lrucache.Options{DefaultTTL: bucketTTL(rate), Now: opts.Now})
	if err != nil {
		return nil, fmt.Errorf("new LRU in-memory store for keys: %w", err)
	}
	return &FixedWindowLimiter{rate: rate, now: opts.Now, buckets: buckets}, nil
}

// Allow checks if the request should be allowed based on the rate limit. It never returns an error.
func (l *FixedWindowLimiter) Allow(_ context.Context, key string) (Result, error) {
	return l.AllowAt(key, l.now()), nil
}

// AllowAt makes the admission decision for a request with the given key arriving at the given time.
func (l *FixedWindowLimiter) AllowAt(key string, now time.Time) Result {
	for {
		bucket, _ := l.buckets.GetOrAdd(key, func() *fixedWindowBucket {
			return &fixedWindowBucket{windowStart: now}
		})
		bucket.mu.Lock()
		if current, ok := l.buckets.Peek(key); !ok || current != bucket {
			// Evicted while waiting for the lock; the request goes to the bucket that replaced it.
			bucket.mu.Unlock()
			continue
		}
		res := l.allowLocked(key, bucket, now)
		bucket.mu.Unlock()
		return res
	}
}

func (l *FixedWindowLimiter) allowLocked(key string, bucket *fixedWindowBucket, now time.Time) Result {
	if now.Sub(bucket.windowStart) >= l.rate.Duration {
		bucket.count = 0
		bucket.windowStart = now
		// Re-stores the entry even if its TTL has already elapsed, so the reopened window is never dropped.
		l.buckets.AddWithTTL(key, bucket, bucketTTL(l.rate))
	}
	bucket.count++ // rejected requests are counted too

	resetAfter := bucket.windowStart.Add(l.rate.Duration).Sub(now)
	if bucket.count > l.rate.Count {
		return Result{Allowed: false, Limit: l.rate.Count, Remaining: 0, ResetAfter: resetAfter, RetryAfter: resetAfter}
	}
	return Result{Allowed: true, Limit: l.rate.Count, Remaining: l.rate.Count - bucket.count, ResetAfter: resetAfter}
}

// bucketTTL keeps a bucket for one more window after its window ends,
// so a request whose timestamp lags the cache clock still finds the bucket.
func bucketTTL(rate Rate) time.Duration {
	return 2 * rate.Duration
}

// RemoveExpired drops buckets idle for a full window after their window has elapsed and returns how many were dropped.
func (l *FixedWindowLimiter) RemoveExpired() int {
	return l.buckets.RemoveExpired()
}

// KeysCount returns the number of keys currently tracked.
func (l *FixedWindowLimiter) KeysCount() int {
	return l.buckets.Len()
}
