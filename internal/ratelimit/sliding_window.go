/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/RussellLuo/slidingwindow"

	"github.com/acronis/watchtower/lrucache"
)

// SlidingWindowLimiter implements sliding window rate limiting algorithm.
// The underlying implementation does not expose the remaining quota, so Result.Remaining is always -1.
type SlidingWindowLimiter struct {
	getLimiter func(key string) *slidingwindow.Limiter
	maxRate    Rate
}

var _ Limiter = (*SlidingWindowLimiter)(nil)

// NewSlidingWindowLimiter creates a new sliding window rate limiter.
func NewSlidingWindowLimiter(maxRate Rate, maxKeys int) (*SlidingWindowLimiter, error) {
	if err := maxRate.validate(); err != nil {
		return nil, err
	}
	if maxKeys == 0 {
		maxKeys = DefaultMaxKeys
	}
	newLimiter := func() *slidingwindow.Limiter {
		lim, _ := slidingwindow.NewLimiter(
			maxRate.Duration, int64(maxRate.Count), func() (slidingwindow.Window, slidingwindow.StopFunc) {
				return slidingwindow.NewLocalWindow()
			})
		return lim
	}
	// A key idle for two windows has no influence on the next decision, so its state may go.
	store, err := lrucache.NewWithOpts[string, *slidingwindow.Limiter](
		maxKeys, nil, lrucache.Options{DefaultTTL: 2 * maxRate.Duration})
	if err != nil {
		return nil, fmt.Errorf("new LRU in-memory store for keys: %w", err)
	}
	return &SlidingWindowLimiter{
		maxRate: maxRate,
		getLimiter: func(key string) *slidingwindow.Limiter {
			lim, _ := store.GetOrAdd(key, newLimiter)
			store.Touch(key, 2*maxRate.Duration)
			return lim
		},
	}, nil
}

// Allow checks if the request should be allowed based on the rate limit.
func (l *SlidingWindowLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := time.Now()
	resetAfter := now.Truncate(l.maxRate.Duration).Add(l.maxRate.Duration).Sub(now)
	result := Result{Allowed: l.getLimiter(key).Allow(), Limit: l.maxRate.Count, Remaining: -1, ResetAfter: resetAfter}
	if !result.Allowed {
		result.RetryAfter = resetAfter
	}
	return result, nil
}
