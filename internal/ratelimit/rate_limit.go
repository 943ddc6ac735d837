/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acronis/watchtower/lrucache"
)

// DefaultMaxKeys is the default number of keys whose state is kept in memory.
const DefaultMaxKeys = 10000

// ErrUnknownAlg is returned when a limiter is requested for an unsupported algorithm.
var ErrUnknownAlg = errors.New("unknown rate limiting algorithm")

// Alg is a rate limiting algorithm.
type Alg string

// Rate limiting algorithms.
const (
	AlgFixedWindow   Alg = "fixed_window"
	AlgLeakyBucket   Alg = "leaky_bucket"
	AlgSlidingWindow Alg = "sliding_window"
)

// Rate describes the frequency of requests: at most Count requests per Duration.
type Rate struct {
	Count    int
	Duration time.Duration
}

func (r Rate) validate() error {
	if r.Count <= 0 {
		return fmt.Errorf("rate count should be positive, got %d", r.Count)
	}
	if r.Duration <= 0 {
		return fmt.Errorf("rate duration should be positive, got %s", r.Duration)
	}
	return nil
}

// Result is the outcome of a single admission decision.
type Result struct {
	// Allowed reports whether the request is admitted.
	Allowed bool

	// Limit is the maximum number of requests per window (or burst for leaky bucket).
	Limit int

	// Remaining is how many more requests are admitted in the current window.
	// It's negative when the algorithm cannot tell.
	Remaining int

	// ResetAfter is the time until the quota is fully restored.
	ResetAfter time.Duration

	// RetryAfter is the time after which a rejected request may succeed. It's zero for admitted requests.
	RetryAfter time.Duration
}

// Limiter interface defines the rate limiting contract.
// A rejection is not an error: it's reported with Result.Allowed == false.
// Errors mean the decision could not be made (e.g. the shared storage is unreachable).
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Opts contains optional parameters for in-memory limiters.
type Opts struct {
	// MaxKeys bounds the number of keys whose state is kept. DefaultMaxKeys is used if zero.
	MaxKeys int

	// MaxBurst is used by the leaky bucket algorithm only.
	MaxBurst int

	// MetricsCollector collects metrics of the per-key state store. May be nil.
	MetricsCollector lrucache.MetricsCollector

	// Now returns the current time. time.Now is used if nil.
	Now func() time.Time
}

// NewLimiter creates an in-memory limiter for the given algorithm.
func NewLimiter(alg Alg, rate Rate, opts Opts) (Limiter, error) {
	switch alg {
	case AlgFixedWindow, "":
		return NewFixedWindowLimiter(rate, opts)
	case AlgLeakyBucket:
		return NewLeakyBucketLimiter(rate, opts.MaxBurst, opts.MaxKeys)
	case AlgSlidingWindow:
		return NewSlidingWindowLimiter(rate, opts.MaxKeys)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAlg, alg)
}
