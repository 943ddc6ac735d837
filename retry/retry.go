/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package retry runs operations against upstream collaborators with backoff between attempts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// IsRetryable reports whether an error is transient. A nil IsRetryable treats every error as transient.
type IsRetryable func(error) bool

// RetryableFunc is an operation that may be attempted several times.
type RetryableFunc func(ctx context.Context) error

// Policy produces a fresh backoff for every DoWithRetry call.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// PolicyFunc is an adapter to allow the use of ordinary functions as Policy.
type PolicyFunc func() backoff.BackOff

// NewBackOff implements Policy.
func (f PolicyFunc) NewBackOff() backoff.BackOff {
	return f()
}

// DoWithRetry calls fn until it succeeds, returns a non-retryable error, the policy gives up,
// or ctx is done. The last error of fn is returned.
// notify (may be nil) is called before every sleep with the error and the delay.
func DoWithRetry(ctx context.Context, p Policy, isRetryable IsRetryable, notify backoff.Notify, fn RetryableFunc) error {
	bctx := backoff.WithContext(p.NewBackOff(), ctx)
	op := func() error {
		err := fn(bctx.Context())
		if err != nil && isRetryable != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, bctx, notify)
}

// ExponentialBackoffPolicy retries with exponentially growing delays.
type ExponentialBackoffPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	// MaxRetryAttempts limits the number of retries. Zero means no limit other than the context.
	MaxRetryAttempts int
}

// NewExponentialBackoffPolicy returns an exponential policy with the default multiplier.
func NewExponentialBackoffPolicy(initialInterval time.Duration, maxRetryAttempts int) ExponentialBackoffPolicy {
	return ExponentialBackoffPolicy{InitialInterval: initialInterval, MaxRetryAttempts: maxRetryAttempts}
}

// NewBackOff implements Policy.
func (p ExponentialBackoffPolicy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	if p.Multiplier > 1 {
		eb.Multiplier = p.Multiplier
	}
	return withMaxRetries(eb, p.MaxRetryAttempts)
}

// ConstantBackoffPolicy retries with a fixed delay.
type ConstantBackoffPolicy struct {
	Interval         time.Duration
	MaxRetryAttempts int
}

// NewConstantBackoffPolicy returns a constant policy.
func NewConstantBackoffPolicy(interval time.Duration, maxRetryAttempts int) ConstantBackoffPolicy {
	return ConstantBackoffPolicy{Interval: interval, MaxRetryAttempts: maxRetryAttempts}
}

// NewBackOff implements Policy.
func (p ConstantBackoffPolicy) NewBackOff() backoff.BackOff {
	return withMaxRetries(backoff.NewConstantBackOff(p.Interval), p.MaxRetryAttempts)
}

func withMaxRetries(b backoff.BackOff, maxRetryAttempts int) backoff.BackOff {
	if maxRetryAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(maxRetryAttempts))
	}
	b.Reset()
	return b
}
