/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acronis/watchtower/httpserver/middleware"
	"github.com/acronis/watchtower/log"
	"github.com/acronis/watchtower/retry"
)

// Default parameter values for RetryableRoundTripper.
const (
	DefaultMaxRetryAttempts                  = 3
	DefaultExponentialBackoffInitialInterval = 100 * time.Millisecond
	DefaultExponentialBackoffMultiplier      = 2
)

// RetryAttemptNumberHeader is an HTTP header that contains the serial number of the retry attempt.
const RetryAttemptNumberHeader = "X-Retry-Attempt"

// CheckRetryFunc is called after every attempt and decides whether the next one is needed.
type CheckRetryFunc func(ctx context.Context, req *http.Request, resp *http.Response, roundTripErr error) (bool, error)

// RetryableRoundTripper retries failed outgoing requests.
// Retry-After header of the response (if any) takes precedence over the backoff policy.
type RetryableRoundTripper struct {
	Delegate         http.RoundTripper
	LoggerProvider   func(ctx context.Context) log.FieldLogger
	MaxRetryAttempts int
	CheckRetry       CheckRetryFunc
	IgnoreRetryAfter bool
	BackoffPolicy    retry.Policy
}

// RetryableRoundTripperOpts represents options for RetryableRoundTripper.
type RetryableRoundTripperOpts struct {
	// LoggerProvider returns a context-specific logger.
	// middleware.GetLoggerFromContext is used by default.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// MaxRetryAttempts limits retries. The total number of attempts is MaxRetryAttempts + 1.
	// DefaultMaxRetryAttempts is used by default.
	MaxRetryAttempts int

	// CheckRetryFunc is DefaultCheckRetry by default.
	CheckRetryFunc CheckRetryFunc

	IgnoreRetryAfter bool

	// BackoffPolicy is DefaultBackoffPolicy by default.
	BackoffPolicy retry.Policy
}

// DefaultBackoffPolicy is an exponential policy with default parameters.
var DefaultBackoffPolicy retry.Policy = retry.ExponentialBackoffPolicy{
	InitialInterval: DefaultExponentialBackoffInitialInterval,
	Multiplier:      DefaultExponentialBackoffMultiplier,
}

// NewRetryableRoundTripper creates a new RetryableRoundTripper.
func NewRetryableRoundTripper(delegate http.RoundTripper) (*RetryableRoundTripper, error) {
	return NewRetryableRoundTripperWithOpts(delegate, RetryableRoundTripperOpts{})
}

// NewRetryableRoundTripperWithOpts creates a new RetryableRoundTripper with options.
func NewRetryableRoundTripperWithOpts(
	delegate http.RoundTripper, opts RetryableRoundTripperOpts,
) (*RetryableRoundTripper, error) {
	if opts.MaxRetryAttempts < 0 {
		return nil, fmt.Errorf("max retry attempts cannot be negative")
	}
	if opts.MaxRetryAttempts == 0 {
		opts.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if opts.LoggerProvider == nil {
		opts.LoggerProvider = func(ctx context.Context) log.FieldLogger {
			if logger := middleware.GetLoggerFromContext(ctx); logger != nil {
				return logger
			}
			return log.NewDisabledLogger()
		}
	}
	if opts.CheckRetryFunc == nil {
		opts.CheckRetryFunc = DefaultCheckRetry
	}
	if opts.BackoffPolicy == nil {
		opts.BackoffPolicy = DefaultBackoffPolicy
	}
	return &RetryableRoundTripper{
		Delegate:         delegate,
		LoggerProvider:   opts.LoggerProvider,
		MaxRetryAttempts: opts.MaxRetryAttempts,
		CheckRetry:       opts.CheckRetryFunc,
		IgnoreRetryAfter: opts.IgnoreRetryAfter,
		BackoffPolicy:    opts.BackoffPolicy,
	}, nil
}

// RoundTrip executes the request retrying it if needed.
func (rt *RetryableRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	logger := rt.LoggerProvider(ctx)

	rewindReqBody := func(*http.Request) error { return nil }
	if req.Body != nil && req.Body != http.NoBody {
		originalBody := req.Body
		defer func() { _ = originalBody.Close() }() // Per RoundTripper contract.
		var err error
		if rewindReqBody, err = makeRequestBodyRewindable(req); err != nil {
			return nil, &RetryableRoundTripperError{Inner: err}
		}
	}

	bf := rt.BackoffPolicy.NewBackOff()
	var resp *http.Response
	var roundTripErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := rewindReqBody(req); err != nil {
				logger.Error("failed to rewind request body between retry attempts",
					log.Int("attempts", attempt), log.Error(err))
				return resp, roundTripErr
			}
			if resp != nil {
				drainResponseBody(resp, logger)
			}
			req = CloneHTTPRequest(req) // Per RoundTripper contract.
			req.Header.Set(RetryAttemptNumberHeader, strconv.Itoa(attempt))
		}

		resp, roundTripErr = rt.Delegate.RoundTrip(req)

		needRetry, checkErr := rt.CheckRetry(ctx, req, resp, roundTripErr)
		if checkErr != nil {
			logger.Error("failed to check if retry is needed", log.Int("attempts", attempt+1), log.Error(checkErr))
			return resp, roundTripErr
		}
		if !needRetry {
			return resp, roundTripErr
		}
		if attempt >= rt.MaxRetryAttempts {
			logger.Warn("max retry attempts exceeded", log.Int("attempts", attempt+1))
			return resp, roundTripErr
		}

		waitTime, ok := rt.nextWaitTime(bf, resp)
		if !ok {
			return resp, roundTripErr
		}
		select {
		case <-ctx.Done():
			logger.Warn("context is done while waiting for the next retry attempt",
				log.Int("attempts", attempt+1), log.Error(ctx.Err()))
			return resp, roundTripErr
		case <-time.After(waitTime):
		}
	}
}

func (rt *RetryableRoundTripper) nextWaitTime(bf backoff.BackOff, resp *http.Response) (time.Duration, bool) {
	if resp != nil && !rt.IgnoreRetryAfter {
		if retryAfter, ok := parseRetryAfter(resp); ok {
			return retryAfter, true
		}
	}
	d := bf.NextBackOff()
	return d, d != backoff.Stop
}

// RetryableRoundTripperError is returned by RetryableRoundTripper when the request cannot be prepared for retries.
type RetryableRoundTripperError struct {
	Inner error
}

func (e *RetryableRoundTripperError) Error() string {
	return fmt.Sprintf("retryable round trip: %s", e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *RetryableRoundTripperError) Unwrap() error {
	return e.Inner
}

// DefaultCheckRetry retries temporary transport errors, 429 and 5xx responses.
// Requests with unsafe methods are retried only if the context carries the idempotent hint.
func DefaultCheckRetry(
	ctx context.Context, req *http.Request, resp *http.Response, roundTripErr error,
) (bool, error) {
	if !isIdempotentRequest(ctx, req) {
		return false, nil
	}
	if roundTripErr != nil {
		return CheckErrorIsTemporary(roundTripErr), nil
	}
	if resp == nil {
		return false, fmt.Errorf("both response and round trip error are nil")
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError, nil
}

func isIdempotentRequest(ctx context.Context, req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return GetIdempotentHintFromContext(ctx)
}

// CheckErrorIsTemporary reports whether the transport error may disappear on retry.
func CheckErrorIsTemporary(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var terr interface{ Temporary() bool }
	if errors.As(err, &terr) && terr.Temporary() {
		return true
	}
	var nerr interface{ Timeout() bool }
	return errors.As(err, &nerr) && nerr.Timeout()
}

func makeRequestBodyRewindable(req *http.Request) (func(*http.Request) error, error) {
	if req.GetBody != nil {
		return func(r *http.Request) error {
			body, err := r.GetBody()
			if err != nil {
				return fmt.Errorf("get body for retry: %w", err)
			}
			r.Body = body
			return nil
		}, nil
	}
	buffered, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body before doing first request: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(buffered))
	return func(r *http.Request) error {
		r.Body = io.NopCloser(bytes.NewReader(buffered))
		return nil
	}, nil
}

func drainResponseBody(resp *http.Response, logger log.FieldLogger) {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close previous response body between retry attempts", log.Error(err))
		}
	}()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		logger.Error("failed to discard previous response body between retry attempts", log.Error(err))
	}
}

func parseRetryAfter(resp *http.Response) (time.Duration, bool) {
	val := resp.Header.Get("Retry-After")
	if val == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(val); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	t, err := http.ParseTime(val)
	if err != nil {
		return 0, false
	}
	return time.Until(t), true
}
