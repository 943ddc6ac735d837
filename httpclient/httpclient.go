/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package httpclient builds HTTP clients for calls to upstream collaborators.
// The transport of such a client is a chain of round trippers: in-flight tracking, logging, metrics,
// client-side rate limiting, retries, user agent, request ID propagation and bearer authorization.
package httpclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/acronis/watchtower/inflight"
	"github.com/acronis/watchtower/log"
)

// CloneHTTPRequest creates a shallow copy of the request along with a deep copy of the headers.
func CloneHTTPRequest(req *http.Request) *http.Request {
	r := new(http.Request)
	*r = *req
	r.Header = req.Header.Clone()
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	return r
}

// Opts provides options for NewWithOpts and MustWithOpts functions.
type Opts struct {
	// UserAgent is set in requests which don't have User-Agent header.
	UserAgent string

	// RequestType is used in logs and metrics (e.g. "identity", "data").
	// NewContextWithRequestType overrides it per request.
	RequestType string

	// Delegate is the innermost RoundTripper. A clone of http.DefaultTransport is used by default.
	Delegate http.RoundTripper

	// LoggerProvider returns a context-specific logger.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// RequestIDProvider returns the request ID to propagate.
	RequestIDProvider func(ctx context.Context) string

	// Collector receives request durations when metrics are enabled in the config.
	Collector MetricsCollector

	// Tracker (if set) accounts every call as an in-flight operation.
	Tracker *inflight.Tracker

	// AuthProvider (if set) provides a bearer token for every call.
	AuthProvider AuthProvider
}

// New creates an HTTP client with the transport chain configured by cfg.
func New(cfg *Config) (*http.Client, error) {
	return NewWithOpts(cfg, Opts{})
}

// NewWithOpts creates an HTTP client with the transport chain configured by cfg and opts.
// A call passes the round trippers in the following order:
// tracking, logging, metrics, rate limiting, retries, user agent, request ID, authorization.
func NewWithOpts(cfg *Config, opts Opts) (*http.Client, error) {
	var err error
	delegate := opts.Delegate
	if delegate == nil {
		delegate = http.DefaultTransport.(*http.Transport).Clone()
	}

	if opts.AuthProvider != nil {
		delegate = NewAuthBearerRoundTripper(delegate, opts.AuthProvider)
	}

	delegate = NewRequestIDRoundTripperWithOpts(delegate, RequestIDRoundTripperOpts{
		RequestIDProvider: opts.RequestIDProvider,
	})

	if opts.UserAgent != "" {
		delegate = NewUserAgentRoundTripper(delegate, opts.UserAgent)
	}

	if cfg.Retries.Enabled {
		retryOpts := cfg.Retries.TransportOpts()
		retryOpts.LoggerProvider = opts.LoggerProvider
		if delegate, err = NewRetryableRoundTripperWithOpts(delegate, retryOpts); err != nil {
			return nil, fmt.Errorf("create retryable round tripper: %w", err)
		}
	}

	if cfg.RateLimits.Enabled {
		if delegate, err = NewRateLimitingRoundTripperWithOpts(
			delegate, cfg.RateLimits.Limit, cfg.RateLimits.TransportOpts()); err != nil {
			return nil, fmt.Errorf("create rate limiting round tripper: %w", err)
		}
	}

	if cfg.Metrics.Enabled && opts.Collector != nil {
		delegate = NewMetricsRoundTripper(delegate, opts.RequestType, opts.Collector)
	}

	if cfg.Log.Enabled {
		logOpts := cfg.Log.TransportOpts()
		logOpts.LoggerProvider = opts.LoggerProvider
		delegate = NewLoggingRoundTripperWithOpts(delegate, opts.RequestType, logOpts)
	}

	if opts.Tracker != nil {
		delegate = NewTrackingRoundTripper(delegate, opts.Tracker)
	}

	return &http.Client{Transport: delegate, Timeout: cfg.Timeout}, nil
}

// MustWithOpts is like NewWithOpts but panics if an error occurs.
func MustWithOpts(cfg *Config, opts Opts) *http.Client {
	client, err := NewWithOpts(cfg, opts)
	if err != nil {
		panic(err)
	}
	return client
}
