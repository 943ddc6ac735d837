/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
)

// Params contains common data that relates to the rate limiting procedure.
type Params struct {
	Key    string
	Result Result
}

// RequestHandler abstracts the transport-specific operations of a request (HTTP, WebSocket upgrade, etc.).
type RequestHandler interface {
	// GetContext returns the request context.
	GetContext() context.Context

	// GetKey extracts the rate limiting key from the request.
	// Returns key, bypass (whether to bypass rate limiting), and error.
	GetKey() (string, bool, error)

	// Execute processes the actual request. params.Result describes the admission decision.
	Execute(params Params) error

	// OnReject handles request rejection when rate limit is exceeded.
	OnReject(params Params) error

	// OnError handles errors that occur during rate limiting.
	OnError(params Params, err error) error
}

// RequestProcessor runs a request through a Limiter. A rejected request is never queued or retried.
type RequestProcessor struct {
	limiter Limiter
}

// NewRequestProcessor creates a new generic request processor.
func NewRequestProcessor(limiter Limiter) *RequestProcessor {
	return &RequestProcessor{limiter: limiter}
}

// ProcessRequest contains the shared rate limiting logic.
func (p *RequestProcessor) ProcessRequest(rh RequestHandler) error {
	key, bypass, err := rh.GetKey()
	if err != nil {
		return rh.OnError(Params{Key: key}, fmt.Errorf("get key for rate limit: %w", err))
	}
	if bypass { // Rate limiting is bypassed for this request.
		return rh.Execute(Params{Key: key, Result: Result{Allowed: true, Remaining: -1}})
	}

	result, err := p.limiter.Allow(rh.GetContext(), key)
	if err != nil {
		return rh.OnError(Params{Key: key}, fmt.Errorf("rate limit: %w", err))
	}
	if !result.Allowed {
		return rh.OnReject(Params{Key: key, Result: result})
	}
	return rh.Execute(Params{Key: key, Result: result})
}
