/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import "context"

type ctxKey int

const (
	ctxKeyRequestType ctxKey = iota
	ctxKeyIdempotentHint
)

// NewContextWithRequestType creates a new context with the type of the outgoing request
// (e.g. "identity-login"). It overrides Opts.RequestType in logs and metrics.
func NewContextWithRequestType(ctx context.Context, requestType string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestType, requestType)
}

// GetRequestTypeFromContext extracts the request type from the context.
func GetRequestTypeFromContext(ctx context.Context) string {
	s, _ := ctx.Value(ctxKeyRequestType).(string)
	return s
}

// NewContextWithIdempotentHint returns a derived context that marks the request as idempotent,
// so RetryableRoundTripper may retry it even if its method is not GET, HEAD or OPTIONS.
func NewContextWithIdempotentHint(ctx context.Context, isIdempotent bool) context.Context {
	return context.WithValue(ctx, ctxKeyIdempotentHint, isIdempotent)
}

// GetIdempotentHintFromContext extracts the "idempotent request" hint from the context.
func GetIdempotentHintFromContext(ctx context.Context) bool {
	b, _ := ctx.Value(ctxKeyIdempotentHint).(bool)
	return b
}

func requestTypeOrDefault(ctx context.Context, defaultType string) string {
	if reqType := GetRequestTypeFromContext(ctx); reqType != "" {
		return reqType
	}
	return defaultType
}
