/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/acronis/watchtower/internal/ratelimit"
	"github.com/acronis/watchtower/log"
	"github.com/acronis/watchtower/restapi"
)

// DefaultRateLimitMessage is a message of the rejection response if RateLimitOpts.Message is empty.
const DefaultRateLimitMessage = "Too many requests, please try again later."

// RateLimitLogFieldKey it is the name of the logged field that contains a key for the requests rate limiter.
const RateLimitLogFieldKey = "rate_limit_key"

// Rate limit response headers.
const (
	HeaderRetryAfter = "Retry-After"

	HeaderRateLimitLimit     = "RateLimit-Limit"
	HeaderRateLimitRemaining = "RateLimit-Remaining"
	HeaderRateLimitReset     = "RateLimit-Reset"

	HeaderXRateLimitLimit     = "X-RateLimit-Limit"
	HeaderXRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderXRateLimitReset     = "X-RateLimit-Reset"
)

// RateLimitHeadersMode determines which quota headers are sent with every response passed through the middleware.
type RateLimitHeadersMode string

// Supported header modes.
const (
	// RateLimitHeadersNone sends no quota headers (Retry-After is still sent on rejection).
	RateLimitHeadersNone RateLimitHeadersMode = "none"
	// RateLimitHeadersStandard sends RateLimit-Limit, RateLimit-Remaining, and RateLimit-Reset.
	RateLimitHeadersStandard RateLimitHeadersMode = "standard"
	// RateLimitHeadersLegacy sends X-RateLimit-Limit, X-RateLimit-Remaining, and X-RateLimit-Reset (Unix time).
	RateLimitHeadersLegacy RateLimitHeadersMode = "legacy"
	// RateLimitHeadersBoth sends both standard and legacy headers.
	RateLimitHeadersBoth RateLimitHeadersMode = "both"
)

// ParseRateLimitHeadersMode parses a header mode, case-insensitively.
func ParseRateLimitHeadersMode(s string) (RateLimitHeadersMode, error) {
	switch mode := RateLimitHeadersMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case RateLimitHeadersNone, RateLimitHeadersStandard, RateLimitHeadersLegacy, RateLimitHeadersBoth:
		return mode, nil
	case "":
		return RateLimitHeadersStandard, nil
	}
	return "", fmt.Errorf("unknown rate limit headers mode %q", s)
}

// RateLimitParams contains data that relates to the rate limiting procedure
// and could be used for rejecting or handling an occurred error.
type RateLimitParams struct {
	Key                string
	Result             ratelimit.Result
	Message            string
	ResponseStatusCode int
}

// RateLimitOnRejectFunc is a function that is called for rejecting HTTP request when the rate limit is exceeded.
type RateLimitOnRejectFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger)

// RateLimitOnErrorFunc is a function that is called when the limiter fails to make a decision.
type RateLimitOnErrorFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, err error, next http.Handler, logger log.FieldLogger)

// RateLimitGetKeyFunc is a function that is called for getting key for rate limiting.
type RateLimitGetKeyFunc func(r *http.Request) (key string, bypass bool, err error)

// RateLimitOpts represents an options for the RateLimit middleware.
type RateLimitOpts struct {
	// GetKey returns the key of the bucket. The client IP (see GetClientIP) is used if nil.
	GetKey RateLimitGetKeyFunc
	// Message is sent in the body of the rejection response.
	Message string
	// ResponseStatusCode of the rejection response. 429 is used if zero.
	ResponseStatusCode int
	// HeadersMode is RateLimitHeadersStandard if empty.
	HeadersMode RateLimitHeadersMode
	// DryRun serves rejected requests and only logs them.
	DryRun bool

	OnReject         RateLimitOnRejectFunc
	OnRejectInDryRun RateLimitOnRejectFunc
	OnError          RateLimitOnErrorFunc

	// Now is used for computing X-RateLimit-Reset. time.Now is used if nil.
	Now func() time.Time
}

type rateLimitHandler struct {
	next      http.Handler
	processor *ratelimit.RequestProcessor
	getKey    RateLimitGetKeyFunc
	opts      RateLimitOpts
	onReject  RateLimitOnRejectFunc
	onError   RateLimitOnErrorFunc
}

// RateLimit is a middleware that limits the rate of HTTP requests per client IP.
func RateLimit(limiter ratelimit.Limiter) func(next http.Handler) http.Handler {
	return RateLimitWithOpts(limiter, RateLimitOpts{})
}

// RateLimitWithOpts is a configurable version of a middleware to limit the rate of HTTP requests.
// Rejected requests are never queued: they are answered right away (or served in dry-run mode).
func RateLimitWithOpts(limiter ratelimit.Limiter, opts RateLimitOpts) func(next http.Handler) http.Handler {
	if opts.Message == "" {
		opts.Message = DefaultRateLimitMessage
	}
	if opts.ResponseStatusCode == 0 {
		opts.ResponseStatusCode = http.StatusTooManyRequests
	}
	if opts.HeadersMode == "" {
		opts.HeadersMode = RateLimitHeadersStandard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	getKey := opts.GetKey
	if getKey == nil {
		getKey = func(r *http.Request) (string, bool, error) {
			return GetClientIP(r), false, nil
		}
	}
	processor := ratelimit.NewRequestProcessor(limiter)
	return func(next http.Handler) http.Handler {
		return &rateLimitHandler{
			next:      next,
			processor: processor,
			getKey:    getKey,
			opts:      opts,
			onReject:  makeRateLimitOnRejectFunc(opts),
			onError:   makeRateLimitOnErrorFunc(opts),
		}
	}
}

func (h *rateLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	_ = h.processor.ProcessRequest(&rateLimitRequestHandler{rw: rw, r: r, parent: h}) // errors are handled by callbacks
}

// rateLimitRequestHandler implements ratelimit.RequestHandler for HTTP requests.
type rateLimitRequestHandler struct {
	rw     http.ResponseWriter
	r      *http.Request
	parent *rateLimitHandler
}

func (h *rateLimitRequestHandler) GetContext() context.Context {
	return h.r.Context()
}

func (h *rateLimitRequestHandler) GetKey() (key string, bypass bool, err error) {
	return h.parent.getKey(h.r)
}

func (h *rateLimitRequestHandler) Execute(params ratelimit.Params) error {
	h.parent.setHeaders(h.rw, params.Result)
	h.parent.next.ServeHTTP(h.rw, h.r)
	return nil
}

func (h *rateLimitRequestHandler) OnReject(params ratelimit.Params) error {
	h.parent.setHeaders(h.rw, params.Result)
	h.parent.onReject(h.rw, h.r, h.convertParams(params), h.parent.next, GetLoggerFromContext(h.r.Context()))
	return nil
}

func (h *rateLimitRequestHandler) OnError(params ratelimit.Params, err error) error {
	h.parent.onError(h.rw, h.r, h.convertParams(params), err, h.parent.next, GetLoggerFromContext(h.r.Context()))
	return nil
}

func (h *rateLimitRequestHandler) convertParams(params ratelimit.Params) RateLimitParams {
	return RateLimitParams{
		Key:                params.Key,
		Result:             params.Result,
		Message:            h.parent.opts.Message,
		ResponseStatusCode: h.parent.opts.ResponseStatusCode,
	}
}

func (h *rateLimitHandler) setHeaders(rw http.ResponseWriter, result ratelimit.Result) {
	if result.Limit <= 0 { // bypassed
		return
	}
	resetSecs := durationToHeaderSeconds(result.ResetAfter)
	headers := rw.Header()
	mode := h.opts.HeadersMode
	if mode == RateLimitHeadersStandard || mode == RateLimitHeadersBoth {
		headers.Set(HeaderRateLimitLimit, strconv.Itoa(result.Limit))
		if result.Remaining >= 0 {
			headers.Set(HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
		}
		headers.Set(HeaderRateLimitReset, strconv.Itoa(resetSecs))
	}
	if mode == RateLimitHeadersLegacy || mode == RateLimitHeadersBoth {
		headers.Set(HeaderXRateLimitLimit, strconv.Itoa(result.Limit))
		if result.Remaining >= 0 {
			headers.Set(HeaderXRateLimitRemaining, strconv.Itoa(result.Remaining))
		}
		headers.Set(HeaderXRateLimitReset, strconv.FormatInt(h.opts.Now().Add(result.ResetAfter).Unix(), 10))
	}
}

// durationToHeaderSeconds rounds up, so the client never comes back too early.
func durationToHeaderSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// DefaultRateLimitOnReject responds with the configured status code, the Retry-After header,
// and {"error": true, "code": "tooManyRequests", "message": <params.Message>}.
func DefaultRateLimitOnReject(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, _ http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger = logger.With(
			log.String(RateLimitLogFieldKey, params.Key),
			log.String("user_agent", r.UserAgent()),
		)
	}
	retryAfter := durationToHeaderSeconds(params.Result.RetryAfter)
	if retryAfter < 1 {
		retryAfter = 1
	}
	rw.Header().Set(HeaderRetryAfter, strconv.Itoa(retryAfter))
	restapi.RespondError(rw, params.ResponseStatusCode, restapi.NewError(restapi.ErrCodeTooManyRequests, params.Message), logger)
}

// DefaultRateLimitOnError responds with an internal error when the limiter cannot make a decision.
func DefaultRateLimitOnError(
	rw http.ResponseWriter, _ *http.Request, params RateLimitParams, err error, _ http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Error("rate limiting failed", log.Error(err), log.String(RateLimitLogFieldKey, params.Key))
	}
	restapi.RespondInternalError(rw, logger)
}

// DefaultRateLimitOnRejectInDryRun logs the rejection and serves the request.
func DefaultRateLimitOnRejectInDryRun(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Warn("too many requests, serving will be continued because of dry run mode",
			log.String(RateLimitLogFieldKey, params.Key),
			log.String("user_agent", r.UserAgent()),
		)
	}
	next.ServeHTTP(rw, r)
}

func makeRateLimitOnRejectFunc(opts RateLimitOpts) RateLimitOnRejectFunc {
	if opts.DryRun {
		if opts.OnRejectInDryRun != nil {
			return opts.OnRejectInDryRun
		}
		return DefaultRateLimitOnRejectInDryRun
	}
	if opts.OnReject != nil {
		return opts.OnReject
	}
	return DefaultRateLimitOnReject
}

func makeRateLimitOnErrorFunc(opts RateLimitOpts) RateLimitOnErrorFunc {
	if opts.OnError != nil {
		return opts.OnError
	}
	return DefaultRateLimitOnError
}
