/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/watchtower/httpserver/middleware"
	"github.com/acronis/watchtower/inflight"
	"github.com/acronis/watchtower/log"
	"github.com/acronis/watchtower/log/logtest"
	"github.com/acronis/watchtower/retry"
	"github.com/acronis/watchtower/testutil"
)

type recordedRequest struct {
	method       string
	body         string
	retryAttempt string
	header       http.Header
}

// upstreamStub answers with the queued status codes (200 when the queue is empty) and records requests.
type upstreamStub struct {
	*httptest.Server
	mu        sync.Mutex
	requests  []recordedRequest
	respCodes []int
}

func newUpstreamStub(respCodes ...int) *upstreamStub {
	s := &upstreamStub{respCodes: respCodes}
	s.Server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{
			method:       r.Method,
			body:         string(body),
			retryAttempt: r.Header.Get(RetryAttemptNumberHeader),
			header:       r.Header.Clone(),
		})
		code := http.StatusOK
		if len(s.respCodes) > 0 {
			code, s.respCodes = s.respCodes[0], s.respCodes[1:]
		}
		s.mu.Unlock()
		rw.WriteHeader(code)
		_, _ = rw.Write([]byte(`{"id":"42"}`))
	}))
	return s
}

func (s *upstreamStub) Requests() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func doRequest(t *testing.T, client *http.Client, req *http.Request) *http.Response {
	t.Helper()
	resp, err := client.Do(req)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())
	return resp
}

func fastRetryOpts() RetryableRoundTripperOpts {
	return RetryableRoundTripperOpts{MaxRetryAttempts: 3, BackoffPolicy: retry.NewConstantBackoffPolicy(time.Millisecond, 0)}
}

func TestRetryableRoundTripper(t *testing.T) {
	t.Run("retries 5xx until success", func(t *testing.T) {
		srv := newUpstreamStub(http.StatusServiceUnavailable, http.StatusBadGateway)
		defer srv.Close()
		rt, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, fastRetryOpts())
		require.NoError(t, err)

		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/politicians", nil)
		resp := doRequest(t, &http.Client{Transport: rt}, req)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		reqs := srv.Requests()
		require.Len(t, reqs, 3)
		require.Equal(t, "", reqs[0].retryAttempt)
		require.Equal(t, "1", reqs[1].retryAttempt)
		require.Equal(t, "2", reqs[2].retryAttempt)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		srv := newUpstreamStub(500, 500, 500, 500, 500)
		defer srv.Close()
		rt, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, fastRetryOpts())
		require.NoError(t, err)

		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp := doRequest(t, &http.Client{Transport: rt}, req)
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		require.Len(t, srv.Requests(), 4)
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		srv := newUpstreamStub(http.StatusNotFound)
		defer srv.Close()
		rt, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, fastRetryOpts())
		require.NoError(t, err)

		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp := doRequest(t, &http.Client{Transport: rt}, req)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.Len(t, srv.Requests(), 1)
	})

	t.Run("POST is retried only with idempotent hint, body is replayed", func(t *testing.T) {
		srv := newUpstreamStub(500, 500)
		defer srv.Close()
		rt, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, fastRetryOpts())
		require.NoError(t, err)
		client := &http.Client{Transport: rt}

		req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"user":"alice"}`))
		resp := doRequest(t, client, req)
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		require.Len(t, srv.Requests(), 1)

		ctx := NewContextWithIdempotentHint(context.Background(), true)
		req, _ = http.NewRequestWithContext(ctx, http.MethodPost, srv.URL, strings.NewReader(`{"user":"alice"}`))
		resp = doRequest(t, client, req)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		reqs := srv.Requests()
		require.Len(t, reqs, 3)
		require.Equal(t, `{"user":"alice"}`, reqs[1].body)
		require.Equal(t, `{"user":"alice"}`, reqs[2].body)
	})

	t.Run("Retry-After is respected", func(t *testing.T) {
		var calls atomic.Int32
		var firstAt, secondAt time.Time
		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			if calls.Inc() == 1 {
				firstAt = time.Now()
				rw.Header().Set("Retry-After", "1")
				rw.WriteHeader(http.StatusTooManyRequests)
				return
			}
			secondAt = time.Now()
		}))
		defer srv.Close()
		rt, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, fastRetryOpts())
		require.NoError(t, err)

		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp := doRequest(t, &http.Client{Transport: rt}, req)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.EqualValues(t, 2, calls.Load())
		require.GreaterOrEqual(t, secondAt.Sub(firstAt), 900*time.Millisecond)
	})

	t.Run("negative max attempts", func(t *testing.T) {
		_, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, RetryableRoundTripperOpts{MaxRetryAttempts: -1})
		require.EqualError(t, err, "max retry attempts cannot be negative")
	})
}

func TestCheckErrorIsTemporary(t *testing.T) {
	require.True(t, CheckErrorIsTemporary(io.EOF))
	require.True(t, CheckErrorIsTemporary(context.DeadlineExceeded))
	require.False(t, CheckErrorIsTemporary(errors.New("tls: bad certificate")))
}

func TestRateLimitingRoundTripper(t *testing.T) {
	t.Run("invalid options", func(t *testing.T) {
		_, err := NewRateLimitingRoundTripper(http.DefaultTransport, 0)
		require.EqualError(t, err, "rate limit must be positive")
		_, err = NewRateLimitingRoundTripperWithOpts(http.DefaultTransport, 1, RateLimitingRoundTripperOpts{Burst: -1})
		require.EqualError(t, err, "burst must be positive")
		_, err = NewRateLimitingRoundTripperWithOpts(http.DefaultTransport, 1, RateLimitingRoundTripperOpts{
			Adaptation: RateLimitingRoundTripperAdaptation{SlackPercent: 101},
		})
		require.EqualError(t, err, "slack percent must be in range [0..100]")
	})

	t.Run("requests are spread in time", func(t *testing.T) {
		srv := newUpstreamStub()
		defer srv.Close()
		rt, err := NewRateLimitingRoundTripper(http.DefaultTransport, 10)
		require.NoError(t, err)
		client := &http.Client{Transport: rt}

		start := time.Now()
		for i := 0; i < 3; i++ {
			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			doRequest(t, client, req)
		}
		require.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
	})

	t.Run("wait timeout", func(t *testing.T) {
		srv := newUpstreamStub()
		defer srv.Close()
		rt, err := NewRateLimitingRoundTripperWithOpts(http.DefaultTransport, 1,
			RateLimitingRoundTripperOpts{WaitTimeout: 10 * time.Millisecond})
		require.NoError(t, err)
		client := &http.Client{Transport: rt}

		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		doRequest(t, client, req)
		req, _ = http.NewRequest(http.MethodGet, srv.URL, nil)
		_, err = client.Do(req)
		var waitErr *RateLimitingWaitError
		require.ErrorAs(t, err, &waitErr)
	})
}

func TestTrackingRoundTripper(t *testing.T) {
	srv := newUpstreamStub(http.StatusOK)
	defer srv.Close()
	tracker := inflight.NewTracker()
	var transitions []bool
	var mu sync.Mutex
	tracker.Subscribe(func(busy bool) {
		mu.Lock()
		transitions = append(transitions, busy)
		mu.Unlock()
	})
	client := &http.Client{Transport: NewTrackingRoundTripper(http.DefaultTransport, tracker)}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := client.Do(req)
	require.NoError(t, err)
	require.Equal(t, 1, tracker.Count(), "operation lasts until the body is consumed")
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 0, tracker.Count())

	// Transport error ends the operation immediately.
	req, _ = http.NewRequest(http.MethodGet, "http://127.0.0.1:1", nil)
	_, err = client.Do(req)
	require.Error(t, err)
	require.Equal(t, 0, tracker.Count())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true, false, true, false}, transitions)
}

func TestRequestIDAndUserAgentRoundTrippers(t *testing.T) {
	srv := newUpstreamStub()
	defer srv.Close()
	client := &http.Client{Transport: NewUserAgentRoundTripper(NewRequestIDRoundTripper(http.DefaultTransport), "watchtower/1.0")}

	ctx := middleware.NewContextWithRequestID(context.Background(), "cs8tq5c2jc6qbd6mtm1g")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	doRequest(t, client, req)

	req, _ = http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom")
	req.Header.Set(middleware.RequestIDHeader, "given")
	doRequest(t, client, req)

	reqs := srv.Requests()
	require.Equal(t, "cs8tq5c2jc6qbd6mtm1g", reqs[0].header.Get(middleware.RequestIDHeader))
	require.Equal(t, "watchtower/1.0", reqs[0].header.Get("User-Agent"))
	require.Equal(t, "given", reqs[1].header.Get(middleware.RequestIDHeader))
	require.Equal(t, "custom", reqs[1].header.Get("User-Agent"))
}

type failingAuthProvider struct{}

func (failingAuthProvider) GetToken(context.Context) (string, error) {
	return "", errors.New("token expired")
}

func TestAuthBearerRoundTripper(t *testing.T) {
	srv := newUpstreamStub()
	defer srv.Close()

	client := &http.Client{Transport: NewAuthBearerRoundTripper(http.DefaultTransport, StaticTokenProvider("s3cr3t"))}
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	doRequest(t, client, req)
	require.Equal(t, "Bearer s3cr3t", srv.Requests()[0].header.Get("Authorization"))

	client = &http.Client{Transport: NewAuthBearerRoundTripper(http.DefaultTransport, failingAuthProvider{})}
	req, _ = http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := client.Do(req)
	var authErr *AuthBearerRoundTripperError
	require.ErrorAs(t, err, &authErr)
	require.Len(t, srv.Requests(), 1)
}

func TestLoggingRoundTripper(t *testing.T) {
	srv := newUpstreamStub(http.StatusOK, http.StatusNotFound)
	defer srv.Close()
	logRecorder := logtest.NewRecorder()
	client := &http.Client{Transport: NewLoggingRoundTripperWithOpts(http.DefaultTransport, "data",
		LoggingRoundTripperOpts{Mode: LoggingModeFailed})}
	ctx := middleware.NewContextWithLogger(context.Background(), logRecorder)

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/contracts", nil)
	doRequest(t, client, req)
	require.Empty(t, logRecorder.Entries())

	req, _ = http.NewRequestWithContext(NewContextWithRequestType(ctx, "data-contract"), http.MethodGet, srv.URL+"/contracts/7", nil)
	doRequest(t, client, req)
	require.Len(t, logRecorder.Entries(), 1)
	entry := logRecorder.Entries()[0]
	require.Equal(t, "client http request done", entry.Text)
	require.Equal(t, log.LevelInfo, entry.Level)
	requestType, found := entry.StringField("request_type")
	require.True(t, found)
	require.Equal(t, "data-contract", requestType)
	status, found := entry.IntField("status")
	require.True(t, found)
	require.EqualValues(t, http.StatusNotFound, status)
}

func TestMetricsRoundTripper(t *testing.T) {
	srv := newUpstreamStub()
	defer srv.Close()
	collector := NewPrometheusMetricsCollector("")
	client := &http.Client{Transport: NewMetricsRoundTripper(http.DefaultTransport, "data", collector)}

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		doRequest(t, client, req)
	}
	testutil.RequireSamplesCountInHistogram(t, collector.Durations, 2)
}
