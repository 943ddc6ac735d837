/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/watchtower/log"
	"github.com/acronis/watchtower/log/logtest"
)

func TestLoggingHandler_ServeHTTP(t *testing.T) {
	makeReq := func(target string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.RemoteAddr = "10.0.0.7:51234"
		req.Header.Set("User-Agent", "watchtower-test")
		req = req.WithContext(NewContextWithRequestID(req.Context(), "req-1"))
		return req.WithContext(NewContextWithInternalRequestID(req.Context(), "int-req-1"))
	}

	requireStringField := func(t *testing.T, entry logtest.RecordedEntry, key, want string) {
		t.Helper()
		got, found := entry.StringField(key)
		require.True(t, found, "string field %q not found", key)
		require.Equal(t, want, got)
	}

	t.Run("response is logged, logger is put into context", func(t *testing.T) {
		logger := logtest.NewRecorder()
		var loggerInCtx log.FieldLogger
		handler := Logging(logger)(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			loggerInCtx = GetLoggerFromContext(r.Context())
			rw.WriteHeader(http.StatusCreated)
			_, _ = rw.Write([]byte("hello"))
		}))
		handler.ServeHTTP(httptest.NewRecorder(), makeReq("/api/v1/contracts?page=2"))

		require.NotNil(t, loggerInCtx)
		loggerInCtx.Info("from handler")
		entry, found := logger.FindEntry("from handler")
		require.True(t, found)
		requireStringField(t, entry, "request_id", "req-1")
		requireStringField(t, entry, "int_request_id", "int-req-1")
		_, found = entry.FindField("method")
		require.False(t, found)

		entry, found = logger.FindEntryByFilter(func(e logtest.RecordedEntry) bool {
			_, ok := e.FindField("duration_ms")
			return ok
		})
		require.True(t, found)
		require.Equal(t, log.LevelInfo, entry.Level)
		requireStringField(t, entry, "method", http.MethodGet)
		requireStringField(t, entry, "uri", "/api/v1/contracts?page=2")
		requireStringField(t, entry, "client_ip", "10.0.0.7")
		requireStringField(t, entry, "user_agent", "watchtower-test")
		status, found := entry.IntField("status")
		require.True(t, found)
		require.EqualValues(t, http.StatusCreated, status)
		bytesSent, found := entry.IntField("bytes_sent")
		require.True(t, found)
		require.EqualValues(t, 5, bytesSent)
		_, found = entry.FindField("slow_request")
		require.False(t, found)
	})

	t.Run("request start, request info in logger, secret query params, slow request", func(t *testing.T) {
		logger := logtest.NewRecorder()
		handler := LoggingWithOpts(logger, LoggingOpts{
			RequestStart:           true,
			AddRequestInfoToLogger: true,
			SecretQueryParams:      []string{"token"},
			SlowRequestThreshold:   time.Nanosecond,
			RequestHeaders:         map[string]string{"X-Dashboard-Version": "dashboard_version"},
		})(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			time.Sleep(time.Millisecond)
			GetLoggerFromContext(r.Context()).Info("from handler")
		}))
		req := makeReq("/api/v1/activity?token=secret")
		req.Header.Set("X-Dashboard-Version", "1.4.0")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		entry, found := logger.FindEntry("request started")
		require.True(t, found)
		requireStringField(t, entry, "uri", "/api/v1/activity?token="+LoggingSecretQueryPlaceholder)
		requireStringField(t, entry, "dashboard_version", "1.4.0")

		entry, found = logger.FindEntry("from handler")
		require.True(t, found)
		requireStringField(t, entry, "method", http.MethodGet)

		entry, found = logger.FindEntryByFilter(func(e logtest.RecordedEntry) bool {
			_, ok := e.FindField("slow_request")
			return ok
		})
		require.True(t, found)
		status, _ := entry.FindField("status")
		require.EqualValues(t, http.StatusOK, status.Int)
	})

	t.Run("excluded endpoints are logged only on errors", func(t *testing.T) {
		logger := logtest.NewRecorder()
		status := http.StatusOK
		handler := LoggingWithOpts(logger, LoggingOpts{ExcludedEndpoints: []string{"/healthz"}})(
			http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) { rw.WriteHeader(status) }))

		handler.ServeHTTP(httptest.NewRecorder(), makeReq("/healthz"))
		require.Empty(t, logger.Entries())

		status = http.StatusServiceUnavailable
		handler.ServeHTTP(httptest.NewRecorder(), makeReq("/healthz"))
		require.Len(t, logger.Entries(), 1)
	})
}
