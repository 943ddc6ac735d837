/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/acronis/watchtower/httpserver/middleware"
	"github.com/acronis/watchtower/internal/ratelimit"
	"github.com/acronis/watchtower/log"
	"github.com/acronis/watchtower/restapi"
	"github.com/acronis/watchtower/testutil"
)

func newTestRouter(a *Admission) chi.Router {
	okHandler := func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
	}
	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		r.Use(a.Middleware(a.API))
		r.Route("/v1", func(r chi.Router) {
			r.With(a.Middleware(a.Auth)).Post("/auth/login", okHandler)
			r.Get("/politicians", okHandler)
		})
	})
	return router
}

func doRequest(router http.Handler, method, target, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = remoteAddr
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestAdmission_AuthPolicyLockout(t *testing.T) {
	a, err := New(NewDefaultConfig(), Opts{MetricsNamespace: "watchtower_admission_test"})
	require.NoError(t, err)
	router := newTestRouter(a)

	const clientAddr = "203.0.113.7:50312"
	for i := 0; i < DefaultAuthMaxRequests; i++ {
		resp := doRequest(router, http.MethodPost, "/api/v1/auth/login", clientAddr)
		require.Equal(t, http.StatusOK, resp.Code, "request #%d should be admitted", i+1)
		require.Equal(t, strconv.Itoa(DefaultAuthMaxRequests-i-1), resp.Header().Get(middleware.HeaderRateLimitRemaining))
	}

	resp := doRequest(router, http.MethodPost, "/api/v1/auth/login", clientAddr)
	testutil.RequireErrorInRecorder(t, resp, http.StatusTooManyRequests, DefaultAuthMessage)
	retryAfter, err := strconv.Atoi(resp.Header().Get(middleware.HeaderRetryAfter))
	require.NoError(t, err)
	require.InDelta(t, DefaultAuthWindow.Seconds(), retryAfter, 5)

	// The general API policy is not affected by the auth lockout.
	resp = doRequest(router, http.MethodGet, "/api/v1/politicians", clientAddr)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, strconv.Itoa(DefaultAPIMaxRequests-DefaultAuthMaxRequests-2),
		resp.Header().Get(middleware.HeaderRateLimitRemaining))

	// Another client is not locked out.
	resp = doRequest(router, http.MethodPost, "/api/v1/auth/login", "203.0.113.8:50312")
	require.Equal(t, http.StatusOK, resp.Code)

	require.Equal(t, 1.0, promtestutil.ToFloat64(a.metrics.Rejections.WithLabelValues(PolicyAuth, "false")))
	require.Equal(t, 0.0, promtestutil.ToFloat64(a.metrics.Rejections.WithLabelValues(PolicyAPI, "false")))
}

func TestAdmission_APIPolicy(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.API = PolicyConfig{Window: time.Second, MaxRequests: 3, Message: DefaultAPIMessage}
	a, err := New(cfg, Opts{})
	require.NoError(t, err)
	require.NoError(t, a.Ping(context.Background()))
	router := newTestRouter(a)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/api/v1/politicians", "198.51.100.1:1000").Code)
	}
	resp := doRequest(router, http.MethodGet, "/api/v1/politicians", "198.51.100.1:1000")
	testutil.RequireErrorInRecorder(t, resp, http.StatusTooManyRequests, DefaultAPIMessage)

	// The auth routes are guarded by both policies.
	resp = doRequest(router, http.MethodPost, "/api/v1/auth/login", "198.51.100.1:1000")
	testutil.RequireErrorInRecorder(t, resp, http.StatusTooManyRequests, DefaultAPIMessage)

	time.Sleep(time.Second)
	require.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/api/v1/politicians", "198.51.100.1:1000").Code)
}

func TestAdmission_DryRun(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.DryRun = true
	cfg.Auth.MaxRequests = 1
	a, err := New(cfg, Opts{})
	require.NoError(t, err)
	router := newTestRouter(a)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, "/api/v1/auth/login", "192.0.2.10:1").Code)
	}
	require.Equal(t, 2.0, promtestutil.ToFloat64(a.metrics.Rejections.WithLabelValues(PolicyAuth, "true")))
}

func TestAdmission_Algorithms(t *testing.T) {
	for _, alg := range []ratelimit.Alg{ratelimit.AlgFixedWindow, ratelimit.AlgLeakyBucket, ratelimit.AlgSlidingWindow} {
		t.Run(string(alg), func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Alg = alg
			cfg.Auth.MaxRequests = 2
			a, err := New(cfg, Opts{})
			require.NoError(t, err)
			router := newTestRouter(a)

			codes := make([]int, 0, 3)
			for i := 0; i < 3; i++ {
				codes = append(codes, doRequest(router, http.MethodPost, "/api/v1/auth/login", "192.0.2.20:1").Code)
			}
			require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
		})
	}

	t.Run("unknown", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Alg = "token_bucket"
		_, err := New(cfg, Opts{})
		require.ErrorIs(t, err, ratelimit.ErrUnknownAlg)
	})
}

func TestAdmission_AuthLockoutIgnoresForwardedFor(t *testing.T) {
	a, err := New(NewDefaultConfig(), Opts{})
	require.NoError(t, err)
	resolver, err := middleware.NewClientIPResolver(nil)
	require.NoError(t, err)
	router := chi.NewRouter()
	router.Use(middleware.ClientIP(resolver))
	router.Mount("/", newTestRouter(a))

	send := func(forwardedFor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = "203.0.113.7:50312"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		req.Header.Set("X-Real-IP", forwardedFor)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}
	for i := 0; i < DefaultAuthMaxRequests; i++ {
		resp := send("198.51.100." + strconv.Itoa(i+1))
		require.Equal(t, http.StatusOK, resp.Code, "request #%d should be admitted", i+1)
	}
	resp := send("198.51.100.200")
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	require.JSONEq(t, `{"error":true,"code":"tooManyRequests","message":"`+DefaultAuthMessage+`"}`, resp.Body.String())
}

func TestAdmission_RedisUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer func() { _ = client.Close() }()

	cfg := NewDefaultConfig()
	cfg.Storage = StorageRedis
	cfg.Redis.Addr = "127.0.0.1:1"
	a, err := New(cfg, Opts{RedisClient: client})
	require.NoError(t, err)
	require.NoError(t, a.Close()) // the client is owned by the caller

	resp := doRequest(newTestRouter(a), http.MethodGet, "/api/v1/politicians", "192.0.2.30:1")
	testutil.RequireErrorInRecorder(t, resp, http.StatusInternalServerError, restapi.ErrMessageInternal)
	require.Equal(t, 0, a.RemoveExpired())
	require.Error(t, a.Ping(context.Background()))
}

func TestAdmission_RemoveExpired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.API.Window = 50 * time.Millisecond
	cfg.Auth.Window = time.Hour
	a, err := New(cfg, Opts{})
	require.NoError(t, err)
	router := newTestRouter(a)

	doRequest(router, http.MethodGet, "/api/v1/politicians", "192.0.2.40:1")
	doRequest(router, http.MethodGet, "/api/v1/politicians", "192.0.2.41:1")
	doRequest(router, http.MethodPost, "/api/v1/auth/login", "192.0.2.42:1")

	removed := 0
	require.Eventually(t, func() bool {
		removed += a.RemoveExpired()
		return removed == 3 // the api bucket of the auth request expires too
	}, 3*time.Second, 20*time.Millisecond)
	require.Equal(t, 1, a.Auth.Limiter.(*ratelimit.FixedWindowLimiter).KeysCount())
}

func TestUnit(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.API.Window = 10 * time.Millisecond
	cfg.SweepInterval = 20 * time.Millisecond
	a, err := New(cfg, Opts{})
	require.NoError(t, err)
	doRequest(newTestRouter(a), http.MethodGet, "/api/v1/politicians", "192.0.2.50:1")
	apiLimiter := a.API.Limiter.(*ratelimit.FixedWindowLimiter)
	require.Equal(t, 1, apiLimiter.KeysCount())

	unit := NewUnit(a, log.NewDisabledLogger())
	unit.MustRegisterMetrics()
	defer unit.UnregisterMetrics()
	fatalErr := make(chan error, 1)
	go unit.Start(fatalErr)
	require.Eventually(t, func() bool { return apiLimiter.KeysCount() == 0 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, unit.Stop(true))
	require.Empty(t, fatalErr)
}

func TestAdmission_Metrics(t *testing.T) {
	a, err := New(NewDefaultConfig(), Opts{MetricsNamespace: "watchtower_admission_metrics_test"})
	require.NoError(t, err)
	require.NotPanics(t, a.MustRegisterMetrics)
	a.UnregisterMetrics()
}
