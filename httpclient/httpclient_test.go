/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/watchtower/config"
	"github.com/acronis/watchtower/httpserver/middleware"
	"github.com/acronis/watchtower/inflight"
	"github.com/acronis/watchtower/log/logtest"
	"github.com/acronis/watchtower/testutil"
)

func TestConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfgData string
		want    *Config
		wantErr string
	}{
		{
			name: "defaults",
			want: NewDefaultConfig(),
		},
		{
			name: "constant retries and rate limits",
			cfgData: `
upstream:
  client:
    timeout: 3s
    retries:
      maxAttempts: 5
      policy:
        strategy: Constant
        constantBackoffInterval: 250ms
    rateLimits:
      enabled: true
      limit: 20
      burst: 5
      waitTimeout: 1s
    log:
      mode: all
      slowRequestThreshold: 500ms
    metrics:
      enabled: false
`,
			want: &Config{
				keyPrefix: cfgDefaultKeyPrefix,
				Timeout:   3 * time.Second,
				Retries: RetriesConfig{
					Enabled:     true,
					MaxAttempts: 5,
					Policy:      PolicyConfig{Strategy: RetryPolicyConstant, ConstantBackoffInterval: 250 * time.Millisecond},
				},
				RateLimits: RateLimitConfig{Enabled: true, Limit: 20, Burst: 5, WaitTimeout: time.Second},
				Log:        LogConfig{Enabled: true, Mode: LoggingModeAll, SlowRequestThreshold: 500 * time.Millisecond},
			},
		},
		{
			name:    "unknown retry strategy",
			cfgData: "upstream: {client: {retries: {policy: {strategy: fibonacci}}}}",
			wantErr: `upstream.client.retries.policy.strategy: unknown value "fibonacci"`,
		},
		{
			name:    "multiplier must be greater than 1",
			cfgData: "upstream: {client: {retries: {policy: {exponentialBackoffMultiplier: 0.5}}}}",
			wantErr: "upstream.client.retries.policy.exponentialBackoffMultiplier: should be greater than 1",
		},
		{
			name:    "rate limit must be positive",
			cfgData: "upstream: {client: {rateLimits: {enabled: true, limit: 0}}}",
			wantErr: "upstream.client.rateLimits.limit: should be positive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewDefaultLoader("WATCHTOWER_HTTPCLIENTTEST").LoadFromReader(
				bytes.NewBufferString(tt.cfgData), config.DataTypeYAML, cfg)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, cfg)
		})
	}
}

func TestNewWithOpts(t *testing.T) {
	srv := newUpstreamStub(http.StatusServiceUnavailable, http.StatusOK)
	defer srv.Close()

	cfg := NewDefaultConfig()
	cfg.Retries.Policy.ExponentialBackoffInitialInterval = time.Millisecond
	cfg.Log.Mode = LoggingModeAll
	tracker := inflight.NewTracker()
	collector := NewPrometheusMetricsCollector("")
	client, err := NewWithOpts(cfg, Opts{
		UserAgent:    "watchtower/test",
		RequestType:  "data",
		Collector:    collector,
		Tracker:      tracker,
		AuthProvider: StaticTokenProvider("token"),
	})
	require.NoError(t, err)

	logRecorder := logtest.NewRecorder()
	ctx := middleware.NewContextWithLogger(context.Background(), logRecorder)
	ctx = middleware.NewContextWithRequestID(ctx, "req-1")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/cases", nil)
	resp := doRequest(t, client, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 0, tracker.Count())

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		require.Equal(t, "watchtower/test", r.header.Get("User-Agent"))
		require.Equal(t, "req-1", r.header.Get(middleware.RequestIDHeader))
		require.Equal(t, "Bearer token", r.header.Get("Authorization"))
	}
	// Retries happen below logging and metrics, so the call is observed once.
	_, found := logRecorder.FindEntry("client http request done")
	require.True(t, found)
	testutil.RequireSamplesCountInHistogram(t, collector.Durations, 1)
}

func TestNewWithOpts_InvalidRateLimit(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.RateLimits = RateLimitConfig{Enabled: true, Limit: 0}
	_, err := NewWithOpts(cfg, Opts{})
	require.ErrorContains(t, err, "create rate limiting round tripper")
	require.Panics(t, func() { MustWithOpts(cfg, Opts{}) })
}
