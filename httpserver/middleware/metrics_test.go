/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/acronis/watchtower/testutil"
)

func TestHTTPRequestMetricsHandler_ServeHTTP(t *testing.T) {
	collector := NewHTTPRequestMetricsCollectorWithOpts(HTTPRequestMetricsCollectorOpts{Namespace: "watchtower"})

	router := chi.NewRouter()
	router.Use(HTTPRequestMetricsWithOpts(collector, GetChiRoutePattern, HTTPRequestMetricsOpts{
		ExcludedEndpoints: []string{"/healthz"},
	}))
	router.Get("/api/v1/cases/{id}", func(rw http.ResponseWriter, r *http.Request) {
		require.EqualValues(t, 1, promtestutil.CollectAndCount(collector.InFlight))
		_, _ = rw.Write([]byte(`{}`))
	})
	router.Get("/api/v1/boom", func(rw http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	router.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {})

	for _, id := range []string{"1", "2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cases/"+id, nil)
		req.Header.Set("User-Agent", "Mozilla/5.0")
		router.ServeHTTP(httptest.NewRecorder(), req)
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Panics(t, func() {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/boom", nil))
	})

	testutil.RequireSamplesCountInHistogram(t, collector.Durations.With(prometheus.Labels{
		httpRequestMetricsLabelMethod:        http.MethodGet,
		httpRequestMetricsLabelRoutePattern:  "/api/v1/cases/{id}",
		httpRequestMetricsLabelUserAgentType: userAgentTypeBrowser,
		httpRequestMetricsLabelStatusCode:    "200",
	}).(prometheus.Histogram), 2)
	testutil.RequireSamplesCountInHistogram(t, collector.Durations.With(prometheus.Labels{
		httpRequestMetricsLabelMethod:        http.MethodGet,
		httpRequestMetricsLabelRoutePattern:  "/api/v1/boom",
		httpRequestMetricsLabelUserAgentType: userAgentTypeHTTPClient,
		httpRequestMetricsLabelStatusCode:    "500",
	}).(prometheus.Histogram), 1)
	testutil.RequireSamplesCountInHistogram(t, collector.Durations, 3)
}
