/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package app assembles the service from its components.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/watchtower/httpclient"
	"github.com/acronis/watchtower/httpserver"
	"github.com/acronis/watchtower/httpserver/middleware"
	"github.com/acronis/watchtower/inflight"
	"github.com/acronis/watchtower/internal/admission"
	"github.com/acronis/watchtower/internal/buildinfo"
	"github.com/acronis/watchtower/internal/oversight"
	"github.com/acronis/watchtower/log"
	"github.com/acronis/watchtower/profserver"
	"github.com/acronis/watchtower/restapi"
	"github.com/acronis/watchtower/service"
)

// MetricsNamespace is prepended to the names of all metrics of the service.
const MetricsNamespace = "watchtower"

// Opts represents options for New.
type Opts struct {
	// UpstreamTransport is the innermost transport of the client for the collaborators. Used in tests.
	UpstreamTransport http.RoundTripper
}

// App is the service unit which runs the HTTP server and the admission sweeper (plus the profiling server if enabled).
// It implements service.Unit and service.MetricsRegisterer interfaces.
type App struct {
	*service.CompositeUnit

	Tracker    *inflight.Tracker
	Admission  *admission.Admission
	HTTPServer *httpserver.HTTPServer

	trackerMetrics *inflight.PrometheusMetrics
	clientMetrics  *httpclient.PrometheusMetricsCollector
	buildInfo      prometheus.Collector

	rateLimitStorage string
}

var _ service.Unit = (*App)(nil)
var _ service.MetricsRegisterer = (*App)(nil)

// New creates the service unit.
func New(cfg *Config, logger log.FieldLogger, opts Opts) (*App, error) {
	tracker := inflight.NewTracker()
	a := &App{
		Tracker:        tracker,
		trackerMetrics: inflight.NewPrometheusMetrics(tracker, MetricsNamespace),
		clientMetrics:  httpclient.NewPrometheusMetricsCollector(MetricsNamespace),
		buildInfo:      buildinfo.NewPrometheusCollector(MetricsNamespace),

		rateLimitStorage: cfg.RateLimit.Storage,
	}

	var authProvider httpclient.AuthProvider
	if cfg.Upstream.APIToken != "" {
		authProvider = httpclient.StaticTokenProvider(cfg.Upstream.APIToken)
	}
	client, err := httpclient.NewWithOpts(cfg.Client, httpclient.Opts{
		UserAgent:         buildinfo.UserAgent(),
		RequestType:       "upstream",
		Delegate:          opts.UpstreamTransport,
		LoggerProvider:    newContextLoggerProvider(logger),
		RequestIDProvider: middleware.GetRequestIDFromContext,
		Collector:         a.clientMetrics,
		Tracker:           tracker,
		AuthProvider:      authProvider,
	})
	if err != nil {
		a.trackerMetrics.Close()
		return nil, fmt.Errorf("create upstream client: %w", err)
	}

	if a.Admission, err = admission.New(cfg.RateLimit, admission.Opts{MetricsNamespace: MetricsNamespace}); err != nil {
		a.trackerMetrics.Close()
		return nil, fmt.Errorf("create admission policies: %w", err)
	}

	handler := oversight.NewHandler(cfg.Upstream, client, tracker, logger)
	a.HTTPServer = httpserver.New(cfg.Server, logger, httpserver.Opts{
		APIRoutes: map[httpserver.APIVersion]httpserver.APIRoute{
			1: func(router chi.Router) {
				handler.Register(router, oversight.RouteOpts{
					AuthMiddlewares: []func(http.Handler) http.Handler{a.Admission.Middleware(a.Admission.Auth)},
				})
			},
		},
		APIMiddlewares:     []func(http.Handler) http.Handler{a.Admission.Middleware(a.Admission.API)},
		HealthCheck:        a.checkHealth,
		HTTPRequestMetrics: httpserver.HTTPRequestMetricsOpts{Namespace: MetricsNamespace},
	})

	units := []service.Unit{a.HTTPServer, admission.NewUnit(a.Admission, logger)}
	if cfg.ProfServer.Enabled {
		units = append(units, profserver.New(cfg.ProfServer, logger))
	}
	a.CompositeUnit = service.NewCompositeUnit(units...)
	return a, nil
}

// HealthCheckComponentRateLimitStorage is reported by /healthz when rate limiting state is kept in Redis.
const HealthCheckComponentRateLimitStorage = "rateLimitStorage"

func (a *App) checkHealth(ctx context.Context) (httpserver.HealthCheckResult, error) {
	result := httpserver.HealthCheckResult{}
	if a.rateLimitStorage != admission.StorageRedis {
		return result, ctx.Err()
	}
	result[HealthCheckComponentRateLimitStorage] = httpserver.HealthCheckStatusOK
	if err := a.Admission.Ping(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if logger := middleware.GetLoggerFromContext(ctx); logger != nil {
			logger.Warn("rate limiting storage is unavailable", log.Error(err))
		}
		result[HealthCheckComponentRateLimitStorage] = httpserver.HealthCheckStatusFail
	}
	return result, nil
}

// Stop stops the units and detaches the metrics from the tracker.
func (a *App) Stop(gracefully bool) error {
	defer a.trackerMetrics.Close()
	return a.CompositeUnit.Stop(gracefully)
}

// MustRegisterMetrics registers metrics of all components in Prometheus client and panics if any error occurs.
func (a *App) MustRegisterMetrics() {
	a.CompositeUnit.MustRegisterMetrics()
	a.trackerMetrics.MustRegister()
	a.clientMetrics.MustRegister()
	prometheus.MustRegister(a.buildInfo)
	restapi.MustInitAndRegisterMetrics(MetricsNamespace)
}

// UnregisterMetrics unregisters metrics of all components in Prometheus client.
func (a *App) UnregisterMetrics() {
	restapi.UnregisterMetrics()
	prometheus.Unregister(a.buildInfo)
	a.clientMetrics.Unregister()
	a.trackerMetrics.Unregister()
	a.CompositeUnit.UnregisterMetrics()
}

func newContextLoggerProvider(fallback log.FieldLogger) func(ctx context.Context) log.FieldLogger {
	return func(ctx context.Context) log.FieldLogger {
		if logger := middleware.GetLoggerFromContext(ctx); logger != nil {
			return logger
		}
		return fallback
	}
}
