/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/watchtower/httpserver/middleware"
	"github.com/acronis/watchtower/log"
	"github.com/acronis/watchtower/service"
)

const (
	networkTCP  = "tcp"
	networkUnix = "unix"
)

// systemEndpoints are not involved in metrics collecting and API middlewares.
var systemEndpoints = []string{"/metrics", "/healthz"}

// APIVersion is a type alias for API version.
type APIVersion = int

// APIRoute is a type alias for single API route.
type APIRoute = func(router chi.Router)

// HTTPRequestMetricsOpts represents options for the HTTP request metrics middleware used in HTTPServer.
type HTTPRequestMetricsOpts struct {
	Namespace       string
	DurationBuckets []float64
}

// Opts represents options for creating HTTPServer.
type Opts struct {
	// APIRoutes is a map of API versions to their route configuration functions (mounted at /api/v{N}).
	APIRoutes map[APIVersion]APIRoute
	// APIMiddlewares are applied to every request under /api, including requests to unknown API routes.
	APIMiddlewares []func(http.Handler) http.Handler
	// RootMiddlewares are applied to every request after the default middlewares.
	RootMiddlewares []func(http.Handler) http.Handler
	// HealthCheck is a function that performs health check logic.
	HealthCheck HealthCheckContext
	// MetricsHandler is a custom handler for the /metrics endpoint. promhttp.Handler() is used if nil.
	MetricsHandler http.Handler
	// HTTPRequestMetrics contains options for configuring HTTP request metrics middleware.
	HTTPRequestMetrics HTTPRequestMetricsOpts
	// Listener is a pre-configured network listener to use instead of creating a new one.
	Listener net.Listener
}

// HTTPServer represents a wrapper around http.Server with additional fields and methods.
// It implements service.Unit and service.MetricsRegisterer interfaces.
type HTTPServer struct {
	URL             string
	HTTPServer      *http.Server
	UnixSocketPath  string
	TLS             TLSConfig
	HTTPRouter      chi.Router
	Logger          log.FieldLogger
	ShutdownTimeout time.Duration

	listener           net.Listener
	port               int32
	httpServerDone     atomic.Value
	httpRequestMetrics *middleware.HTTPRequestMetricsCollector
}

var _ service.Unit = (*HTTPServer)(nil)
var _ service.MetricsRegisterer = (*HTTPServer)(nil)

// New creates a new HTTPServer with predefined request ids, logging, metrics collecting,
// recovering after panics, request body limiting, and health-checking functionality.
func New(cfg *Config, logger log.FieldLogger, opts Opts) *HTTPServer { //nolint:gocritic // hugeParam: opts is heavy, it's ok in this case.
	metricsCollector := middleware.NewHTTPRequestMetricsCollectorWithOpts(middleware.HTTPRequestMetricsCollectorOpts{
		Namespace:       opts.HTTPRequestMetrics.Namespace,
		DurationBuckets: opts.HTTPRequestMetrics.DurationBuckets,
	})
	router := chi.NewRouter()
	applyDefaultMiddlewaresToRouter(router, cfg, logger, metricsCollector)
	configureRouter(router, logger, opts)

	httpServer := &http.Server{
		Addr:              cfg.Address,
		WriteTimeout:      cfg.Timeouts.Write,
		ReadTimeout:       cfg.Timeouts.Read,
		ReadHeaderTimeout: cfg.Timeouts.ReadHeader,
		IdleTimeout:       cfg.Timeouts.Idle,
		Handler:           router,
	}

	serverURL := httpServer.Addr
	if cfg.UnixSocketPath != "" {
		serverURL = "localhost" // Any domain can be used here. It will not be used in unix-socket case.
	}
	if cfg.TLS.Enabled {
		serverURL = "https://" + serverURL
	} else {
		serverURL = "http://" + serverURL
	}

	return &HTTPServer{
		URL:                serverURL,
		HTTPServer:         httpServer,
		UnixSocketPath:     cfg.UnixSocketPath,
		Logger:             logger,
		TLS:                cfg.TLS,
		ShutdownTimeout:    cfg.Timeouts.Shutdown,
		HTTPRouter:         router,
		listener:           opts.Listener,
		httpRequestMetrics: metricsCollector,
	}
}

// Start starts application HTTP server in a blocking way.
// It's supposed that this method will be called in a separate goroutine.
// If a fatal error occurs, it will be sent to the fatalError channel.
func (s *HTTPServer) Start(fatalError chan<- error) {
	done := make(chan struct{})
	defer close(done)
	s.httpServerDone.Store(done)

	logger := s.Logger.With(
		log.String("address", s.HTTPServer.Addr),
		log.Duration("write_timeout", s.HTTPServer.WriteTimeout),
		log.Duration("read_timeout", s.HTTPServer.ReadTimeout),
		log.Duration("read_header_timeout", s.HTTPServer.ReadHeaderTimeout),
		log.Duration("idle_timeout", s.HTTPServer.IdleTimeout),
		log.Duration("shutdown_timeout", s.ShutdownTimeout),
	)
	if s.UnixSocketPath != "" {
		logger = logger.With(log.String("unix_socket_path", s.UnixSocketPath))
		if err := os.Remove(s.UnixSocketPath); err != nil && !os.IsNotExist(err) {
			fatalError <- fmt.Errorf("remove unix socket file %q: %w", s.UnixSocketPath, err)
			return
		}
	}

	logger.Info("starting application HTTP server...")

	var err error
	if s.listener == nil {
		network, addr := s.NetworkAndAddr()
		if s.listener, err = net.Listen(network, addr); err != nil {
			logger.Error("application HTTP server error", log.Error(err))
			fatalError <- err
			return
		}
	}

	if s.listener.Addr().Network() == networkTCP {
		if err = s.storePort(); err != nil {
			logger.Error("unexpected format of TCP listener address", log.Error(err))
			fatalError <- err
			return
		}
	}

	if s.TLS.Enabled {
		err = s.HTTPServer.ServeTLS(s.listener, s.TLS.Certificate, s.TLS.Key)
	} else {
		err = s.HTTPServer.Serve(s.listener)
	}
	if err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("application HTTP server closed")
			return
		}
		logger.Error("application HTTP server error", log.Error(err))
		fatalError <- err
	}
}

func (s *HTTPServer) storePort() error {
	_, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return err
	}
	port, err := strconv.ParseInt(portStr, 10, 32)
	if err != nil {
		return err
	}
	atomic.StoreInt32(&s.port, int32(port))
	return nil
}

// Stop stops application HTTP server (gracefully or not).
func (s *HTTPServer) Stop(gracefully bool) error {
	if !gracefully {
		s.Logger.Info("closing application HTTP server...")
		if err := s.HTTPServer.Close(); err != nil {
			s.Logger.Error("application HTTP server closing error", log.Error(err))
			return err
		}
		s.waitDone()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	s.Logger.Info("shutting down application HTTP server...", log.Duration("timeout", s.ShutdownTimeout))
	if err := s.HTTPServer.Shutdown(ctx); err != nil {
		s.Logger.Error("application HTTP server shutting down error", log.Error(err))
		return err
	}
	s.Logger.Info("application HTTP server shut down")
	s.waitDone()
	return nil
}

func (s *HTTPServer) waitDone() {
	if done, ok := s.httpServerDone.Load().(chan struct{}); ok && done != nil {
		<-done // Wait for the listener to be closed.
	}
}

// MustRegisterMetrics registers metrics in Prometheus client and panics if any error occurs.
func (s *HTTPServer) MustRegisterMetrics() {
	s.httpRequestMetrics.MustRegister()
}

// UnregisterMetrics unregisters metrics in Prometheus client.
func (s *HTTPServer) UnregisterMetrics() {
	s.httpRequestMetrics.Unregister()
}

// NetworkAndAddr returns network type ("tcp" or "unix") and address (path to unix socket in case of "unix" network).
func (s *HTTPServer) NetworkAndAddr() (network string, addr string) {
	if s.UnixSocketPath != "" {
		return networkUnix, s.UnixSocketPath
	}
	return networkTCP, s.HTTPServer.Addr
}

// GetPort returns the TCP port the server listens on. It's zero until the server has started.
func (s *HTTPServer) GetPort() int {
	return int(atomic.LoadInt32(&s.port))
}
