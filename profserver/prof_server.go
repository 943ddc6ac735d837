/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package profserver provides an HTTP server which exposes pprof endpoints under /debug/pprof/.
package profserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/acronis/watchtower/httpserver/middleware"
	"github.com/acronis/watchtower/log"
	"github.com/acronis/watchtower/service"
)

// ProfServer represents HTTP server for profiling.
// It implements service.Unit interface.
type ProfServer struct {
	URL             string
	HTTPServer      *http.Server
	ShutdownTimeout time.Duration
	Logger          log.FieldLogger

	httpServerDone chan struct{}
}

var _ service.Unit = (*ProfServer)(nil)

// New creates a new HTTP server (pprof) for profiling.
func New(cfg *Config, logger log.FieldLogger) *ProfServer {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID(),
		middleware.LoggingWithOpts(logger, middleware.LoggingOpts{RequestStart: true}),
	)
	router.Mount("/debug", chimiddleware.Profiler())

	logger = logger.With(log.String("address", cfg.Address))
	return &ProfServer{
		URL: "http://" + cfg.Address,
		HTTPServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
		httpServerDone:  make(chan struct{}),
	}
}

// Start starts profiling HTTP server in a blocking way. It's supposed to be called in a separate goroutine.
// If a fatal error occurs, it's sent into passed fatalError channel.
func (s *ProfServer) Start(fatalError chan<- error) {
	defer close(s.httpServerDone)

	s.Logger.Info("starting profiling HTTP server...")
	if err := s.HTTPServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			s.Logger.Info("profiling HTTP server closed")
			return
		}
		s.Logger.Error("profiling HTTP server error", log.Error(err))
		fatalError <- err
	}
}

// Stop stops profiling HTTP server.
// Gracefully stopping waits for running profiles (at most ShutdownTimeout); they may take tens of seconds.
func (s *ProfServer) Stop(gracefully bool) error {
	if !gracefully || s.ShutdownTimeout <= 0 {
		s.Logger.Info("closing profiling HTTP server...")
		if err := s.HTTPServer.Close(); err != nil {
			s.Logger.Error("profiling HTTP server closing error", log.Error(err))
			return err
		}
		<-s.httpServerDone
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	s.Logger.Info("shutting down profiling HTTP server...", log.Duration("timeout", s.ShutdownTimeout))
	if err := s.HTTPServer.Shutdown(ctx); err != nil {
		s.Logger.Error("profiling HTTP server shutting down error", log.Error(err))
		_ = s.HTTPServer.Close()
		<-s.httpServerDone
		return err
	}
	<-s.httpServerDone
	return nil
}
