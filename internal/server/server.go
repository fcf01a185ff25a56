// Package server exposes the status API over the subscription registry,
// the worker pool and the metrics registry. The only write is raising a
// happening onto the bus.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nfrund/turnstile/internal/pubsub"
	"github.com/nfrund/turnstile/internal/subscription"
	"github.com/nfrund/turnstile/internal/worker"
)

const shutdownTimeout = 5 * time.Second

// Workers reports worker snapshots. *worker.Pool implements it.
type Workers interface {
	Statuses() []worker.Status
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E         *echo.Echo
	registry  *subscription.Registry
	workers   Workers
	metrics   *prometheus.Registry
	publisher pubsub.Publisher
	logger    *slog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithWorkers sets the source of /workers
func WithWorkers(w Workers) Option {
	return func(s *Server) { s.workers = w }
}

// WithMetrics serves /metrics from reg and records HTTP metrics into it
func WithMetrics(reg *prometheus.Registry) Option {
	return func(s *Server) { s.metrics = reg }
}

// WithPublisher enables POST /happenings/:topic, publishing onto p
func WithPublisher(p pubsub.Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithLogger sets the logger requests are logged with
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a new Server instance with its routes registered
func New(reg *subscription.Registry, opts ...Option) *Server {
	s := &Server{
		registry: reg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(requestLogger(s.logger))
	if s.metrics != nil {
		e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Namespace:  "turnstile",
			Subsystem:  "http",
			Registerer: s.metrics,
		}))
	}
	s.E = e

	s.RegisterRoutes()
	return s
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	// Start the server in a goroutine so that we can wait for ctx
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting status server", "addr", addr)
		if err := s.E.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Give in-flight requests a moment to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.E.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Status server stopped")
	return nil
}
