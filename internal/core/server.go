// Package core serves the reporter's status endpoints: health probes and a
// read-only view of what has been published.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kassenews/internal/reporter"
	"kassenews/internal/scheduler"
)

// StatusProvider exposes the loop state shown by the status endpoints.
// scheduler.Loop implements it.
type StatusProvider interface {
	Snapshot() reporter.Report
	LastTick() scheduler.TickResult
}

// Server is the status HTTP server.
type Server struct {
	Logger       *slog.Logger
	Status       StatusProvider
	HealthProbes []HealthProbe
	Build        BuildInfo

	router *chi.Mux
}

// BuildInfo is reported by GET /version.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// NewServer creates a Server with its routes mounted.
func NewServer(status StatusProvider, logger *slog.Logger, probes ...HealthProbe) (*Server, error) {
	if status == nil {
		return nil, fmt.Errorf("status provider must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Logger:       logger,
		Status:       status,
		HealthProbes: probes,
		router:       chi.NewRouter(),
	}
	s.mountRoutes()
	return s, nil
}

func (s *Server) mountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Get("/health", s.HandleHealth)
	s.router.Get("/version", s.HandleVersion)
	s.router.Route("/status", func(r chi.Router) {
		r.Get("/report", s.HandleReport)
		r.Get("/report/{postID}", s.HandlePost)
		r.Get("/tick", s.HandleLastTick)
	})
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.InfoContext(ctx, "status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down status server: %w", err)
		}
		return nil
	}
}
