// Package api provides HTTP handlers and the main API server logic for SessionPulse.
//
// It exposes RESTful endpoints for recording therapy-session events, closing
// sessions, and reading profiles, anomaly checks, and progress reports. The
// API integrates with the engine, scheduler, and store modules.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/TileTalk/SessionPulse/internal/engine"
	"github.com/TileTalk/SessionPulse/internal/store"
)

// Constants for API server configuration
const (
	// DefaultAddr is the default address the HTTP server listens on
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds how long a graceful shutdown may take
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds API server configuration.
type Opts struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// DisableScan skips starting the periodic anomaly sweep.
	DisableScan bool
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithScanDisabled turns off the periodic anomaly sweep.
func WithScanDisabled() Option {
	return func(o *Opts) {
		o.DisableScan = true
	}
}

// Server routes HTTP requests to engine operations.
type Server struct {
	engine *engine.Engine
}

// NewServer creates a server over the engine.
func NewServer(eng *engine.Engine) *Server {
	return &Server{engine: eng}
}

// Routes builds the HTTP routing table.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/events", s.recordEventHandler)
	r.Post("/sessions", s.startSessionHandler)
	r.Post("/sessions/{sessionID}/close", s.closeSessionHandler)
	r.Get("/sessions/{sessionID}/anomaly", s.anomalyHandler)
	r.Get("/patients/{patientID}/profile", s.profileHandler)
	r.Get("/patients/{patientID}/report", s.reportHandler)
	r.Get("/stats", s.statsHandler)
	r.Get("/health", s.healthHandler)
	return r
}

// Run assembles the store, engine, and HTTP server, then serves until the
// context is cancelled or the listener fails. State recovery runs before the
// listener opens so restarts never serve partial history.
func Run(ctx context.Context, storeOpts []store.Option, engineOpts []engine.Option, apiOpts ...Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	st, err := store.NewStore(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("api.Run: store close failed", "error", err)
		}
	}()

	eng := engine.New(st, engineOpts...)
	if err := eng.Recover(); err != nil {
		return fmt.Errorf("failed to recover state: %w", err)
	}
	if !cfg.DisableScan {
		if err := eng.StartScanner(ctx); err != nil {
			return fmt.Errorf("failed to start anomaly scanner: %w", err)
		}
		defer eng.StopScanner()
	} else {
		slog.Info("api.Run: periodic anomaly sweep disabled")
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: NewServer(eng).Routes(),
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Run: HTTP server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("api.Run: shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down cleanly: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	}
}
