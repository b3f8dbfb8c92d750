// Package adminapi exposes a small HTTP surface for observing and
// controlling a running session: status, health, and a guarded stop
// endpoint. It is not part of the core streaming pipeline — that code never
// imports it — but every real deployment of a long-running stream client
// wants a way to ask "is it alive" and "shut it down" without a signal.
package adminapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StatusProvider is the read-only slice of session state the /status
// endpoint reports.
type StatusProvider interface {
	State() string
	ActiveSinks() int
	LastDeliveredSequence() (uint64, bool)
}

// Stopper lets the admin API request a graceful shutdown of the session.
type Stopper interface {
	Stop()
}

// Options configures the admin HTTP server.
type Options struct {
	Addr string
	Token string
}

// Server wraps a gin engine and the underlying http.Server, following the
// same bind-timeouts-then-context-driven-shutdown shape as the rest of this
// codebase's HTTP servers.
type Server struct {
	httpServer *http.Server
	log *slog.Logger
}

func NewServer(opts Options, status StatusProvider, stop Stopper, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "admin_api")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), securityHeadersMiddleware())

	checker := newTokenChecker(opts.Token)
	h := &handlers{status: status, stop: stop, log: log}

	engine.GET("/healthz", h.healthz)
	guarded := engine.Group("/", authRequired(checker))
	guarded.GET("/status", h.status)
	guarded.POST("/stop", h.stopSession)

	return &Server{
		httpServer: &http.Server{
			Addr: opts.Addr,
			Handler: engine,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout: 10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
		log: log,
	}
}

// Start binds and serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin API listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("admin API shutdown error", "err", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
