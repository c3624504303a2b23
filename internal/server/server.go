// Package server exposes the agent runtime over HTTP.
//
// Runs stream back as chunked plain text. Approval interruptions are written
// into the stream as a single "[INTERRUPTION] ..." line; a failed run aborts
// the response so the client observes a broken stream instead of a clean end.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/tenantagent/internal/agent"
	"github.com/haasonsaas/tenantagent/internal/auth"
	"github.com/haasonsaas/tenantagent/internal/config"
	"github.com/haasonsaas/tenantagent/internal/observability"
	"github.com/haasonsaas/tenantagent/internal/ratelimit"
)

const defaultMaxBodyBytes = 1 << 20

// Options configures a Server.
type Options struct {
	Runtime *agent.Runtime
	Logger  *slog.Logger
	Metrics *observability.Metrics

	// MetricsHandler serves MetricsPath. Defaults to promhttp.Handler().
	MetricsHandler http.Handler
	MetricsPath    string

	// MaxBodyBytes bounds JSON request bodies.
	MaxBodyBytes int64

	// RunLimiter throttles POST /api/run per tenant. Nil disables it.
	RunLimiter *ratelimit.Limiter
}

// Server routes HTTP requests to the runtime.
type Server struct {
	runtime      *agent.Runtime
	logger       *slog.Logger
	metrics      *observability.Metrics
	maxBodyBytes int64
	runLimiter   *ratelimit.Limiter
	mux          *http.ServeMux
	handler      http.Handler
}

// New builds the server and its routes.
func New(opts Options) (*Server, error) {
	if opts.Runtime == nil {
		return nil, errors.New("server: runtime is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runtime:      opts.Runtime,
		logger:       logger.With("component", "http"),
		metrics:      opts.Metrics,
		maxBodyBytes: opts.MaxBodyBytes,
		runLimiter:   opts.RunLimiter,
		mux:          http.NewServeMux(),
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = defaultMaxBodyBytes
	}

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	metricsPath := opts.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	s.mux.Handle("GET "+metricsPath, metricsHandler)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.route("POST /api/run", s.handleRun)
	s.route("GET /api/conversations/{id}/history", s.handleHistory)
	s.route("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	s.route("GET /api/approvals", s.handleListApprovals)
	s.route("POST /api/approvals/{id}/approve", s.handleDecideApproval(agent.ApprovalAllowed))
	s.route("POST /api/approvals/{id}/deny", s.handleDecideApproval(agent.ApprovalDenied))
	s.route("POST /api/envelope/parse", s.handleParseEnvelope)

	s.handler = loggingMiddleware(s.logger, s.metrics)(s.mux)
	return s, nil
}

// route registers an API handler behind the identity middleware. The
// middleware sits inside the mux so the matched pattern stays visible to the
// request logger.
func (s *Server) route(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, auth.Middleware(s.logger)(h))
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.ServerConfig) error {
	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, listener, cfg)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener, cfg config.ServerConfig) error {
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	// No write timeout: run streams stay open as long as the model talks.
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	s.logger.Info("starting http server", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}
