package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/auth"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/events"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/history"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/lock"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/metrics"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/pipeline"
)

// Exporter runs one export pipeline.
type Exporter interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// HistoryLister returns a caller's recent export runs.
type HistoryLister interface {
	ListByCaller(ctx context.Context, caller string, limit int) ([]history.Record, error)
}

// LockInspector reports the current converter lock holder.
type LockInspector interface {
	Holder() (lock.Holder, bool, error)
}

// EventSource is the caller-scoped event stream.
type EventSource interface {
	Subscribe(caller string) (<-chan events.Event, func())
	SnapshotSince(caller string, lastID int64) []events.Event
}

// Config holds API server configuration
type Config struct {
	Listen          string
	ShutdownTimeout time.Duration
	// ExposeDebug adds raw internal errors to failure responses.
	ExposeDebug bool
	// RequestsPerMinute and Burst throttle /export per caller. Zero disables throttling.
	RequestsPerMinute int
	Burst             int
	// MetricsPath mounts the Prometheus handler when Metrics is set.
	MetricsPath string
	// WriteTimeout bounds response writes. Zero leaves them unbounded so an
	// export waits for a converter without a timeout.
	WriteTimeout time.Duration
}

// Deps are the server's collaborators. History, Lock, Events and Metrics may be nil.
type Deps struct {
	Auth     auth.Authenticator
	Exporter Exporter
	History  HistoryLister
	Lock     LockInspector
	Events   EventSource
	Metrics  *metrics.Collector
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	limiter   *callerLimiter
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
		limiter:   newCallerLimiter(config.RequestsPerMinute, config.Burst),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = s.newHTTPServer()

	s.logger.Info("API server starting", "listen", s.config.Listen, "write_timeout", s.config.WriteTimeout)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) newHTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, s.config.MetricsPath, s.deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeExportWrite), s.rateLimit).Get("/export", s.handleExport)
		r.With(s.requireScopes(auth.ScopeExportRead)).Get("/exports", s.handleListExports)
		r.With(s.requireScopes(auth.ScopeExportRead)).Get("/exports/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
