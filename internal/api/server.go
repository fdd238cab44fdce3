package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/scorebridge/internal/convert"
	"github.com/mattjoyce/scorebridge/internal/metrics"
	"github.com/mattjoyce/scorebridge/internal/reaper"
	"github.com/mattjoyce/scorebridge/internal/supervisor"
	"github.com/mattjoyce/scorebridge/internal/workspace"
)

// multipartOverhead is the slack allowed on top of the upload limit for
// multipart framing and other form fields.
const multipartOverhead = 1 << 20

// streamAllowance bounds reading the upload and writing the artifact.
const streamAllowance = time.Minute

// Converter runs conversions and owns their workspaces.
type Converter interface {
	Convert(ctx context.Context, upload io.Reader, filename string) (*convert.Artifact, error)
	Release(art *convert.Artifact)
	Timeout() time.Duration
}

// VersionProber reports the converter's version string.
type VersionProber interface {
	Version(ctx context.Context, path string) (string, string, error)
}

// ReaperStatus exposes the most recent reaper sweep.
type ReaperStatus interface {
	LastReport() reaper.Report
}

// JanitorStatus exposes the most recent janitor sweep.
type JanitorStatus interface {
	LastReport() workspace.CleanupReport
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey enables bearer auth on /convert and /metrics when set.
	APIKey         string
	MaxUploadBytes int64
	ConverterPath  string
	TempDir        string
	// GracePeriod is the converter's SIGTERM-to-SIGKILL window. Zero uses
	// supervisor.DefaultGracePeriod.
	GracePeriod time.Duration
}

// Deps are the components the handlers call into. Reaper and Janitor may be
// nil when the sweeps are not running.
type Deps struct {
	Converter Converter
	Version   VersionProber
	Metrics   *metrics.Collector
	Reaper    ReaperStatus
	Janitor   JanitorStatus
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New("")
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Handler returns the routed HTTP handler. Conversions it runs are only
// cancelled by their timeout.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes(context.Background())
}

// Start serves until ctx is cancelled. Cancelling ctx also cancels in-flight
// conversions, so their process groups are terminated before shutdown
// completes.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.writeTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down", "drain_timeout", s.shutdownTimeout())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) grace() time.Duration {
	if s.config.GracePeriod > 0 {
		return s.config.GracePeriod
	}
	return supervisor.DefaultGracePeriod
}

// shutdownTimeout covers a cancelled conversion's group termination plus
// writing its error response.
func (s *Server) shutdownTimeout() time.Duration {
	return supervisor.TerminationBound(s.grace()) + 5*time.Second
}

// writeTimeout covers the longest conversion plus the upload and the artifact
// stream.
func (s *Server) writeTimeout() time.Duration {
	var timeout time.Duration
	if s.deps.Converter != nil {
		timeout = s.deps.Converter.Timeout()
	}
	return timeout + supervisor.TerminationBound(s.grace()) + streamAllowance
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes(root context.Context) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// Unauthenticated endpoints.
	r.Get("/", s.handleHome)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/musescore/version", s.handleVersion)
	r.Get("/convert/info", s.handleConvertInfo)

	// Protected when an API key is configured.
	r.Group(func(r chi.Router) {
		if s.config.APIKey != "" {
			r.Use(s.authMiddleware)
		}
		r.Post("/convert", s.handleConvert(root))
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
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
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
