// Package api exposes the bridge over HTTP.
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
	"github.com/go-chi/cors"

	"github.com/romanesko/http-mqtt-bridge/bridge"
	"github.com/romanesko/http-mqtt-bridge/health"
)

const (
	defaultShutdownTimeout = 15 * time.Second
	defaultHealthTimeout   = 5 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Server wraps the chi router and the bridge dependencies.
type Server struct {
	router          *chi.Mux
	sender          bridge.Sender
	health          *health.Registry
	metrics         *Metrics
	logger          *slog.Logger
	addr            string
	secret          string
	anonymous       bool
	corsOrigins     []string
	readTimeout     time.Duration
	shutdownTimeout time.Duration
	healthTimeout   time.Duration
}

// Option configures the server
type Option func(*Server)

// WithSecret requires every request to carry secret. A server without a
// secret rejects every request unless WithAnonymous is also given.
func WithSecret(secret string) Option {
	return func(s *Server) {
		s.secret = secret
	}
}

// WithAnonymous accepts requests without checking the secret
func WithAnonymous() Option {
	return func(s *Server) {
		s.anonymous = true
	}
}

// WithCORSOrigins sets the allowed CORS origins; none means "*"
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithMetrics sets the metrics the server records into and exposes on /metrics
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithReadTimeout bounds reading a request body
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = d
	}
}

// WithShutdownTimeout bounds the graceful shutdown in Run
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// WithHealthTimeout bounds a single /health evaluation
func WithHealthTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.healthTimeout = d
	}
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, sender bridge.Sender, registry *health.Registry, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = health.NewRegistry()
	}

	srv := &Server{
		router:          chi.NewRouter(),
		sender:          sender,
		health:          registry,
		logger:          logger,
		addr:            addr,
		shutdownTimeout: defaultShutdownTimeout,
		healthTimeout:   defaultHealthTimeout,
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.metrics == nil {
		srv.metrics = NewMetrics()
	}

	origins := srv.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.RealIP)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(srv.metrics.middleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

func (s *Server) routes() {
	s.router.Post("/", s.handleSend)
	s.router.Handle("/health", health.NewHandler(s.health, s.healthTimeout))
	s.router.Get("/health/live", health.LivenessHandler())
	s.router.Handle("/metrics", s.metrics.Handler())
}

// Router returns the chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Metrics returns the metrics the server exposes
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
// In-flight sends get up to the shutdown timeout to finish.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       s.readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
