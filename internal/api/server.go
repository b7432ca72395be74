// Package api provides the HTTP server and routing for dataset queries.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gapminder/ddf-server/internal/config"
	"github.com/gapminder/ddf-server/internal/metrics"
)

// Server represents the HTTP server.
type Server struct {
	config    *config.Config
	handler   *Handler
	admission *Admission
	router    chi.Router
	server    *http.Server
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// ServerOption is a function that configures the server.
type ServerOption func(*Server)

// NewServer creates a new HTTP server wired to h, starting the admission
// controller's background sampler bound to ctx.
func NewServer(ctx context.Context, cfg *config.Config, h *Handler, admission *Admission, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		config:    cfg,
		handler:   h,
		admission: admission,
		logger:    logger,
		metrics:   metrics.New(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if admission != nil {
		go admission.Run(ctx)
	}

	s.setupRouter()
	return s
}

// Metrics returns the metrics instance for recording custom metrics.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// setupRouter configures the HTTP router.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", s.handler.List)
	r.Get("/ddf-service-directory", s.handler.Directory)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	if s.config.Server.DocsEnabled {
		r.Get("/docs", handleSwaggerUI)
		r.Get("/openapi.yaml", handleOpenAPISpec)
	}
	if s.config.Server.LoaderIOToken != "" {
		r.Get("/"+s.config.Server.LoaderIOToken+".txt", s.handler.LoaderIOToken)
	}

	r.Get("/{name}", s.handler.ResolveVersion)
	r.Get("/{name}/assets/{asset}", s.handler.Asset)
	r.Get("/{name}/{version}", s.handler.Query)
	r.Get("/{name}/{version}/assets/{asset}", s.handler.Asset)

	s.router = r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
	}

	s.logger.Info("starting server", slog.String("address", addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the HTTP router for testing.
func (s *Server) Router() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Address returns the server address.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s", s.config.Address())
}
