package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/flowpbx/dialmobile/internal/api/middleware"
	"github.com/flowpbx/dialmobile/internal/database"
	"github.com/flowpbx/dialmobile/internal/dialmobile"
)

// Orchestrator is the read-only view of the push orchestrator the API
// exposes.
type Orchestrator interface {
	PendingPushes() []dialmobile.PendingPush
	IsRegistered(user string) bool
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Options holds the Server's dependencies. Metrics and Checks may be nil.
type Options struct {
	Tokens       database.PushTokenRepository
	Orchestrator Orchestrator
	JWTSecret    []byte
	Metrics      http.Handler
	Checks       map[string]HealthCheck
	TLSEnabled   bool
	Logger       *slog.Logger
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router  *chi.Mux
	opts    Options
	limiter *middleware.KeyedRateLimiter
	logger  *slog.Logger
}

// NewServer creates the HTTP handler with all routes mounted. Call Close to
// stop background work.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		router:  chi.NewRouter(),
		opts:    opts,
		limiter: middleware.NewKeyedRateLimiter(middleware.DefaultRateLimitConfig()),
		logger:  opts.Logger.With("subsystem", "api"),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiter's cleanup loop.
func (s *Server) Close() {
	s.limiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(s.logger))
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.SecurityHeaders(s.opts.TLSEnabled))

	r.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/pending-pushes", s.handleListPendingPushes)
		r.Get("/mobile-sessions/{user}", s.handleGetMobileSession)

		// Mobile app endpoints.
		r.Route("/mobile", func(r chi.Router) {
			r.Use(middleware.RequireMobileAuth(s.opts.JWTSecret))
			r.Use(middleware.RateLimit(s.limiter, middleware.ByMobileUser))

			r.Put("/push-token", s.handlePutPushToken)
			r.Delete("/push-token/{device_id}", s.handleDeletePushToken)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}
