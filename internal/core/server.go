// Package core provides the API chassis for tenantgate. It builds the chi
// router, applies the cross-cutting middleware (request ids, logging,
// metrics, security headers, credential checks, throttling) and writes the
// shared JSON envelopes before requests reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tenantgate/internal/config"
)

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	// RecordRequest records latency and count for one request. route is the
	// chi route pattern, never the raw path, to keep label cardinality bounded.
	RecordRequest(method, route, status string, duration time.Duration)

	// RecordAuthFailure counts a rejected credential by scheme
	// ("access_key", "session", "scheduler").
	RecordAuthFailure(scheme string)
}

// RouteRegistrar mounts a handler's routes onto a router group. Registrars
// are supplied by the entry point so core never imports handler packages.
type RouteRegistrar func(r chi.Router)

// Routes groups registrars by the protection each group receives.
type Routes struct {
	// Webhooks are mounted at the root behind the flood guard only.
	Webhooks []RouteRegistrar
	// Internal routes are mounted at the root behind the scheduler secret.
	Internal []RouteRegistrar
	// Public routes live under /v1 behind the flood guard.
	Public []RouteRegistrar
	// Signup routes live under /v1 behind the flood guard and the per-IP
	// signup throttle.
	Signup []RouteRegistrar
	// Session routes live under /v1 and require a session token.
	Session []RouteRegistrar
	// AccessKey routes live under /v1, require an access key and are
	// compressed.
	AccessKey []RouteRegistrar
}

// Server holds everything the HTTP layer needs. Fields other than Config and
// Logger are optional; a nil dependency disables the middleware that uses it.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	Keys           KeyAuthenticator
	Sessions       SessionVerifier
	RateLimitStore RateLimitStore
	FloodGuard     FloodGuard

	HealthProbes   []HealthProbe
	MetricsHandler http.Handler
	Routes         Routes

	// OnShutdown hooks release pools and clients owned by the entry point.
	OnShutdown []func()

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty
// router. Callers populate the optional fields and then call MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for tests that register extra routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown runs the registered shutdown hooks. The HTTP listener itself is
// drained by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	// Run in reverse registration order, like defers.
	for i := len(s.OnShutdown) - 1; i >= 0; i-- {
		s.OnShutdown[i]()
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
