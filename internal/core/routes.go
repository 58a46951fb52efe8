package core

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
)

// defaultRequestTimeout applies when the configuration leaves it unset.
const defaultRequestTimeout = 29 * time.Second

// defaultRedactedHeaders are masked in request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"X-API-Key",
	"Stripe-Signature",
}

// MountRoutes installs the global middleware and every route group.
//
//	/health, /metrics                 open
//	/webhooks/*                       flood guard
//	/internal/*                       scheduler secret
//	/v1 public                        flood guard
//	/v1 signup                        flood guard, signup throttle
//	/v1 session                       session token
//	/v1 access key                    access key, gzip
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Get("/health", s.HandleHealth)
	if s.MetricsHandler != nil {
		s.router.Method(http.MethodGet, "/metrics", s.MetricsHandler)
	}

	s.router.Group(func(r chi.Router) {
		r.Use(s.FloodGuardMiddleware)
		mount(r, s.Routes.Webhooks)
	})
	s.router.Group(func(r chi.Router) {
		r.Use(s.SchedulerAuthMiddleware)
		mount(r, s.Routes.Internal)
	})

	s.router.Route("/v1", s.mountV1)
}

// registerGlobalMiddleware applies middleware outermost first. Recoverer must
// stay first; RequestID must precede anything that logs.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.MetricsMiddleware)
}

func (s *Server) mountV1(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(s.FloodGuardMiddleware)
		mount(r, s.Routes.Public)
	})
	r.Group(func(r chi.Router) {
		r.Use(s.FloodGuardMiddleware, s.SignupRateLimit)
		mount(r, s.Routes.Signup)
	})
	r.Group(func(r chi.Router) {
		r.Use(s.SessionMiddleware)
		mount(r, s.Routes.Session)
	})
	r.Group(func(r chi.Router) {
		r.Use(s.AccessKeyMiddleware, gzipMiddleware)
		mount(r, s.Routes.AccessKey)
	})
}

func mount(r chi.Router, registrars []RouteRegistrar) {
	for _, reg := range registrars {
		reg(r)
	}
}

// gzipMiddleware compresses responses when the client accepts gzip.
func gzipMiddleware(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Server.CorsAllowedOrigins) > 0 {
		return s.Config.Server.CorsAllowedOrigins
	}
	return []string{"*"}
}
