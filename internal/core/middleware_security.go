package core

import (
	"net"
	"net/http"
	"strings"

	"tenantgate/internal/types"
)

// SecurityHeadersMiddleware sets the standard hardening headers on every
// response.
func (s *Server) SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// NewCORSMiddleware allows the listed origins ("*" allows any) and answers
// preflight requests with 204.
func NewCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
			break
		}
		originSet[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := ""
			if allowAll {
				allowed = "*"
			} else if _, ok := originSet[origin]; ok && origin != "" {
				allowed = origin
			}

			if allowed != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allowed)
				h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-Id")
				h.Set("Access-Control-Expose-Headers", "X-Request-Id, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")
				h.Set("Access-Control-Max-Age", "86400")
				if allowed != "*" {
					h.Add("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// FloodGuardMiddleware applies the per-address token bucket to public
// routes. Rejections carry rate_limit_exceeded like the signup throttle.
func (s *Server) FloodGuardMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.FloodGuard == nil {
			next.ServeHTTP(w, r)
			return
		}

		ip := s.clientIP(r)
		if !s.FloodGuard.Allow(ip) {
			s.Logger.WarnContext(r.Context(), "flood guard rejected request",
				"ip", ip,
				"method", r.Method,
				"path", r.URL.Path,
			)
			w.Header().Set("Retry-After", "1")
			Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "too many requests", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the caller's address using the configured number of
// trusted proxy hops.
func (s *Server) clientIP(r *http.Request) string {
	hops := 0
	if s.Config != nil {
		hops = s.Config.Server.TrustedProxyHops
	}
	return extractClientIP(r, hops)
}

// extractClientIP returns the caller's address. With trustedHops == 0
// X-Forwarded-For is ignored and RemoteAddr is used. Otherwise the entry
// trustedHops from the right is used, since each trusted proxy appends one;
// entries left of it are client supplied. A chain shorter than trustedHops or
// an unparsable entry falls back to RemoteAddr.
func extractClientIP(r *http.Request, trustedHops int) string {
	if trustedHops > 0 {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) >= trustedHops {
				candidate := strings.TrimSpace(parts[len(parts)-trustedHops])
				if net.ParseIP(candidate) != nil {
					return candidate
				}
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
