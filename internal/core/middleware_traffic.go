package core

import (
	"net/http"
	"strconv"
	"time"

	"tenantgate/internal/types"
)

// Signup throttle defaults, used when the configuration leaves them unset.
const (
	defaultSignupLimit  = 5
	defaultSignupWindow = time.Hour
)

// signupKeyPrefix namespaces signup counters inside a shared store.
const signupKeyPrefix = "signup:"

// SignupRateLimit allows a fixed number of signup attempts per client address
// per window. It runs before the body is read, so rejected requests cost no
// validation or hashing. Every counted request gets X-RateLimit-* headers;
// rejections add Retry-After.
//
// A store error fails open: the attempt is logged and allowed through.
func (s *Server) SignupRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimitStore == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit, window := s.signupLimits()
		ip := s.clientIP(r)

		res, err := s.RateLimitStore.IncrementAndCheck(r.Context(), signupKeyPrefix+ip, limit, window)
		if err != nil {
			s.Logger.ErrorContext(r.Context(), "signup rate limit store error",
				"ip", ip,
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, limit, res)

		if !res.Allowed {
			s.Logger.WarnContext(r.Context(), "signup rate limit exceeded", "ip", ip)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.ResetAt, time.Now())))
			Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "too many signup attempts, retry later", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) signupLimits() (int, time.Duration) {
	limit, window := defaultSignupLimit, defaultSignupWindow
	if s.Config != nil {
		if s.Config.RateLimit.SignupLimit > 0 {
			limit = s.Config.RateLimit.SignupLimit
		}
		if s.Config.RateLimit.SignupWindow > 0 {
			window = s.Config.RateLimit.SignupWindow
		}
	}
	return limit, window
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, res types.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// retryAfterSeconds rounds up to whole seconds and never returns less than 1.
func retryAfterSeconds(resetAt, now time.Time) int {
	d := resetAt.Sub(now)
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}
