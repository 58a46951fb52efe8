package core

import (
	"net/http"
	"strings"

	"tenantgate/internal/types"
)

// Auth schemes reported to MetricsCollector.RecordAuthFailure.
const (
	schemeAccessKey = "access_key"
	schemeSession   = "session"
	schemeScheduler = "scheduler"
)

// invalidKeyMessage is the single message for every access key failure so
// that a missing, unknown or revoked key cannot be told apart.
const invalidKeyMessage = "invalid or missing access key"

// AccessKeyMiddleware authenticates the access key in
// "Authorization: Bearer <key>" or "X-API-Key" and stores the owning
// tenant's Actor in the context. Every credential failure is the same 401.
func (s *Server) AccessKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r.Header.Get("Authorization"))
		if raw == "" {
			raw = strings.TrimSpace(r.Header.Get("X-API-Key"))
		}
		if raw == "" || s.Keys == nil {
			s.rejectCredential(w, r, schemeAccessKey, types.ErrCodeAuthTokenInvalid, invalidKeyMessage)
			return
		}

		actor, err := s.Keys.Authenticate(r.Context(), raw)
		if err != nil {
			if types.ErrorCodeOf(err) == types.ErrCodeAuthTokenInvalid {
				s.rejectCredential(w, r, schemeAccessKey, types.ErrCodeAuthTokenInvalid, invalidKeyMessage)
				return
			}
			// Store outages are not credential failures.
			s.Logger.ErrorContext(r.Context(), "access key lookup failed", "error", err)
			Error(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), actor)))
	})
}

// SessionMiddleware verifies the identity service's session token in
// "Authorization: Bearer <token>" and stores the user's Actor.
func (s *Server) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.rejectCredential(w, r, schemeSession, types.ErrCodeAuthTokenMissing, "session token is required")
			return
		}
		if s.Sessions == nil {
			s.rejectCredential(w, r, schemeSession, types.ErrCodeAuthSessionInvalid, "invalid session")
			return
		}

		actor, err := s.Sessions.Verify(token)
		if err != nil {
			s.Logger.DebugContext(r.Context(), "session rejected", "error", err)
			s.rejectCredential(w, r, schemeSession, types.ErrCodeAuthSessionInvalid, "invalid session")
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), actor)))
	})
}

// SchedulerAuthMiddleware admits only requests bearing the scheduler secret,
// compared in constant time. The caller becomes a system Actor.
func (s *Server) SchedulerAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var secret types.SecretString
		if s.Config != nil {
			secret = s.Config.Auth.SchedulerSecret
		}

		presented := extractBearerToken(r.Header.Get("Authorization"))
		if !secret.Equal(presented) {
			s.rejectCredential(w, r, schemeScheduler, types.ErrCodeAuthTokenInvalid, "invalid scheduler credentials")
			return
		}

		actor := types.Actor{ID: "scheduler", Type: types.ActorTypeSystem}
		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), actor)))
	})
}

// extractBearerToken returns the credential from "Bearer <token>", matching
// the scheme case-insensitively, or "" for any other shape.
func extractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *Server) rejectCredential(w http.ResponseWriter, r *http.Request, scheme string, code types.ErrorCode, message string) {
	if s.Metrics != nil {
		s.Metrics.RecordAuthFailure(scheme)
	}
	s.Logger.WarnContext(r.Context(), "credential rejected",
		"scheme", scheme,
		"method", r.Method,
		"path", r.URL.Path,
	)
	Error(w, r, types.NewAppError(code, message, nil))
}
