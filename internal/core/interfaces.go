package core

import (
	"context"
	"time"

	"tenantgate/internal/types"
)

// KeyAuthenticator resolves a raw access key to the tenant-scoped Actor that
// owns it. Unknown, revoked and malformed keys all fail with the same
// auth_token_invalid error.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, rawKey string) (types.Actor, error)
}

// SessionVerifier validates a session token issued by the identity service.
type SessionVerifier interface {
	Verify(token string) (types.Actor, error)
}

// RateLimitStore is the fixed-window counter behind the signup throttle.
// Implementations exist for memory, Postgres and Redis.
type RateLimitStore interface {
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error)
}

// FloodGuard decides whether a source address may make another request.
type FloodGuard interface {
	Allow(ip string) bool
}
