package core

import (
	"context"
	"sync"
	"time"

	"tenantgate/internal/types"
)

// MockKeyAuthenticator implements KeyAuthenticator for tests. AuthenticateFunc
// wins over Actor and Err when set.
type MockKeyAuthenticator struct {
	Actor            types.Actor
	Err              error
	AuthenticateFunc func(ctx context.Context, rawKey string) (types.Actor, error)

	mu    sync.Mutex
	Calls []string
}

func (m *MockKeyAuthenticator) Authenticate(ctx context.Context, rawKey string) (types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, rawKey)
	m.mu.Unlock()

	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, rawKey)
	}
	if m.Err != nil {
		return types.Actor{}, m.Err
	}
	return m.Actor, nil
}

// MockSessionVerifier implements SessionVerifier for tests.
type MockSessionVerifier struct {
	Actor types.Actor
	Err   error
}

func (m *MockSessionVerifier) Verify(string) (types.Actor, error) {
	if m.Err != nil {
		return types.Actor{}, m.Err
	}
	return m.Actor, nil
}

// MockRateLimitStore implements RateLimitStore for tests and records calls.
type MockRateLimitStore struct {
	Result                types.RateLimitResult
	Err                   error
	IncrementAndCheckFunc func(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error)

	mu    sync.Mutex
	Calls []RateLimitCall
}

// RateLimitCall records the arguments of one IncrementAndCheck call.
type RateLimitCall struct {
	Key    string
	Limit  int
	Window time.Duration
}

func (m *MockRateLimitStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RateLimitCall{Key: key, Limit: limit, Window: window})
	m.mu.Unlock()

	if m.IncrementAndCheckFunc != nil {
		return m.IncrementAndCheckFunc(ctx, key, limit, window)
	}
	return m.Result, m.Err
}

// MockFloodGuard implements FloodGuard by denying the listed addresses.
type MockFloodGuard struct {
	Denied map[string]bool
}

func (m *MockFloodGuard) Allow(ip string) bool {
	return !m.Denied[ip]
}

// MockMetrics implements MetricsCollector and records what it was given.
type MockMetrics struct {
	mu           sync.Mutex
	Requests     []RequestSample
	AuthFailures []string
}

// RequestSample is one RecordRequest call.
type RequestSample struct {
	Method, Route, Status string
	Duration              time.Duration
}

func (m *MockMetrics) RecordRequest(method, route, status string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, RequestSample{method, route, status, d})
}

func (m *MockMetrics) RecordAuthFailure(scheme string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AuthFailures = append(m.AuthFailures, scheme)
}
