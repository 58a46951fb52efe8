// Package ratelimit holds the fixed-window counter stores behind the signup
// throttle and the per-address token buckets of the public flood guard.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"tenantgate/internal/types"
)

// Store atomically counts one hit against key and reports whether the count
// is within limit for the current window. Implementations: MemoryStore,
// RedisStore and db.RateLimitRepository.
type Store interface {
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error)
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryStore is a single-process Store. Counters for different keys do not
// share state across instances, so it is meant for local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// IncrementAndCheck implements Store.
func (s *MemoryStore) IncrementAndCheck(_ context.Context, key string, limit int, win time.Duration) (types.RateLimitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(win)}
		s.windows[key] = w
	}
	w.count++

	return result(w.count, limit, w.resetAt), nil
}

// Sweep drops expired windows and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, k)
			n++
		}
	}
	return n
}

func result(count, limit int, resetAt time.Time) types.RateLimitResult {
	return types.RateLimitResult{
		Allowed:   count <= limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
}
