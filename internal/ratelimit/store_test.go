package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_FixedWindow(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := s.IncrementAndCheck(ctx, "signup:1.2.3.4", 5, time.Hour)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 5-i, res.Remaining)
	}

	res, err := s.IncrementAndCheck(ctx, "signup:1.2.3.4", 5, time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, now.Add(time.Hour), res.ResetAt)

	other, _ := s.IncrementAndCheck(ctx, "signup:5.6.7.8", 5, time.Hour)
	assert.True(t, other.Allowed)

	now = now.Add(time.Hour)
	res, _ = s.IncrementAndCheck(ctx, "signup:1.2.3.4", 5, time.Hour)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestMemoryStore_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	s := NewMemoryStore()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := s.IncrementAndCheck(context.Background(), "k", 5, time.Minute)
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, allowed)
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	_, _ = s.IncrementAndCheck(context.Background(), "a", 1, time.Minute)
	_, _ = s.IncrementAndCheck(context.Background(), "b", 1, time.Hour)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, s.Sweep())
}
