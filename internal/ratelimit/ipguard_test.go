package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIPGuard_BurstThenRefill(t *testing.T) {
	g := NewIPGuard(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	assert.True(t, g.Allow("10.0.0.1"))
	assert.True(t, g.Allow("10.0.0.1"))
	assert.False(t, g.Allow("10.0.0.1"))
	assert.True(t, g.Allow("10.0.0.2"), "buckets are per address")

	now = now.Add(time.Second)
	assert.True(t, g.Allow("10.0.0.1"))
}

func TestIPGuard_EvictsIdleAddresses(t *testing.T) {
	g := NewIPGuard(5, 5)
	now := time.Now()
	g.now = func() time.Time { return now }

	g.Allow("a")
	g.Allow("b")
	assert.Equal(t, 2, g.Len())

	now = now.Add(11 * time.Minute)
	g.Allow("c")
	assert.Equal(t, 1, g.Len())
}
