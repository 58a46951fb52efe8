package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPGuard keeps one token bucket per source address. Buckets idle for
// longer than ttl are evicted on the next Allow call after a sweep interval.
type IPGuard struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rps       rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewIPGuard(rps float64, burst int) *IPGuard {
	return &IPGuard{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// Allow takes one token from ip's bucket.
func (g *IPGuard) Allow(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastSweep) > g.ttl {
		for k, v := range g.visitors {
			if now.Sub(v.lastSeen) > g.ttl {
				delete(g.visitors, k)
			}
		}
		g.lastSweep = now
	}

	v, ok := g.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(g.rps, g.burst)}
		g.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Len returns the number of tracked addresses.
func (g *IPGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.visitors)
}
