package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestLimiterPool_SweepEvictsIdleEntries tests that stale per-IP limiters
// are dropped while recently seen ones survive
func TestLimiterPool_SweepEvictsIdleEntries(t *testing.T) {
	p := newLimiterPool(5, 10)

	p.Allow("198.51.100.1")
	p.Allow("198.51.100.2")

	p.mu.Lock()
	p.m["198.51.100.1"].seen = time.Now().Add(-time.Hour)
	p.mu.Unlock()

	p.sweep(time.Now().Add(-limiterIdleAfter))

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.NotContains(t, p.m, "198.51.100.1")
	assert.Contains(t, p.m, "198.51.100.2")
}

// TestLimiterPool_EvictedClientGetsFreshBucket tests that eviction resets
// a drained bucket rather than carrying its debt over
func TestLimiterPool_EvictedClientGetsFreshBucket(t *testing.T) {
	p := newLimiterPool(0.001, 1)

	assert.True(t, p.Allow("198.51.100.3"))
	assert.False(t, p.Allow("198.51.100.3"), "burst of one is spent")

	p.mu.Lock()
	p.m["198.51.100.3"].seen = time.Now().Add(-time.Hour)
	p.mu.Unlock()
	p.sweep(time.Now().Add(-limiterIdleAfter))

	assert.True(t, p.Allow("198.51.100.3"))
}

// TestLimiterPool_AllowRefreshesLastSeen tests that active clients are
// never swept
func TestLimiterPool_AllowRefreshesLastSeen(t *testing.T) {
	p := newLimiterPool(5, 10)

	p.Allow("198.51.100.4")
	p.mu.Lock()
	p.m["198.51.100.4"].seen = time.Now().Add(-time.Hour)
	p.mu.Unlock()

	// A new request lands before the janitor runs
	p.Allow("198.51.100.4")
	p.sweep(time.Now().Add(-limiterIdleAfter))

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Contains(t, p.m, "198.51.100.4")
}
