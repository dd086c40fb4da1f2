// Package handler implements HTTP request handlers
package handler

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

// limiterPool keeps one token-bucket limiter per client IP as the first
// line of defense in front of the widget endpoints. Purely local, so it
// cannot fail open on store trouble; the Redis abuse guard behind it
// drives the captcha heuristic. A janitor goroutine evicts limiters idle
// past limiterIdleAfter so the map does not grow with IP churn.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*limiterEntry
	rps   float64
	burst int
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	p := &limiterPool{
		m:     make(map[string]*limiterEntry),
		rps:   rps,
		burst: burst,
	}
	go p.janitor()
	return p
}

func (p *limiterPool) janitor() {
	ticker := time.NewTicker(limiterSweepEvery)
	defer ticker.Stop()
	for range ticker.C {
		p.sweep(time.Now().Add(-limiterIdleAfter))
	}
}

// sweep drops limiters last seen before cutoff
func (p *limiterPool) sweep(cutoff time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.m {
		if e.seen.Before(cutoff) {
			delete(p.m, key)
		}
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[key]; ok {
		e.seen = time.Now()
		return e.lim
	}
	e := &limiterEntry{
		lim:  rate.NewLimiter(rate.Limit(p.rps), p.burst),
		seen: time.Now(),
	}
	p.m[key] = e
	return e.lim
}

// Allow reports whether the caller may proceed
func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// clientIP extracts the caller's address, preferring the first
// X-Forwarded-For hop set by the edge proxy
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
