// Package ratelimit implements per-client token buckets for the lookup API.
package ratelimit

import (
	"sync"
	"time"
)

const DefaultIdle = 10 * time.Minute

// Limiter holds one bucket per client key. All buckets share the same rate.
type Limiter struct {
	rps   float64
	burst float64

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		rps:     rps,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether key may perform one more lookup at now. An empty key
// or a non-positive rate disables limiting.
func (l *Limiter) Allow(key string, now time.Time) bool {
	if l == nil || key == "" || l.rps <= 0 || l.burst <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = min(l.burst, b.tokens+elapsed*l.rps)
		b.last = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Sweep drops buckets untouched for longer than idle and returns how many
// remain.
func (l *Limiter) Sweep(now time.Time, idle time.Duration) int {
	if l == nil {
		return 0
	}
	if idle <= 0 {
		idle = DefaultIdle
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.last) > idle {
			delete(l.buckets, key)
		}
	}
	return len(l.buckets)
}
