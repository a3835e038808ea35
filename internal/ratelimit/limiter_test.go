package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllow(t *testing.T) {
	l := NewLimiter(1, 2)
	now := time.Now()

	if !l.Allow("10.0.0.1", now) {
		t.Fatalf("expected first lookup allowed")
	}
	if !l.Allow("10.0.0.1", now) {
		t.Fatalf("expected second lookup allowed")
	}
	if l.Allow("10.0.0.1", now) {
		t.Fatalf("expected third lookup limited")
	}

	later := now.Add(1500 * time.Millisecond)
	if !l.Allow("10.0.0.1", later) {
		t.Fatalf("expected refill to allow after time")
	}
}

func TestLimiterDifferentKeys(t *testing.T) {
	l := NewLimiter(1, 1)
	now := time.Now()

	if !l.Allow("10.0.0.1", now) {
		t.Fatalf("expected first key allowed")
	}
	if !l.Allow("10.0.0.2", now) {
		t.Fatalf("expected second key allowed")
	}
}

func TestLimiterDisabled(t *testing.T) {
	var nilLimiter *Limiter
	if !nilLimiter.Allow("10.0.0.1", time.Now()) {
		t.Fatalf("nil limiter must allow")
	}

	l := NewLimiter(0, 0)
	for i := 0; i < 10; i++ {
		if !l.Allow("10.0.0.1", time.Now()) {
			t.Fatalf("zero rate must allow")
		}
	}
}

func TestLimiterSweep(t *testing.T) {
	l := NewLimiter(1, 1)
	now := time.Now()
	l.Allow("old", now)
	l.Allow("new", now.Add(time.Hour))

	if remaining := l.Sweep(now.Add(time.Hour), time.Minute); remaining != 1 {
		t.Fatalf("expected 1 bucket after sweep, got %d", remaining)
	}
}
