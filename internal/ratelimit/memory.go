package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Memory keeps one token bucket per key inside the process. Counters live only as long
// as the process and are not shared between instances.
//
// A bucket idle for a full window has refilled, so it is dropped and recreated on the
// next request for that key.
type Memory struct {
	mu        sync.Mutex
	limiters  map[string]*bucket
	limit     int
	every     time.Duration
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewMemory(limit int, window time.Duration) *Memory {
	if limit <= 0 {
		limit = 1
	}
	return &Memory{
		limiters: make(map[string]*bucket),
		limit:    limit,
		every:    window / time.Duration(limit),
		window:   window,
		now:      time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	b, ok := m.limiters[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Every(m.every), m.limit)}
		m.limiters[key] = b
	}
	b.lastSeen = now

	if !b.lim.AllowN(now, 1) {
		return Result{Allowed: false, RetryAfter: m.every}, nil
	}
	return Result{Allowed: true, Remaining: int(b.lim.TokensAt(now))}, nil
}

// Len reports how many keys are currently tracked.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.limiters)
}

// sweep runs at most once per window. Caller holds m.mu.
func (m *Memory) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.window {
		return
	}
	m.lastSweep = now
	for key, b := range m.limiters {
		if now.Sub(b.lastSeen) >= m.window {
			delete(m.limiters, key)
		}
	}
}
