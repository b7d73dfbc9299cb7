package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Memory keeps one token bucket per (actor, route), for single-process
// deployments. Buckets are created lazily and never evicted — acceptable
// at the actor cardinality this service runs at; an evicting variant would
// be the next step if that stopped being true.
type Memory struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewMemory(rps float64, burst int) *Memory {
	return &Memory{
		buckets: make(map[string]*rate.Limiter),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

func (m *Memory) Admit(ctx context.Context, actor, route string) (bool, time.Duration, error) {
	key := actor + ":" + route
	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = rate.NewLimiter(m.rps, m.burst)
		m.buckets[key] = b
	}
	m.mu.Unlock()

	reservation := b.Reserve()
	if !reservation.OK() {
		return false, 0, nil
	}
	delay := reservation.Delay()
	if delay == 0 {
		return true, 0, nil
	}
	reservation.Cancel()
	return false, delay, nil
}
