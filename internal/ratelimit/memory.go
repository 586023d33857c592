package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Eviction knobs for the in-memory limiter. A client that has been quiet
// for idleTTL has a full bucket anyway, so its entry can be dropped.
const (
	sweepInterval = time.Minute
	idleTTL       = 10 * time.Minute
)

// MemoryLimiter is a token-bucket Limiter keyed by client, held entirely
// in memory. It is sized for a single-instance control panel: one bucket
// per client IP, swept periodically so idle clients do not accumulate.
type MemoryLimiter struct {
	refillPerSec float64
	capacity     float64

	mu      sync.Mutex
	clients map[string]*tokenBucket

	stopOnce  sync.Once
	stopSweep chan struct{}
}

type tokenBucket struct {
	tokens float64
	seen   time.Time
}

// NewMemoryLimiter returns a limiter that sustains rate requests per second
// per key and tolerates bursts up to burst requests. Close stops the
// background sweep.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		refillPerSec: rate,
		capacity:     float64(burst),
		clients:      make(map[string]*tokenBucket),
		stopSweep:    make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Allow takes one token from key's bucket, reporting whether one was
// available. A key seen for the first time starts with a full bucket.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.clients[key]
	if !ok {
		m.clients[key] = &tokenBucket{tokens: m.capacity - 1, seen: now}
		return true, nil
	}

	b.tokens += now.Sub(b.seen).Seconds() * m.refillPerSec
	if b.tokens > m.capacity {
		b.tokens = m.capacity
	}
	b.seen = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the sweep goroutine. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.stopSweep) })
	return nil
}

func (m *MemoryLimiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.dropIdle(time.Now().Add(-idleTTL))
		}
	}
}

func (m *MemoryLimiter) dropIdle(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, b := range m.clients {
		if b.seen.Before(cutoff) {
			delete(m.clients, key)
		}
	}
}
