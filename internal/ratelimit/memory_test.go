package ratelimit

import (
	"context"
	"testing"
	"time"
)

func closeLimiter(t *testing.T, m *MemoryLimiter) {
	t.Helper()
	if err := m.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
}

func TestMemoryLimiterBurst(t *testing.T) {
	m := NewMemoryLimiter(10, 3)
	defer closeLimiter(t, m)

	ctx := context.Background()
	for i := range 3 {
		ok, err := m.Allow(ctx, "k1")
		if err != nil {
			t.Fatalf("Allow error on request %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}

	ok, err := m.Allow(ctx, "k1")
	if err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if ok {
		t.Fatal("expected Allow=false after burst exhausted")
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m := NewMemoryLimiter(10, 1)
	defer closeLimiter(t, m)

	ctx := context.Background()
	if ok, _ := m.Allow(ctx, "a"); !ok {
		t.Fatal("first request for key a should pass")
	}
	if ok, _ := m.Allow(ctx, "a"); ok {
		t.Fatal("second request for key a should be denied")
	}
	if ok, _ := m.Allow(ctx, "b"); !ok {
		t.Fatal("key b has its own bucket and should pass")
	}
}

func TestMemoryLimiterRefill(t *testing.T) {
	// 1000 tokens/s refills one per millisecond.
	m := NewMemoryLimiter(1000, 2)
	defer closeLimiter(t, m)

	ctx := context.Background()
	for range 2 {
		_, _ = m.Allow(ctx, "k1")
	}
	if ok, _ := m.Allow(ctx, "k1"); ok {
		t.Fatal("should be denied immediately after exhausting burst")
	}

	time.Sleep(5 * time.Millisecond)

	if ok, err := m.Allow(ctx, "k1"); err != nil || !ok {
		t.Fatalf("expected refill to allow request, ok=%v err=%v", ok, err)
	}
}

func TestMemoryLimiterDropsIdleClients(t *testing.T) {
	m := NewMemoryLimiter(10, 3)
	defer closeLimiter(t, m)

	ctx := context.Background()
	_, _ = m.Allow(ctx, "idle")
	_, _ = m.Allow(ctx, "active")

	m.mu.Lock()
	m.clients["idle"].seen = time.Now().Add(-idleTTL - time.Minute)
	m.mu.Unlock()

	m.dropIdle(time.Now().Add(-idleTTL))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients["idle"]; ok {
		t.Fatal("idle client should have been evicted")
	}
	if _, ok := m.clients["active"]; !ok {
		t.Fatal("active client should survive the sweep")
	}
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l Limiter = NoopLimiter{}
	for range 100 {
		ok, err := l.Allow(context.Background(), "any")
		if err != nil || !ok {
			t.Fatalf("noop limiter must always allow, ok=%v err=%v", ok, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
}
