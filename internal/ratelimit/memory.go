package ratelimit

import (
	"context"
	"sync"
	"time"
)

// staleThreshold is how long a key can go unused before its bucket is
// reclaimed by the sweeper.
const staleThreshold = 10 * time.Minute

// sweepInterval controls how often the sweeper runs.
const sweepInterval = time.Minute

// bucket tracks the remaining tokens for one key. Tokens refill lazily on
// access rather than on a timer, so an idle bucket costs nothing.
type bucket struct {
	tokens     float64
	lastAccess time.Time
}

// refill credits tokens for the time elapsed since the last access,
// capped at capacity, and stamps the access time.
func (b *bucket) refill(now time.Time, perSec, capacity float64) {
	b.tokens += now.Sub(b.lastAccess).Seconds() * perSec
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.lastAccess = now
}

// MemoryLimiter is a per-key token bucket held entirely in process memory.
// Suitable for a single-instance deployment; multi-instance deployments
// should plug in a shared Limiter instead.
type MemoryLimiter struct {
	refillPerSec float64
	capacity     float64

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter returns a limiter refilling rate tokens per second per
// key, with burst as the bucket capacity. It starts a sweeper goroutine
// that drops buckets idle longer than staleThreshold; Close stops it.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		refillPerSec: rate,
		capacity:     float64(burst),
		buckets:      make(map[string]*bucket),
		done:         make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Allow takes one token from key's bucket. A key seen for the first time
// starts with a full bucket, so the first request always passes.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		m.buckets[key] = &bucket{tokens: m.capacity - 1, lastAccess: now}
		return true, nil
	}

	b.refill(now, m.refillPerSec, m.capacity)
	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the sweeper. Idempotent.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	cutoff := time.Now().Add(-staleThreshold)

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, b := range m.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
