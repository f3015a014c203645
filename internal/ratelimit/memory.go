package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count       int
	windowStart time.Time
}

// MemoryStore is the in-process fallback counter. Limits enforced here are
// per-instance, which is weaker than the shared store but better than no
// limit while Redis is down.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket)}
}

func (s *MemoryStore) Allow(_ context.Context, key string, max int, window time.Duration) (Decision, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || now.Sub(b.windowStart) > window {
		s.buckets[key] = &bucket{count: 1, windowStart: now}
		return Decision{Allowed: true}, nil
	}

	b.count++
	if b.count <= max {
		return Decision{Allowed: true}, nil
	}

	retryAfter := window - now.Sub(b.windowStart)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}, nil
}

// StartCleanup prunes stale buckets periodically until ctx is cancelled, so a
// long-running process does not accumulate one bucket per attacker key.
func (s *MemoryStore) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.cleanup(maxAge)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *MemoryStore) cleanup(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, b := range s.buckets {
		if b.windowStart.Before(cutoff) {
			delete(s.buckets, key)
		}
	}
}
