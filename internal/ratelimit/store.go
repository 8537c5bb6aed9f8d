package ratelimit

import (
	"context"
	"sync"
	"time"
)

// CounterStore owns the per-key window counters. Increment is atomic:
// the returned count already includes the call being made. The store
// is injectable so tests get isolated counters and multi-instance
// deployments can swap in a shared external store.
type CounterStore interface {
	// Increment bumps the counter for key, starting a fresh window of
	// the given duration when none exists or the previous one has
	// elapsed. It returns the post-increment count and the instant at
	// which the current window resets.
	Increment(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)

	// Sweep removes counters whose window elapsed before now.
	Sweep(ctx context.Context, now time.Time) error
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// MemoryStore is the process-local CounterStore.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*windowCounter)}
}

func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !now.Before(c.resetAt) {
		// Replace, not reset-in-place: a stale counter's history is gone.
		c = &windowCounter{count: 0, resetAt: now.Add(window)}
		s.counters[key] = c
	}
	c.count++
	return c.count, c.resetAt, nil
}

func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.counters {
		if !now.Before(c.resetAt) {
			delete(s.counters, key)
		}
	}
	return nil
}

// Len returns the number of live counters. Used by the sweeper log
// line and by tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}
