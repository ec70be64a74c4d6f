package ratelimit

import (
	"context"
	"sync"
	"time"
)

// windowEntry tracks one key's counter and the start of its current window
type windowEntry struct {
	count       int64
	windowStart time.Time
}

// MemoryStore is an in-process fixed-window counter store. Suitable for
// single-instance deployments; counters do not survive restarts.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	stopCh  chan struct{}
}

// janitorInterval is how often expired windows are swept from the map
const janitorInterval = 5 * time.Minute

// NewMemoryStore creates a MemoryStore and starts its cleanup goroutine.
// Call Stop() when done to halt the goroutine.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*windowEntry),
		stopCh:  make(chan struct{}),
	}

	go s.janitor()

	return s
}

// janitor periodically removes entries whose window elapsed, so keys seen
// once do not accumulate forever.
func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for key, entry := range s.entries {
				// Windows never exceed an hour in the policy table; anything
				// untouched for longer is certainly stale.
				if now.Sub(entry.windowStart) > time.Hour {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Stop halts the cleanup goroutine.
func (s *MemoryStore) Stop() {
	close(s.stopCh)
}

// Incr increments the counter for key, starting a fresh window if none is
// live or the previous one elapsed.
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, exists := s.entries[key]

	if !exists || now.Sub(entry.windowStart) >= window {
		// New window: counter resets entirely
		entry = &windowEntry{windowStart: now}
		s.entries[key] = entry
	}

	entry.count++
	return entry.count, entry.windowStart.Add(window), nil
}

// Peek returns the current count for key without consuming budget.
func (s *MemoryStore) Peek(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, exists := s.entries[key]

	if !exists || now.Sub(entry.windowStart) >= window {
		return 0, now.Add(window), nil
	}

	return entry.count, entry.windowStart.Add(window), nil
}
