// Package ratelimit provides fixed-window counters shared by the API limiter and the email caps,
// plus a per-IP token bucket for every route
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Entry is the state of one fixed window
type Entry struct {
	Key         string    `json:"key"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"windowStart"`
	LastSentAt  time.Time `json:"lastSentAt"`
}

// Expired reports whether the window has elapsed at now
func (e Entry) Expired(now time.Time, window time.Duration) bool {
	return now.After(e.WindowStart.Add(window))
}

// ResetAt is when the current window ends
func (e Entry) ResetAt(window time.Duration) time.Time { return e.WindowStart.Add(window) }

// Store counts hits per key in fixed windows. Hit must be atomic per key.
type Store interface {
	// Hit increments key, starting a new window when the current one expired, and returns the updated entry
	Hit(ctx context.Context, key string, window time.Duration) (Entry, error)
	// Peek returns the live entry for key without counting
	Peek(ctx context.Context, key string, window time.Duration) (Entry, bool, error)
	Reset(ctx context.Context, key string) error
}

type memEntry struct {
	Entry
	window time.Duration
}

// MemoryStore is a process-local Store; expired keys are pruned lazily
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*memEntry
	lastPrune time.Time
	pruneEach time.Duration
	now       func() time.Time
}

// NewMemoryStore returns an empty store using the wall clock
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]*memEntry),
		pruneEach: time.Minute,
		now:       time.Now,
	}
}

// WithClock replaces the clock; used by tests
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)

	e, ok := s.entries[key]
	if !ok || e.Expired(now, e.window) {
		e = &memEntry{Entry: Entry{Key: key, WindowStart: now}, window: window}
		s.entries[key] = e
	}
	e.Count++
	e.LastSentAt = now
	return e.Entry, nil
}

func (s *MemoryStore) Peek(_ context.Context, key string, window time.Duration) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.Expired(s.now(), window) {
		return Entry{}, false, nil
	}
	return e.Entry, true, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of tracked keys, expired ones included until the next prune
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	if now.Sub(s.lastPrune) < s.pruneEach {
		return
	}
	s.lastPrune = now
	for k, e := range s.entries {
		if e.Expired(now, e.window) {
			delete(s.entries, k)
		}
	}
}
