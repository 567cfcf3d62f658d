package booking

import (
	"context"
	"sync"
	"time"
)

// HoldStore reserves a slot for the duration of one booking attempt
type HoldStore interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

type hold struct {
	owner   string
	expires time.Time
}

// MemoryHolds is a process-local HoldStore
type MemoryHolds struct {
	mu    sync.Mutex
	holds map[string]hold
	now   func() time.Time
}

// NewMemoryHolds returns an empty hold table
func NewMemoryHolds() *MemoryHolds {
	return &MemoryHolds{holds: make(map[string]hold), now: time.Now}
}

func (m *MemoryHolds) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if h, ok := m.holds[key]; ok && now.Before(h.expires) {
		return h.owner == owner, nil
	}
	m.holds[key] = hold{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (m *MemoryHolds) Release(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.holds[key]; ok && h.owner == owner {
		delete(m.holds, key)
	}
	return nil
}
