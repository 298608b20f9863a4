package lock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	token   string
	expires time.Time
}

// Memory is an in-process Locker. Leases expire after ttl.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemory creates an in-process locker
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Memory{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

// TryAcquire takes the lease on key unless an unexpired holder has it
func (m *Memory) TryAcquire(_ context.Context, key string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expires) {
		return nil, ErrLocked
	}
	token := newToken()
	m.entries[key] = memoryEntry{token: token, expires: now.Add(m.ttl)}
	return &Lease{Key: key, token: token, release: m.release}, nil
}

func (m *Memory) release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && e.token == token {
		delete(m.entries, key)
	}
	return nil
}
