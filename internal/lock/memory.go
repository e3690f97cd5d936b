package lock

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Locker. It only excludes goroutines of one
// process, which is enough for single-instance deployments and tests.
type Memory struct {
	mu    sync.Mutex
	owner string
	locks map[string]Handle
	now   func() time.Time
}

func NewMemory(owner string) *Memory {
	return &Memory{owner: owner, locks: make(map[string]Handle), now: time.Now}
}

func (m *Memory) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if h, ok := m.locks[key]; ok && !h.Expired(now) {
		return false, nil
	}
	m.locks[key] = Handle{Key: key, Owner: m.owner, Expiry: now.Add(ttl)}
	// drop expired entries
	for k, h := range m.locks {
		if h.Expired(now) {
			delete(m.locks, k)
		}
	}
	return true, nil
}

// Holder returns the live handle for key, if any.
func (m *Memory) Holder(key string) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.locks[key]
	if !ok || h.Expired(m.now()) {
		return Handle{}, false
	}
	return h, true
}
