package memory

import (
	"context"
	"sync"

	"github.com/hamed0406/uptimepipeline/internal/domain"
	"github.com/hamed0406/uptimepipeline/internal/repo"
)

// Store keeps states and cached results in process memory. State does not
// survive a restart, so it only suits single-process runs and tests.
type Store struct {
	mu      sync.RWMutex
	states  map[domain.TargetID]domain.State
	history map[domain.TargetID][]domain.ProbeResult // newest last
	limit   int
}

func New() *Store { return NewWithHistory(repo.DefaultHistoryLength) }

func NewWithHistory(limit int) *Store {
	if limit < 1 {
		limit = repo.DefaultHistoryLength
	}
	return &Store{
		states:  make(map[domain.TargetID]domain.State),
		history: make(map[domain.TargetID][]domain.ProbeResult),
		limit:   limit,
	}
}

// ---- StateStore ----

func (m *Store) Get(ctx context.Context, id domain.TargetID) (domain.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[id]
	if !ok {
		return domain.StateUnknown, nil
	}
	return s, nil
}

func (m *Store) Set(ctx context.Context, id domain.TargetID, s domain.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = s
	return nil
}

// ---- StatusCache ----

func (m *Store) Put(ctx context.Context, r domain.ProbeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := append(m.history[r.TargetID], r)
	if len(h) > m.limit {
		h = append([]domain.ProbeResult(nil), h[len(h)-m.limit:]...)
	}
	m.history[r.TargetID] = h
	return nil
}

func (m *Store) Latest(ctx context.Context, id domain.TargetID) (*domain.ProbeResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[id]
	if len(h) == 0 {
		return nil, nil
	}
	r := h[len(h)-1]
	return &r, nil
}

func (m *Store) History(ctx context.Context, id domain.TargetID) ([]domain.ProbeResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ProbeResult(nil), m.history[id]...), nil
}

func (m *Store) Ping(ctx context.Context) error { return nil }

var (
	_ repo.StateStore  = (*Store)(nil)
	_ repo.StatusCache = (*Store)(nil)
)
