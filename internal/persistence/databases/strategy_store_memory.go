package databases

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"finchcore/internal/persistence"
)

// NewMemoryStrategyStore returns an in-memory persistence.StrategyStore, used
// for the "memory" backend and in tests.
func NewMemoryStrategyStore() persistence.StrategyStore {
	return &memStrategyStore{strategies: map[string]persistence.Strategy{}}
}

func newMemoryStrategyStore() persistence.StrategyStore {
	return NewMemoryStrategyStore()
}

type memStrategyStore struct {
	mu         sync.RWMutex
	strategies map[string]persistence.Strategy
}

func (s *memStrategyStore) Init(ctx context.Context) error { return nil }
func (s *memStrategyStore) Close()                          {}

func (s *memStrategyStore) Create(ctx context.Context, st persistence.Strategy) (persistence.Strategy, error) {
	if strings.TrimSpace(st.Name) == "" {
		return persistence.Strategy{}, errors.New("name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.Mode == "" {
		st.Mode = "paper"
	}
	now := time.Now().UTC()
	st.CreatedAt, st.UpdatedAt = now, now
	s.strategies[st.ID] = st
	return st, nil
}

func (s *memStrategyStore) Get(ctx context.Context, userID int64, id string) (persistence.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.strategies[id]
	if !ok {
		return persistence.Strategy{}, persistence.ErrNotFound
	}
	if st.UserID != userID {
		return persistence.Strategy{}, persistence.ErrForbidden
	}
	return st, nil
}

func (s *memStrategyStore) List(ctx context.Context, userID int64) ([]persistence.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]persistence.Strategy, 0)
	for _, st := range s.strategies {
		if st.UserID == userID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *memStrategyStore) SetMode(ctx context.Context, userID int64, id string, mode string) (persistence.Strategy, error) {
	if mode != "paper" && mode != "live" {
		return persistence.Strategy{}, errors.New("mode must be paper or live")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok {
		return persistence.Strategy{}, persistence.ErrNotFound
	}
	if st.UserID != userID {
		return persistence.Strategy{}, persistence.ErrForbidden
	}
	st.Mode = mode
	st.UpdatedAt = time.Now().UTC()
	s.strategies[id] = st
	return st, nil
}

func (s *memStrategyStore) Delete(ctx context.Context, userID int64, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if st.UserID != userID {
		return persistence.ErrForbidden
	}
	delete(s.strategies, id)
	return nil
}

func (s *memStrategyStore) SetEnabled(ctx context.Context, userID int64, id string, enabled bool) (persistence.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok {
		return persistence.Strategy{}, persistence.ErrNotFound
	}
	if st.UserID != userID {
		return persistence.Strategy{}, persistence.ErrForbidden
	}
	st.Enabled = enabled
	st.UpdatedAt = time.Now().UTC()
	s.strategies[id] = st
	return st, nil
}

func (s *memStrategyStore) ListSchedulable(ctx context.Context) ([]persistence.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]persistence.Strategy, 0)
	for _, st := range s.strategies {
		if st.Enabled && st.Approved {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *memStrategyStore) UpdateRuntime(ctx context.Context, id string, lastRunAt time.Time, stats json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok {
		return persistence.ErrNotFound
	}
	st.LastRunAt = lastRunAt
	st.Stats = stats
	st.UpdatedAt = time.Now().UTC()
	s.strategies[id] = st
	return nil
}
