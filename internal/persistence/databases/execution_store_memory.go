package databases

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"finchcore/internal/persistence"
)

func newMemoryExecutionStore() persistence.ExecutionStore {
	return &memExecutionStore{byStrategy: map[string][]persistence.Execution{}}
}

type memExecutionStore struct {
	mu         sync.RWMutex
	byStrategy map[string][]persistence.Execution
}

func (s *memExecutionStore) Init(ctx context.Context) error { return nil }
func (s *memExecutionStore) Close()                          {}

func (s *memExecutionStore) Append(ctx context.Context, e persistence.Execution) (persistence.Execution, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// prepend so List (newest-first) needs no sort.
	s.byStrategy[e.StrategyID] = append([]persistence.Execution{e}, s.byStrategy[e.StrategyID]...)
	return e, nil
}

func (s *memExecutionStore) List(ctx context.Context, strategyID string, limit int) ([]persistence.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.byStrategy[strategyID]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]persistence.Execution, len(all))
	copy(out, all)
	return out, nil
}
