package databases

import "finchcore/internal/persistence"

// Manager holds concrete database backends resolved from configuration.
type Manager struct {
	Chat      persistence.ChatStore
	Strategy  persistence.StrategyStore
	Execution persistence.ExecutionStore
}

// Close releases any underlying connection pools. It's a no-op for memory backends.
func (m Manager) Close() {
	if c, ok := any(m.Chat).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Strategy).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Execution).(interface{ Close() }); ok {
		c.Close()
	}
}
