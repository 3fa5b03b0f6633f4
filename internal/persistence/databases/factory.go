package databases

import (
	"context"
	"fmt"

	"finchcore/internal/config"
	"finchcore/internal/persistence"
)

// NewManager constructs the Chat/Strategy/Execution store backends based on
// configuration. Supported backends per store: "memory", "postgres", "auto"
// (postgres if a DSN is resolvable, memory otherwise).
func NewManager(ctx context.Context, cfg config.DBConfig) (Manager, error) {
	var m Manager

	chatDSN := firstNonEmpty(cfg.Chat.DSN, cfg.DefaultDSN)
	strategyDSN := firstNonEmpty(cfg.Strategy.DSN, cfg.DefaultDSN)
	executionDSN := firstNonEmpty(cfg.Execution.DSN, cfg.DefaultDSN)

	chat, err := resolveChat(ctx, cfg.Chat.Backend, chatDSN)
	if err != nil {
		return Manager{}, fmt.Errorf("chat store: %w", err)
	}
	m.Chat = chat

	strategy, err := resolveStrategy(ctx, cfg.Strategy.Backend, strategyDSN)
	if err != nil {
		return Manager{}, fmt.Errorf("strategy store: %w", err)
	}
	m.Strategy = strategy

	execution, err := resolveExecution(ctx, cfg.Execution.Backend, executionDSN)
	if err != nil {
		return Manager{}, fmt.Errorf("execution store: %w", err)
	}
	m.Execution = execution

	return m, nil
}

func resolveChat(ctx context.Context, backend, dsn string) (persistence.ChatStore, error) {
	switch backend {
	case "", "memory":
		return newMemoryChatStore(), nil
	case "auto":
		if dsn == "" {
			return newMemoryChatStore(), nil
		}
		pool, err := newPgPool(ctx, dsn)
		if err != nil {
			return newMemoryChatStore(), nil
		}
		return NewPostgresChatStore(pool), nil
	case "postgres", "pg":
		if dsn == "" {
			return nil, fmt.Errorf("postgres backend requires DSN")
		}
		pool, err := newPgPool(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return NewPostgresChatStore(pool), nil
	default:
		return nil, fmt.Errorf("unsupported chat backend: %s", backend)
	}
}

func resolveStrategy(ctx context.Context, backend, dsn string) (persistence.StrategyStore, error) {
	switch backend {
	case "", "memory":
		return newMemoryStrategyStore(), nil
	case "auto":
		if dsn == "" {
			return newMemoryStrategyStore(), nil
		}
		pool, err := newPgPool(ctx, dsn)
		if err != nil {
			return newMemoryStrategyStore(), nil
		}
		return NewPostgresStrategyStore(pool), nil
	case "postgres", "pg":
		if dsn == "" {
			return nil, fmt.Errorf("postgres backend requires DSN")
		}
		pool, err := newPgPool(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return NewPostgresStrategyStore(pool), nil
	default:
		return nil, fmt.Errorf("unsupported strategy backend: %s", backend)
	}
}

func resolveExecution(ctx context.Context, backend, dsn string) (persistence.ExecutionStore, error) {
	switch backend {
	case "", "memory":
		return newMemoryExecutionStore(), nil
	case "auto":
		if dsn == "" {
			return newMemoryExecutionStore(), nil
		}
		pool, err := newPgPool(ctx, dsn)
		if err != nil {
			return newMemoryExecutionStore(), nil
		}
		return NewPostgresExecutionStore(pool), nil
	case "postgres", "pg":
		if dsn == "" {
			return nil, fmt.Errorf("postgres backend requires DSN")
		}
		pool, err := newPgPool(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return NewPostgresExecutionStore(pool), nil
	default:
		return nil, fmt.Errorf("unsupported execution backend: %s", backend)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
