package databases

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"finchcore/internal/persistence"
)

// NewPostgresExecutionStore returns a Postgres-backed execution history store.
func NewPostgresExecutionStore(pool *pgxpool.Pool) persistence.ExecutionStore {
	return &pgExecutionStore{pool: pool}
}

type pgExecutionStore struct {
	pool *pgxpool.Pool
}

func (s *pgExecutionStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *pgExecutionStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres execution store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS strategy_executions (
    id UUID PRIMARY KEY,
    strategy_id UUID NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    mode TEXT NOT NULL,
    status TEXT NOT NULL,
    signals JSONB,
    actions JSONB,
    skips JSONB,
    logs TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS strategy_executions_strategy_idx ON strategy_executions(strategy_id, started_at DESC);
`)
	return err
}

func (s *pgExecutionStore) Append(ctx context.Context, e persistence.Execution) (persistence.Execution, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	skips, err := json.Marshal(e.Skips)
	if err != nil {
		return persistence.Execution{}, err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO strategy_executions (id, strategy_id, started_at, duration_ms, mode, status, signals, actions, skips, logs, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.StrategyID, e.StartedAt, e.DurationMs, e.Mode, e.Status,
		nullableJSON(e.Signals), nullableJSON(e.Actions), skips, e.Logs, e.Error)
	if err != nil {
		return persistence.Execution{}, err
	}
	return e, nil
}

func (s *pgExecutionStore) List(ctx context.Context, strategyID string, limit int) ([]persistence.Execution, error) {
	query := `
SELECT id, strategy_id, started_at, duration_ms, mode, status, signals, actions, skips, logs, error
FROM strategy_executions WHERE strategy_id = $1 ORDER BY started_at DESC`
	args := []any{strategyID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]persistence.Execution, 0)
	for rows.Next() {
		var e persistence.Execution
		var signals, actions, skips []byte
		if err := rows.Scan(&e.ID, &e.StrategyID, &e.StartedAt, &e.DurationMs, &e.Mode, &e.Status, &signals, &actions, &skips, &e.Logs, &e.Error); err != nil {
			return nil, err
		}
		e.Signals = signals
		e.Actions = actions
		if len(skips) > 0 {
			_ = json.Unmarshal(skips, &e.Skips)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
