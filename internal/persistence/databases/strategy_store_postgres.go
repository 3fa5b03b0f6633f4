package databases

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"finchcore/internal/persistence"
)

// NewPostgresStrategyStore returns a Postgres-backed strategy store.
func NewPostgresStrategyStore(pool *pgxpool.Pool) persistence.StrategyStore {
	return &pgStrategyStore{pool: pool}
}

type pgStrategyStore struct {
	pool *pgxpool.Pool
}

func (s *pgStrategyStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *pgStrategyStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres strategy store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS strategies (
    id UUID PRIMARY KEY,
    user_id BIGINT NOT NULL,
    name TEXT NOT NULL,
    mode TEXT NOT NULL DEFAULT 'paper',
    entry_file_id TEXT NOT NULL,
    exit_file_id TEXT NOT NULL,
    config_file_id TEXT NOT NULL,
    capital DOUBLE PRECISION NOT NULL DEFAULT 0,
    enabled BOOLEAN NOT NULL DEFAULT FALSE,
    approved BOOLEAN NOT NULL DEFAULT FALSE,
    execution_frequency_seconds INTEGER NOT NULL DEFAULT 300,
    last_run_at TIMESTAMPTZ,
    stats JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS strategies_user_idx ON strategies(user_id);
CREATE INDEX IF NOT EXISTS strategies_schedulable_idx ON strategies(enabled, approved);
`)
	return err
}

const strategyColumns = `id, user_id, name, mode, entry_file_id, exit_file_id, config_file_id, capital, enabled, approved, execution_frequency_seconds, last_run_at, stats, created_at, updated_at`

func (s *pgStrategyStore) scan(row pgx.Row) (persistence.Strategy, error) {
	var st persistence.Strategy
	var lastRunAt *time.Time
	if err := row.Scan(&st.ID, &st.UserID, &st.Name, &st.Mode, &st.EntryFileID, &st.ExitFileID, &st.ConfigFileID, &st.Capital,
		&st.Enabled, &st.Approved, &st.ExecutionFrequencySeconds, &lastRunAt, &st.Stats, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return persistence.Strategy{}, err
	}
	if lastRunAt != nil {
		st.LastRunAt = *lastRunAt
	}
	return st, nil
}

func (s *pgStrategyStore) Create(ctx context.Context, st persistence.Strategy) (persistence.Strategy, error) {
	if strings.TrimSpace(st.Name) == "" {
		return persistence.Strategy{}, errors.New("name required")
	}
	id := st.ID
	if id == "" {
		id = uuid.NewString()
	}
	mode := st.Mode
	if mode == "" {
		mode = "paper"
	}
	freq := st.ExecutionFrequencySeconds
	if freq <= 0 {
		freq = 300
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO strategies (id, user_id, name, mode, entry_file_id, exit_file_id, config_file_id, capital, enabled, approved, execution_frequency_seconds)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING `+strategyColumns,
		id, st.UserID, st.Name, mode, st.EntryFileID, st.ExitFileID, st.ConfigFileID, st.Capital, st.Enabled, st.Approved, freq)
	return s.scan(row)
}

func (s *pgStrategyStore) Get(ctx context.Context, userID int64, id string) (persistence.Strategy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE id = $1`, id)
	st, err := s.scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persistence.Strategy{}, persistence.ErrNotFound
		}
		return persistence.Strategy{}, err
	}
	if st.UserID != userID {
		return persistence.Strategy{}, persistence.ErrForbidden
	}
	return st, nil
}

func (s *pgStrategyStore) List(ctx context.Context, userID int64) ([]persistence.Strategy, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]persistence.Strategy, 0)
	for rows.Next() {
		st, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *pgStrategyStore) ListSchedulable(ctx context.Context) ([]persistence.Strategy, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE enabled AND approved`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]persistence.Strategy, 0)
	for rows.Next() {
		st, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *pgStrategyStore) UpdateRuntime(ctx context.Context, id string, lastRunAt time.Time, stats json.RawMessage) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE strategies SET last_run_at = $2, stats = $3, updated_at = NOW() WHERE id = $1`, id, lastRunAt, stats)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *pgStrategyStore) SetEnabled(ctx context.Context, userID int64, id string, enabled bool) (persistence.Strategy, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE strategies SET enabled = $3, updated_at = NOW()
WHERE id = $1 AND user_id = $2
RETURNING `+strategyColumns, id, userID, enabled)
	st, err := s.scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persistence.Strategy{}, persistence.ErrNotFound
		}
		return persistence.Strategy{}, err
	}
	return st, nil
}

func (s *pgStrategyStore) SetMode(ctx context.Context, userID int64, id string, mode string) (persistence.Strategy, error) {
	if mode != "paper" && mode != "live" {
		return persistence.Strategy{}, errors.New("mode must be paper or live")
	}
	row := s.pool.QueryRow(ctx, `
UPDATE strategies SET mode = $3, updated_at = NOW()
WHERE id = $1 AND user_id = $2
RETURNING `+strategyColumns,
		id, userID, mode)
	st, err := s.scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persistence.Strategy{}, persistence.ErrNotFound
		}
		return persistence.Strategy{}, err
	}
	return st, nil
}

func (s *pgStrategyStore) Delete(ctx context.Context, userID int64, id string) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM strategies WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
