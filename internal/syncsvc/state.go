// Package syncsvc implements the Sync Service (C6): a freshness-aware cache
// in front of an expensive per-user refresh, with a three-mode automaton
// (fresh / stale-background / very-stale) and single-flight coalescing of
// concurrent very-stale callers.
package syncsvc

import (
	"context"
	"encoding/json"
	"time"
)

// State is the per-user freshness record the automaton reads and writes.
type State struct {
	LastSyncAt time.Time
	InFlight   bool
}

// StateStore persists State across processes. A Redis-backed implementation
// is the production default when configured; an in-process map is the
// fallback for single-instance runs and tests (§4.6 implementation note —
// mirrors databases.NewManager's "memory vs postgres, chosen by config"
// pattern applied to a cache tier instead of a store tier).
type StateStore interface {
	Get(ctx context.Context, userID int64) (State, error)
	SetLastSyncAt(ctx context.Context, userID int64, at time.Time) error
	TrySetInFlight(ctx context.Context, userID int64) (acquired bool, err error)
	ClearInFlight(ctx context.Context, userID int64) error
}

func (s State) marshal() ([]byte, error) { return json.Marshal(s) }
