// Package strategytool exposes the Strategy Runtime (C9-C12) and Sync
// Service (C6) as Tool Registry (C2) entries, grounded on the teacher's
// tools/db package JSONSchema/Call shape, so an orchestrator session can
// list, inspect, and refresh a user's strategies without a dedicated REST
// round trip.
package strategytool

import (
	"context"
	"encoding/json"
	"fmt"

	"finchcore/internal/agentctx"
	"finchcore/internal/persistence"
	"finchcore/internal/platform"
	"finchcore/internal/syncsvc"
)

// callerUserID resolves the owning user from the Invocation Context; every
// tool in this package is scoped to the caller's own strategies (§4.3).
func callerUserID(ctx context.Context) (int64, error) {
	inv, ok := agentctx.FromContext(ctx)
	if !ok || inv.UserID == nil {
		return 0, fmt.Errorf("no authenticated user in context")
	}
	return *inv.UserID, nil
}

type listStrategiesTool struct{ store persistence.StrategyStore }

// NewListStrategiesTool returns a tool that lists the caller's strategies.
func NewListStrategiesTool(store persistence.StrategyStore) *listStrategiesTool {
	return &listStrategiesTool{store: store}
}

func (t *listStrategiesTool) Name() string { return "list_strategies" }
func (t *listStrategiesTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "List the caller's strategy bots, with mode/enabled/approved status.",
		"parameters":  map[string]any{"type": "object", "properties": map[string]any{}},
	}
}
func (t *listStrategiesTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	userID, err := callerUserID(ctx)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	list, err := t.store.List(ctx, userID)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	return map[string]any{"ok": true, "strategies": list}, nil
}

type getPositionsTool struct {
	store    persistence.StrategyStore
	platform platform.Client
}

// NewGetPositionsTool returns a tool that reports open positions for one of
// the caller's strategies, verifying ownership before querying the venue.
func NewGetPositionsTool(store persistence.StrategyStore, client platform.Client) *getPositionsTool {
	return &getPositionsTool{store: store, platform: client}
}

func (t *getPositionsTool) Name() string { return "get_strategy_positions" }
func (t *getPositionsTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Get open positions for one of the caller's strategies.",
		"parameters": map[string]any{
			"type":     "object",
			"required": []string{"strategy_id"},
			"properties": map[string]any{
				"strategy_id": map[string]any{"type": "string"},
			},
		},
	}
}
func (t *getPositionsTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	userID, err := callerUserID(ctx)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	var args struct {
		StrategyID string `json:"strategy_id"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	if _, err := t.store.Get(ctx, userID, args.StrategyID); err != nil {
		return map[string]any{"ok": false, "error": "strategy not found"}, nil
	}
	positions, err := t.platform.GetPositions(ctx, args.StrategyID)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	return map[string]any{"ok": true, "positions": positions}, nil
}

type syncAccountTool struct{ svc *syncsvc.Service }

// NewSyncAccountTool returns a tool wrapping the Sync Service's freshness
// automaton (§4.6) so the agent can request an up-to-date account view.
func NewSyncAccountTool(svc *syncsvc.Service) *syncAccountTool {
	return &syncAccountTool{svc: svc}
}

func (t *syncAccountTool) Name() string { return "sync_account" }
func (t *syncAccountTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Refresh (or report the freshness of) the caller's platform account data.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"force": map[string]any{"type": "boolean", "description": "bypass cache and force a synchronous refresh"},
			},
		},
	}
}
func (t *syncAccountTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	userID, err := callerUserID(ctx)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	var args struct {
		Force bool `json:"force"`
	}
	_ = json.Unmarshal(raw, &args)
	result, err := t.svc.Sync(ctx, userID, args.Force)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	return map[string]any{
		"ok":                        true,
		"cached":                    result.Cached,
		"background_sync_triggered": result.BackgroundSyncTriggered,
		"staleness_seconds":         result.StalenessSeconds,
	}, nil
}

type listExecutionsTool struct{ log persistence.ExecutionStore }

// NewListExecutionsTool returns a tool that lists recent execution-cycle
// history for one strategy (C10's audit trail).
func NewListExecutionsTool(log persistence.ExecutionStore) *listExecutionsTool {
	return &listExecutionsTool{log: log}
}

func (t *listExecutionsTool) Name() string { return "list_strategy_executions" }
func (t *listExecutionsTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "List recent execution cycles for a strategy (signals, actions, status).",
		"parameters": map[string]any{
			"type":     "object",
			"required": []string{"strategy_id"},
			"properties": map[string]any{
				"strategy_id": map[string]any{"type": "string"},
				"limit":       map[string]any{"type": "integer"},
			},
		},
	}
}
func (t *listExecutionsTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		StrategyID string `json:"strategy_id"`
		Limit      int    `json:"limit"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}
	list, err := t.log.List(ctx, args.StrategyID, args.Limit)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	return map[string]any{"ok": true, "executions": list}, nil
}
