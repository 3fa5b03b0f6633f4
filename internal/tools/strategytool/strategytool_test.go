package strategytool

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"finchcore/internal/agentctx"
	"finchcore/internal/eventbus"
	"finchcore/internal/persistence"
	"finchcore/internal/persistence/databases"
	"finchcore/internal/platform"
	"finchcore/internal/syncsvc"
)

func strategyFor(userID int64, name string) persistence.Strategy {
	return persistence.Strategy{
		UserID:   userID,
		Name:     name,
		Mode:     "paper",
		Enabled:  true,
		Approved: true,
	}
}

type nullSink struct{}

func (nullSink) Emit(ctx context.Context, e eventbus.Event) error { return nil }

func ctxForUser(userID int64) context.Context {
	uid := userID
	inv := agentctx.New(context.Background(), &uid, "chat1", nullSink{}, nil, nil)
	return agentctx.WithInvocation(context.Background(), inv)
}

func TestListStrategiesToolRequiresCaller(t *testing.T) {
	store := databases.NewMemoryStrategyStore()
	tool := NewListStrategiesTool(store)
	out, _ := tool.Call(context.Background(), json.RawMessage(`{}`))
	m := out.(map[string]any)
	if ok, _ := m["ok"].(bool); ok {
		t.Fatalf("expected failure without a caller in context")
	}
}

func TestListStrategiesToolListsOwnStrategies(t *testing.T) {
	store := databases.NewMemoryStrategyStore()
	ctx := context.Background()
	_, _ = store.Create(ctx, strategyFor(1, "s1"))
	_, _ = store.Create(ctx, strategyFor(2, "s2"))

	tool := NewListStrategiesTool(store)
	out, err := tool.Call(ctxForUser(1), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	m := out.(map[string]any)
	if ok, _ := m["ok"].(bool); !ok {
		t.Fatalf("expected ok, got %+v", m)
	}
}

func TestGetPositionsToolEnforcesOwnership(t *testing.T) {
	store := databases.NewMemoryStrategyStore()
	ctx := context.Background()
	rec, _ := store.Create(ctx, strategyFor(1, "s1"))

	client := platform.NewFake()
	client.SeedPositions(rec.ID, []platform.Position{{ID: "p1", MarketID: "ETH-USD", Size: 10, EntryAt: time.Now()}})

	tool := NewGetPositionsTool(store, client)

	args, _ := json.Marshal(map[string]any{"strategy_id": rec.ID})
	out, _ := tool.Call(ctxForUser(2), args)
	m := out.(map[string]any)
	if ok, _ := m["ok"].(bool); ok {
		t.Fatalf("expected another user's request to be rejected")
	}

	out, err := tool.Call(ctxForUser(1), args)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	m = out.(map[string]any)
	if ok, _ := m["ok"].(bool); !ok {
		t.Fatalf("expected owner's request to succeed, got %+v", m)
	}
}

func TestSyncAccountTool(t *testing.T) {
	store := syncsvc.NewMemoryStateStore()
	refresher := syncsvc.RefresherFunc(func(ctx context.Context, userID int64) error { return nil })
	svc := syncsvc.NewService(store, refresher, time.Minute, time.Hour)

	tool := NewSyncAccountTool(svc)
	out, err := tool.Call(ctxForUser(1), json.RawMessage(`{"force":true}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	m := out.(map[string]any)
	if ok, _ := m["ok"].(bool); !ok {
		t.Fatalf("expected ok, got %+v", m)
	}
}
