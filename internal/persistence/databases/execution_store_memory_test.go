package databases

import (
	"context"
	"testing"

	"finchcore/internal/persistence"
)

func TestMemExecutionStoreAppendAndList(t *testing.T) {
	store := newMemoryExecutionStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, persistence.Execution{StrategyID: "s1", Status: "success"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := store.Append(ctx, persistence.Execution{StrategyID: "s2", Status: "failed"}); err != nil {
		t.Fatalf("Append other strategy: %v", err)
	}

	list, err := store.List(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 executions for s1, got %d", len(list))
	}

	limited, err := store.List(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 limited executions, got %d", len(limited))
	}

	other, err := store.List(ctx, "s2", 0)
	if err != nil || len(other) != 1 {
		t.Fatalf("List s2: %v, %d", err, len(other))
	}
}
