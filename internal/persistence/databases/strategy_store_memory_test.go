package databases

import (
	"context"
	"errors"
	"testing"
	"time"

	"finchcore/internal/persistence"
)

func TestMemStrategyStoreLifecycle(t *testing.T) {
	store := newMemoryStrategyStore()
	ctx := context.Background()

	st, err := store.Create(ctx, persistence.Strategy{UserID: 1, Name: "mean-revert", EntryFileID: "e1", ExitFileID: "x1", ConfigFileID: "c1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if st.Mode != "paper" {
		t.Fatalf("expected default mode paper, got %q", st.Mode)
	}

	got, err := store.Get(ctx, 1, st.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "mean-revert" {
		t.Fatalf("unexpected name: %q", got.Name)
	}

	if _, err := store.Get(ctx, 2, st.ID); !errors.Is(err, persistence.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	list, err := store.List(ctx, 1)
	if err != nil || len(list) != 1 {
		t.Fatalf("List: %v, %d", err, len(list))
	}

	updated, err := store.SetMode(ctx, 1, st.ID, "live")
	if err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if updated.Mode != "live" {
		t.Fatalf("expected live, got %q", updated.Mode)
	}

	if _, err := store.SetMode(ctx, 1, st.ID, "bogus"); err == nil {
		t.Fatalf("expected error for invalid mode")
	}

	if err := store.Delete(ctx, 1, st.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, 1, st.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemStrategyStoreSchedulable(t *testing.T) {
	store := newMemoryStrategyStore()
	ctx := context.Background()

	a, err := store.Create(ctx, persistence.Strategy{UserID: 1, Name: "a", EntryFileID: "e", ExitFileID: "x", ConfigFileID: "c"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, persistence.Strategy{UserID: 2, Name: "b", EntryFileID: "e", ExitFileID: "x", ConfigFileID: "c"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	due, err := store.ListSchedulable(ctx)
	if err != nil || len(due) != 0 {
		t.Fatalf("expected zero schedulable strategies, got %d (%v)", len(due), err)
	}

	if _, err := store.SetEnabled(ctx, 1, a.ID, true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	due, err = store.ListSchedulable(ctx)
	if err != nil || len(due) != 0 {
		t.Fatalf("enabled-but-unapproved strategy must not be schedulable, got %d", len(due))
	}

	if err := store.UpdateRuntime(ctx, a.ID, time.Now(), []byte(`{"trades":1}`)); err != nil {
		t.Fatalf("UpdateRuntime: %v", err)
	}
	got, err := store.Get(ctx, 1, a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Stats) != `{"trades":1}` {
		t.Fatalf("unexpected stats: %s", got.Stats)
	}
}
