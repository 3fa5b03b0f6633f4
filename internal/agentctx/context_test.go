package agentctx

import (
	"context"
	"testing"
	"time"

	"finchcore/internal/eventbus"
)

type recordingSink struct {
	events []eventbus.Event
}

func (r *recordingSink) Emit(ctx context.Context, e eventbus.Event) error {
	r.events = append(r.events, e)
	return nil
}

type fakeResources struct {
	saved map[string][]byte
	next  int
}

func (f *fakeResources) Save(ctx context.Context, resourceType, title string, data []byte) (string, error) {
	f.next++
	id := "res1"
	if f.saved == nil {
		f.saved = map[string][]byte{}
	}
	f.saved[id] = data
	return id, nil
}

func TestInvocationEmitAndRelease(t *testing.T) {
	sink := &recordingSink{}
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inv := New(context.Background(), nil, "chat1", sink, &fakeResources{}, func() time.Time { return fixedNow })

	inv.Emit(context.Background(), eventbus.ToolStatus(inv.Now(), "running", "working"))
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}

	inv.Release()
	inv.Emit(context.Background(), eventbus.ToolStatus(inv.Now(), "running", "should be dropped"))
	if len(sink.events) != 1 {
		t.Fatalf("expected emit after release to be discarded, got %d events", len(sink.events))
	}
}

func TestInvocationRoundTripsThroughContext(t *testing.T) {
	inv := New(context.Background(), nil, "chat1", &recordingSink{}, &fakeResources{}, nil)
	ctx := WithInvocation(context.Background(), inv)

	got, ok := FromContext(ctx)
	if !ok || got != inv {
		t.Fatalf("expected to retrieve the same Invocation from context")
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("expected no Invocation in a bare context")
	}
}

func TestInvocationCancelledPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := New(ctx, nil, "chat1", &recordingSink{}, nil, nil)
	cancel()
	select {
	case <-inv.Cancelled():
	default:
		t.Fatalf("expected Cancelled() channel to be readable after cancel")
	}
}

func TestSaveResourceWithNilResources(t *testing.T) {
	inv := New(context.Background(), nil, "chat1", &recordingSink{}, nil, nil)
	id, err := inv.SaveResource(context.Background(), "chart", "title", []byte("data"))
	if err != nil || id != "" {
		t.Fatalf("expected no-op when resources is nil, got id=%q err=%v", id, err)
	}
}
