package agent

import (
	"context"
	"testing"
	"time"

	"finchcore/internal/eventbus"
)

type recordingSink struct {
	events []eventbus.Event
}

func (s *recordingSink) Emit(ctx context.Context, e eventbus.Event) error {
	s.events = append(s.events, e)
	return nil
}

func fixedNow() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

func TestEventBusTracerMapsLifecycle(t *testing.T) {
	sink := &recordingSink{}
	tracer := NewEventBusTracer(sink, fixedNow)

	tracer.Trace(AgentTrace{Type: "agent_start", Agent: "researcher", CallID: "call1", Content: "go do research"})
	tracer.Trace(AgentTrace{Type: "agent_tool_start", Agent: "researcher", CallID: "call1", Title: "web_search"})
	tracer.Trace(AgentTrace{Type: "agent_tool_result", Agent: "researcher", CallID: "call1", Title: "web_search"})
	tracer.Trace(AgentTrace{Type: "agent_final", Agent: "researcher", CallID: "call1"})

	if len(sink.events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(sink.events))
	}
	if sink.events[0].Kind != eventbus.KindToolCallStart {
		t.Fatalf("expected first event to be tool_call_start, got %v", sink.events[0].Kind)
	}
	last := sink.events[3]
	if last.Kind != eventbus.KindToolCallComplete {
		t.Fatalf("expected last event to be tool_call_complete, got %v", last.Kind)
	}
}

func TestEventBusTracerMapsErrorToCompleteWithErrorStatus(t *testing.T) {
	sink := &recordingSink{}
	tracer := NewEventBusTracer(sink, fixedNow)

	tracer.Trace(AgentTrace{Type: "agent_error", Agent: "researcher", CallID: "call1", Error: "timed out"})

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	if sink.events[0].Kind != eventbus.KindToolCallComplete {
		t.Fatalf("expected tool_call_complete, got %v", sink.events[0].Kind)
	}
}

func TestEventBusTracerNilSinkIsNoop(t *testing.T) {
	tracer := NewEventBusTracer(nil, fixedNow)
	tracer.Trace(AgentTrace{Type: "agent_start"})
}
