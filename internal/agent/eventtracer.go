package agent

import (
	"context"
	"time"

	"finchcore/internal/eventbus"
)

// EventBusTracer adapts AgentTracer onto an eventbus.Sink so a delegated
// agent run (C8) is visible on the same SSE stream as its parent, without
// inventing a dedicated event kind: nested-agent lifecycle events are
// reported through the existing tool_call_start/tool_status/
// tool_call_complete kinds. Start and complete events carry the delegated
// call's CallID and a synthetic tool name ("agent:<name>"); the interim
// tool_status events carry neither field, and only the nested tool
// start/result messages name the agent inside their text.
type EventBusTracer struct {
	Sink eventbus.Sink
	Now  func() time.Time
}

// NewEventBusTracer returns a tracer that emits onto sink.
func NewEventBusTracer(sink eventbus.Sink, now func() time.Time) *EventBusTracer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &EventBusTracer{Sink: sink, Now: now}
}

func (t *EventBusTracer) toolName(agentName string) string {
	if agentName == "" {
		return "agent"
	}
	return "agent:" + agentName
}

// Trace implements AgentTracer.
func (t *EventBusTracer) Trace(ev AgentTrace) {
	if t == nil || t.Sink == nil {
		return
	}
	ctx := context.Background()
	now := t.Now()
	name := t.toolName(ev.Agent)

	switch ev.Type {
	case "agent_start":
		_ = t.Sink.Emit(ctx, eventbus.ToolCallStart(now, ev.CallID, name, ev.Content))
	case "agent_delta":
		_ = t.Sink.Emit(ctx, eventbus.ToolStatus(now, "running", ev.Content))
	case "agent_tool_start":
		_ = t.Sink.Emit(ctx, eventbus.ToolStatus(now, "running", "["+name+"] calling "+ev.Title))
	case "agent_tool_result":
		_ = t.Sink.Emit(ctx, eventbus.ToolStatus(now, "running", "["+name+"] "+ev.Title+" returned"))
	case "agent_final":
		_ = t.Sink.Emit(ctx, eventbus.ToolCallComplete(now, ev.CallID, name, eventbus.ToolCallCompleted, "", ""))
	case "agent_error":
		_ = t.Sink.Emit(ctx, eventbus.ToolCallComplete(now, ev.CallID, name, eventbus.ToolCallError, "", ev.Error))
	}
}
