// Package eventbus converts typed agent-loop events into an ordered byte
// stream toward one client (C1 Event Bus, §4.1). It is transport-agnostic
// at its core: a typed Event plus a Sink interface that accepts events in
// order. The one required concrete Sink is an SSE writer; a second,
// optional sink mirrors the stream onto Kafka for durable audit/analytics.
package eventbus

import "time"

// Kind identifies one of the fixed §4.1 event kinds.
type Kind string

const (
	KindAssistantMessageDelta Kind = "assistant_message_delta"
	KindToolCallStart         Kind = "tool_call_start"
	KindToolStatus            Kind = "tool_status"
	KindToolLog               Kind = "tool_log"
	KindToolProgress          Kind = "tool_progress"
	KindToolCallComplete      Kind = "tool_call_complete"
	KindThinking              Kind = "thinking"
	KindAssistantMessage      Kind = "assistant_message"
	KindDone                  Kind = "done"
	KindError                 Kind = "error"
)

// LogLevel is the level field on a tool_log event.
type LogLevel string

const (
	LogDebug   LogLevel = "debug"
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// ToolCallStatus is the status field on a tool_call_complete event.
type ToolCallStatus string

const (
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallError     ToolCallStatus = "error"
)

// Event is one item on the bus. Only the fields relevant to Kind are
// populated; the rest are left zero.
type Event struct {
	Kind      Kind      `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Delta string `json:"delta,omitempty"` // assistant_message_delta

	ToolCallID string `json:"tool_call_id,omitempty"` // tool_call_start / tool_call_complete
	ToolName   string `json:"tool_name,omitempty"`
	Arguments  string `json:"arguments,omitempty"` // tool_call_start

	Status     string `json:"status,omitempty"`  // tool_status / tool_call_complete
	Message    string `json:"message,omitempty"` // tool_status / tool_log / tool_progress / thinking / done
	Level      string `json:"level,omitempty"`   // tool_log
	Percent    *int   `json:"percent,omitempty"` // tool_progress
	ResourceID string `json:"resource_id,omitempty"` // tool_call_complete
	Error      string `json:"error,omitempty"`       // tool_call_complete / error
	Details    string `json:"details,omitempty"`     // error

	Content   string `json:"content,omitempty"`    // assistant_message
	NeedsAuth bool   `json:"needs_auth,omitempty"` // assistant_message
}

// AssistantDelta builds an assistant_message_delta event.
func AssistantDelta(now time.Time, delta string) Event {
	return Event{Kind: KindAssistantMessageDelta, Timestamp: now, Delta: delta}
}

// ToolCallStart builds a tool_call_start event, emitted before the handler runs.
func ToolCallStart(now time.Time, toolCallID, toolName, arguments string) Event {
	return Event{Kind: KindToolCallStart, Timestamp: now, ToolCallID: toolCallID, ToolName: toolName, Arguments: arguments}
}

// ToolStatus builds a tool_status progress event.
func ToolStatus(now time.Time, status, message string) Event {
	return Event{Kind: KindToolStatus, Timestamp: now, Status: status, Message: message}
}

// ToolLog builds a tool_log event.
func ToolLog(now time.Time, level LogLevel, message string) Event {
	return Event{Kind: KindToolLog, Timestamp: now, Level: string(level), Message: message}
}

// ToolProgress builds a tool_progress event; percent is clamped to [0,100].
func ToolProgress(now time.Time, percent int, message string) Event {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return Event{Kind: KindToolProgress, Timestamp: now, Percent: &percent, Message: message}
}

// ToolCallComplete builds a tool_call_complete event.
func ToolCallComplete(now time.Time, toolCallID, toolName string, status ToolCallStatus, resourceID, errMsg string) Event {
	return Event{Kind: KindToolCallComplete, Timestamp: now, ToolCallID: toolCallID, ToolName: toolName, Status: string(status), ResourceID: resourceID, Error: errMsg}
}

// Thinking builds a thinking event. The Agent Loop emits one after a step's
// tool results are appended and before the next LLM call; a streaming
// provider's reasoning summaries are also reported as thinking events while
// the model call is in progress.
func Thinking(now time.Time, message string) Event {
	return Event{Kind: KindThinking, Timestamp: now, Message: message}
}

// AssistantMessage builds the terminal assistant_message event.
func AssistantMessage(now time.Time, content string, needsAuth bool) Event {
	return Event{Kind: KindAssistantMessage, Timestamp: now, Content: content, NeedsAuth: needsAuth}
}

// Done builds the stream-terminator event.
func Done(now time.Time, message string) Event {
	return Event{Kind: KindDone, Timestamp: now, Message: message}
}

// Error builds a terminal error event.
func Error(now time.Time, errMsg, details string) Event {
	return Event{Kind: KindError, Timestamp: now, Error: errMsg, Details: details}
}
