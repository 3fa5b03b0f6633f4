package eventbus

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSSESinkFramesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	PrepareResponseHeaders(rec)
	sink, err := NewSSESink(rec)
	if err != nil {
		t.Fatalf("NewSSESink: %v", err)
	}

	now := time.Now()
	if err := sink.Emit(context.Background(), AssistantDelta(now, "hello")); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := sink.Emit(context.Background(), Done(now, "complete")); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: assistant_message_delta\n") {
		t.Fatalf("missing assistant_message_delta frame: %q", body)
	}
	if !strings.Contains(body, `"delta":"hello"`) {
		t.Fatalf("missing delta payload: %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("expected frame to end with a blank line: %q", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected text/event-stream content type, got %q", ct)
	}
}
