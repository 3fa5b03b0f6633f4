package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// SSESink frames each Event as `event: <type>\ndata: <json>\n\n` onto an
// http.ResponseWriter and flushes immediately — no buffering, per the
// unbuffered-end-to-end transport contract (§4.1).
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSESink prepares w for event-stream output and returns a Sink writing
// to it. Callers must have already written the response headers
// (Content-Type: text/event-stream etc.) via PrepareResponseHeaders.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("eventbus: response writer does not support flushing")
	}
	return &SSESink{w: w, flusher: flusher}, nil
}

// PrepareResponseHeaders sets the headers an SSE response requires,
// including the no-buffering hints a reverse proxy needs (§6.1).
func PrepareResponseHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disables nginx response buffering
}

func (s *SSESink) Emit(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", e.Kind, data); err != nil {
		return fmt.Errorf("eventbus: write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
