package eventbus

import "context"

// Sink accepts events in order. Implementations MUST NOT reorder, drop, or
// batch events (§4.1 transport contract) — a sink that cannot keep up is
// allowed to block its caller, never to lose an event.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Emit(ctx context.Context, e Event) error { return f(ctx, e) }

// FanOut emits to every sink in order, synchronously, stopping at (and
// returning) the first error. Used to compose the required SSE sink with
// an optional best-effort mirror sink — callers that want the mirror to
// never block or fail the live stream should wrap it in a BestEffort sink
// before adding it here.
type FanOut struct {
	Sinks []Sink
}

func NewFanOut(sinks ...Sink) *FanOut {
	return &FanOut{Sinks: sinks}
}

func (f *FanOut) Emit(ctx context.Context, e Event) error {
	for _, s := range f.Sinks {
		if err := s.Emit(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// BestEffort wraps a Sink so that its errors never propagate and its Emit
// never blocks the caller beyond handing the event to a bounded buffer —
// used for the Kafka mirror sink, which must never add backpressure to the
// live SSE stream (§4.1 implementation note).
type BestEffort struct {
	inner  Sink
	events chan Event
	onErr  func(error)
}

// NewBestEffort starts a background goroutine draining a bounded buffer
// into inner. If the buffer is full, the event is dropped (logged via
// onErr) rather than blocking the producer.
func NewBestEffort(ctx context.Context, inner Sink, bufferSize int, onErr func(error)) *BestEffort {
	if onErr == nil {
		onErr = func(error) {}
	}
	b := &BestEffort{inner: inner, events: make(chan Event, bufferSize), onErr: onErr}
	go b.drain(ctx)
	return b
}

func (b *BestEffort) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.events:
			if err := b.inner.Emit(ctx, e); err != nil {
				b.onErr(err)
			}
		}
	}
}

func (b *BestEffort) Emit(ctx context.Context, e Event) error {
	select {
	case b.events <- e:
	default:
		b.onErr(errBufferFull)
	}
	return nil
}

var errBufferFull = fullBufferError{}

type fullBufferError struct{}

func (fullBufferError) Error() string { return "eventbus: best-effort sink buffer full, event dropped" }
