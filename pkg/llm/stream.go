package llm

import (
	"context"
	"io"
)

// FragmentSource yields successive native text fragments from a backend
// stream. It returns io.EOF after the final fragment; any other error
// terminates the stream as a failure.
type FragmentSource func() (string, error)

// NormalizeStream converts a backend-native fragment source into the
// canonical event stream. Empty fragments are dropped. The stream ends
// with exactly one Done; a terminal Error is emitted immediately before
// it. The returned channel is unbuffered, so the producer blocks on the
// consumer between fragments, and it stops without raising when ctx is
// cancelled. cleanup, if non-nil, runs once the producer exits.
func NormalizeStream(ctx context.Context, provider string, src FragmentSource, cleanup func()) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		if cleanup != nil {
			defer cleanup()
		}
		for {
			frag, err := src()
			if err == io.EOF {
				sendEvent(ctx, ch, StreamEvent{Done: true})
				return
			}
			if err != nil {
				if sendEvent(ctx, ch, StreamEvent{Err: wrapTransient(provider, err)}) {
					sendEvent(ctx, ch, StreamEvent{Done: true})
				}
				return
			}
			if frag == "" {
				continue
			}
			if !sendEvent(ctx, ch, StreamEvent{Delta: frag}) {
				return
			}
		}
	}()
	return ch
}

func sendEvent(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
