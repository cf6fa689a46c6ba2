package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func sourceOf(fragments []string, terminal error) FragmentSource {
	i := 0
	return func() (string, error) {
		if i >= len(fragments) {
			return "", terminal
		}
		frag := fragments[i]
		i++
		return frag, nil
	}
}

func TestNormalizeStream(t *testing.T) {
	cleaned := false
	src := sourceOf([]string{"Hello", "", " world"}, io.EOF)
	events := collect(NormalizeStream(context.Background(), "test", src, func() { cleaned = true }))

	if len(events) != 3 {
		t.Fatalf("expected 2 deltas and a Done, got %+v", events)
	}
	if events[0].Delta != "Hello" || events[1].Delta != " world" {
		t.Errorf("deltas wrong or empty fragment not dropped: %+v", events[:2])
	}
	if !events[2].Done {
		t.Errorf("stream must end with Done, got %+v", events[2])
	}
	if !cleaned {
		t.Error("cleanup was not called")
	}
}

func TestNormalizeStreamErrorThenDone(t *testing.T) {
	src := sourceOf([]string{"partial"}, errors.New("connection reset"))
	events := collect(NormalizeStream(context.Background(), "test", src, nil))

	if len(events) != 3 {
		t.Fatalf("expected delta, error, done; got %+v", events)
	}
	if events[1].Err == nil || events[1].Err.Kind != KindTransient {
		t.Errorf("expected a transient error event, got %+v", events[1])
	}
	if events[1].Err.Provider != "test" {
		t.Errorf("error not attributed to the provider: %+v", events[1].Err)
	}
	if !events[2].Done {
		t.Errorf("error must be followed by Done, got %+v", events[2])
	}
}

func TestNormalizeStreamTypedErrorPreserved(t *testing.T) {
	want := &Error{Kind: KindOverflow, Provider: "test", Message: "too big", Requested: 123}
	src := sourceOf(nil, want)
	events := collect(NormalizeStream(context.Background(), "test", src, nil))

	if len(events) != 2 || events[0].Err != want {
		t.Fatalf("typed errors must pass through unchanged: %+v", events)
	}
}

func TestNormalizeStreamCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cleaned := make(chan struct{})
	// An endless source; cancellation is the only way out.
	src := func() (string, error) { return "frag", nil }
	ch := NormalizeStream(ctx, "test", src, func() { close(cleaned) })

	<-ch
	cancel()

	select {
	case <-cleaned:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after cancellation")
	}
	for range ch {
	}
}
