package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/llmgate/pkg/llm"
)

func testConversation() llm.Conversation {
	return llm.Conversation{{Role: llm.RoleUser, Content: "hello"}}
}

func TestGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != apiVersion {
			t.Errorf("anthropic-version = %q", got)
		}
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.MaxTokens == 0 {
			t.Error("max_tokens is mandatory for the messages API")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{
				{"type": "text", "text": "first "},
				{"type": "tool_use", "text": "ignored"},
				{"type": "text", "text": "second"},
			},
		})
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "test-key", Model: "claude-3-opus-20240229"})
	out, err := client.Generate(context.Background(), testConversation(), llm.Options{Temperature: 0.7, MaxOutputTokens: 100})
	if err != nil {
		t.Fatal(err)
	}
	if out != "first second" {
		t.Errorf("got %q", out)
	}
}

func TestGenerateClassifiesOverflow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `prompt is too long: exceeds maximum context length tokens`)
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "k", Model: "m"})
	_, err := client.Generate(context.Background(), testConversation(), llm.Options{})
	if !llm.IsKind(err, llm.KindOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\n")
		fmt.Fprint(w, "data: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hello\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\" world\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "k", Model: "m"})
	events, err := client.Stream(context.Background(), testConversation(), llm.Options{})
	if err != nil {
		t.Fatal(err)
	}

	var text strings.Builder
	dones := 0
	for ev := range events {
		switch {
		case ev.Err != nil:
			t.Fatalf("unexpected error event: %v", ev.Err)
		case ev.Done:
			dones++
		default:
			text.WriteString(ev.Delta)
		}
	}
	if text.String() != "Hello world" {
		t.Errorf("got %q", text.String())
	}
	if dones != 1 {
		t.Errorf("expected exactly one Done, got %d", dones)
	}
}

func TestStreamMidStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"partial\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "k", Model: "m"})
	events, err := client.Stream(context.Background(), testConversation(), llm.Options{})
	if err != nil {
		t.Fatal(err)
	}

	var got []llm.StreamEvent
	for ev := range events {
		got = append(got, ev)
	}
	if len(got) != 3 {
		t.Fatalf("expected delta, error, done; got %+v", got)
	}
	if got[0].Delta != "partial" {
		t.Errorf("delta = %q", got[0].Delta)
	}
	if got[1].Err == nil {
		t.Fatalf("expected an error event, got %+v", got[1])
	}
	if !got[2].Done {
		t.Errorf("stream must end with Done, got %+v", got[2])
	}
}
