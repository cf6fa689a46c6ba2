package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/llmgate/pkg/llm"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testUser() UserInfo {
	return UserInfo{UserID: "user-1", UserName: "Alice", Username: "alice"}
}

func TestCreateOrReuseChat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateOrReuseChat(ctx, testUser(), "openai")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.CreateOrReuseChat(ctx, testUser(), "openai")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("same user and provider should reuse the chat: %d vs %d", first, second)
	}

	other, err := s.CreateOrReuseChat(ctx, testUser(), "claude")
	if err != nil {
		t.Fatal(err)
	}
	if other == first {
		t.Error("a different provider must get its own chat")
	}

	stranger, err := s.CreateOrReuseChat(ctx, UserInfo{UserID: "user-2"}, "openai")
	if err != nil {
		t.Fatal(err)
	}
	if stranger == first {
		t.Error("a different user must get their own chat")
	}
}

func TestAppendAndLoadHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	opts := llm.Options{Temperature: 0.7, MaxOutputTokens: 2000}

	chatID, err := s.CreateOrReuseChat(ctx, testUser(), "openai")
	if err != nil {
		t.Fatal(err)
	}

	turns := []struct {
		role    llm.Role
		content string
	}{
		{llm.RoleUser, "what is Go?"},
		{llm.RoleAssistant, "a programming language"},
		{llm.RoleUser, "who made it?"},
	}
	for _, turn := range turns {
		if err := s.AppendMessage(ctx, chatID, turn.role, turn.content, "openai", opts); err != nil {
			t.Fatal(err)
		}
	}

	conv, err := s.LoadHistory(ctx, chatID, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(conv) != 3 {
		t.Fatalf("history has %d turns, want 3", len(conv))
	}
	for i, turn := range turns {
		if conv[i].Role != turn.role || conv[i].Content != turn.content {
			t.Errorf("turn %d = %+v, want %s %q", i, conv[i], turn.role, turn.content)
		}
	}
}

func TestTitleFromFirstUserMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chatID, err := s.CreateOrReuseChat(ctx, testUser(), "openai")
	if err != nil {
		t.Fatal(err)
	}
	long := strings.Repeat("t", 300)
	if err := s.AppendMessage(ctx, chatID, llm.RoleUser, long, "openai", llm.Options{}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMessage(ctx, chatID, llm.RoleUser, "second message", "openai", llm.Options{}); err != nil {
		t.Fatal(err)
	}

	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if chat == nil {
		t.Fatal("chat not found")
	}
	if len(chat.Title) != 200 {
		t.Errorf("title length = %d, want 200", len(chat.Title))
	}
	if chat.Title != long[:200] {
		t.Error("title is not the truncated first user message")
	}
	if chat.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", chat.MessageCount)
	}
}

func TestGetChatAbsent(t *testing.T) {
	s := newTestStore(t)
	chat, err := s.GetChat(context.Background(), 9999)
	if err != nil {
		t.Fatal(err)
	}
	if chat != nil {
		t.Errorf("expected nil for an absent chat, got %+v", chat)
	}
}

func TestListChats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	openaiChat, err := s.CreateOrReuseChat(ctx, testUser(), "openai")
	if err != nil {
		t.Fatal(err)
	}
	claudeChat, err := s.CreateOrReuseChat(ctx, testUser(), "claude")
	if err != nil {
		t.Fatal(err)
	}

	chats, err := s.ListChats(ctx, "user-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	seen := map[int64]bool{}
	for _, c := range chats {
		seen[c.ID] = true
		if c.UserID != "user-1" {
			t.Errorf("unexpected user %q", c.UserID)
		}
	}
	if !seen[openaiChat] || !seen[claudeChat] {
		t.Errorf("listing missed a chat: %v", seen)
	}

	none, err := s.ListChats(ctx, "nobody", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("expected no chats for an unknown user, got %d", len(none))
	}
}

func TestMessagesRecordsOptions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chatID, err := s.CreateOrReuseChat(ctx, testUser(), "mistral")
	if err != nil {
		t.Fatal(err)
	}
	opts := llm.Options{Temperature: 0.9, MaxOutputTokens: 512}
	if err := s.AppendMessage(ctx, chatID, llm.RoleAssistant, "answer", "mistral", opts); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.Messages(ctx, chatID, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Role != string(llm.RoleAssistant) || m.Content != "answer" {
		t.Errorf("message = %+v", m)
	}
	if m.Provider != "mistral" || m.Temperature != 0.9 || m.MaxTokens != 512 {
		t.Errorf("options not recorded: %+v", m)
	}
}
