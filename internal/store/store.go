// Package store persists chat sessions and their messages. The gateway
// consumes only the Store interface and treats every failure as
// non-fatal: a persistence error is logged and skipped, never allowed
// to abort an in-flight generation.
package store

import (
	"context"
	"time"

	"github.com/user/llmgate/pkg/llm"
)

// Chat is one persisted conversation session for a user and provider.
type Chat struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name,omitempty"`
	Username     string    `json:"username,omitempty"`
	Provider     string    `json:"provider"`
	Title        string    `json:"title,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Message is one persisted turn with the generation settings in effect
// when it was produced.
type Message struct {
	ID          int64     `json:"id"`
	ChatID      int64     `json:"chat_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Provider    string    `json:"provider,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserInfo carries the optional display fields recorded on chat
// creation.
type UserInfo struct {
	UserID   string
	UserName string
	Username string
}

// Store is the persistence contract the gateway consumes.
type Store interface {
	// CreateOrReuseChat returns the user's most recent chat for the
	// provider, creating one if none exists.
	CreateOrReuseChat(ctx context.Context, user UserInfo, provider string) (int64, error)

	// AppendMessage records one turn. The first user message also
	// becomes the chat title.
	AppendMessage(ctx context.Context, chatID int64, role llm.Role, content, provider string, opts llm.Options) error

	// LoadHistory returns the chat's turns in chronological order,
	// capped at limit.
	LoadHistory(ctx context.Context, chatID int64, limit int) (llm.Conversation, error)

	// ListChats returns the user's most recently updated chats.
	ListChats(ctx context.Context, userID string, limit int) ([]*Chat, error)

	// GetChat returns one chat by id, or nil when absent.
	GetChat(ctx context.Context, chatID int64) (*Chat, error)

	// Messages returns the chat's messages in chronological order,
	// capped at limit.
	Messages(ctx context.Context, chatID int64, limit int) ([]*Message, error)

	Close() error
}
