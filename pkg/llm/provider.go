package llm

import "context"

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request
// formatting, authentication, role vocabulary, and response parsing,
// and normalize backend failures into *Error values.
type Provider interface {
	// Generate sends the conversation and returns the complete
	// response text.
	Generate(ctx context.Context, conv Conversation, opts Options) (string, error)

	// Stream sends the conversation and returns the canonical event
	// stream: zero or more deltas followed by exactly one terminator.
	Stream(ctx context.Context, conv Conversation, opts Options) (<-chan StreamEvent, error)
}

// Config holds common configuration for provider adapters.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// TokenCeiling is the backend's hard token-per-request (or
	// per-minute) limit, used to derive recovery budgets after an
	// overflow rejection.
	TokenCeiling int
}
