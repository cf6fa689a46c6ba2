package llm

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is an ordered, chronological sequence of turns. A new
// Conversation is assembled per request by appending the pending user
// turn to loaded history; it is never mutated after being handed to an
// adapter.
type Conversation []Turn

// Default generation parameters, applied whenever a caller supplies
// missing or invalid values.
const (
	DefaultTemperature     = 0.7
	DefaultMaxOutputTokens = 2000
)

// maxOutputTokensCap bounds caller-supplied output limits; anything
// above it is treated as invalid input rather than honored.
const maxOutputTokensCap = 100000

// Options carries per-request generation parameters. Values come from
// untrusted input; call Normalize before use.
type Options struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens"`
}

// Normalize coerces out-of-range values to the defaults. Invalid input
// never produces an error: a bad temperature or token limit falls back
// to the default instead.
func (o Options) Normalize() Options {
	if o.Temperature <= 0 || o.Temperature > 2 {
		o.Temperature = DefaultTemperature
	}
	if o.MaxOutputTokens <= 0 || o.MaxOutputTokens > maxOutputTokensCap {
		o.MaxOutputTokens = DefaultMaxOutputTokens
	}
	return o
}

// StreamEvent is one element of the canonical event stream produced by
// every adapter: any number of deltas followed by exactly one
// terminator. A terminal error is always followed by a final Done so
// consumers can rely on a single termination signal.
type StreamEvent struct {
	Delta string
	Done  bool
	Err   *Error
}
