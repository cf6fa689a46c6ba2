// Package gateway orchestrates provider adapters, conversation
// assembly, and chat persistence behind one request/response contract.
// It is the only component external callers see: they submit text plus
// options and receive either a complete response or a canonical stream
// of events.
package gateway

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/user/llmgate/internal/config"
	"github.com/user/llmgate/internal/store"
	"github.com/user/llmgate/pkg/llm"
)

// Request is one generation request. An empty UserID makes the call
// stateless: no history is loaded and nothing is persisted.
// Attachments carries pre-formatted description strings supplied by the
// attachment collaborator; they are concatenated onto the user turn.
type Request struct {
	UserID      string
	UserName    string
	Username    string
	Provider    string
	Text        string
	Attachments []string
	Options     llm.Options
}

// Result is a completed non-streaming generation. ChatID is 0 when the
// call was stateless.
type Result struct {
	Text   string
	ChatID int64
}

// Gateway dispatches requests to provider adapters.
type Gateway struct {
	cfg          *config.Config
	store        store.Store
	historyLimit int

	// adapterFn is swapped in tests to inject fake providers.
	adapterFn func(cfg *config.Config, key string) (llm.Provider, error)
}

// New creates a Gateway. st may be nil for a deployment without
// persistence; every call then behaves as stateless.
func New(cfg *config.Config, st store.Store) *Gateway {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 50
	}
	return &Gateway{
		cfg:          cfg,
		store:        st,
		historyLimit: limit,
		adapterFn:    newAdapter,
	}
}

// Available returns the provider keys that have a credential
// configured, in the fixed key order.
func (g *Gateway) Available() []string {
	var keys []string
	for _, key := range config.ProviderKeys {
		if pc, ok := g.cfg.Providers[key]; ok && pc.APIKey != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// Generate runs a blocking generation and returns the complete
// response text.
func (g *Gateway) Generate(ctx context.Context, req Request) (*Result, error) {
	opts := req.Options.Normalize()
	provider, err := g.adapterFn(g.cfg, req.Provider)
	if err != nil {
		return nil, err
	}

	text := composeUserText(req.Text, req.Attachments)
	log := slog.With("request_id", shortID(), "provider", req.Provider)
	conv, chatID := g.assemble(ctx, log, req, text)

	out, err := provider.Generate(ctx, conv, opts)
	if err != nil {
		return nil, err
	}

	if chatID != 0 {
		g.persist(ctx, log, chatID, llm.RoleUser, text, req.Provider, opts)
		g.persist(ctx, log, chatID, llm.RoleAssistant, out, req.Provider, opts)
	}
	return &Result{Text: out, ChatID: chatID}, nil
}

// Stream runs a streaming generation. The returned channel always
// terminates with exactly one Done; fatal errors surface as one Error
// event immediately before it. Accumulated text is flushed to the store
// on completion, failure, or consumer cancellation.
func (g *Gateway) Stream(ctx context.Context, req Request) (<-chan llm.StreamEvent, error) {
	opts := req.Options.Normalize()
	provider, err := g.adapterFn(g.cfg, req.Provider)
	if err != nil {
		return nil, err
	}

	text := composeUserText(req.Text, req.Attachments)
	log := slog.With("request_id", shortID(), "provider", req.Provider)
	conv, chatID := g.assemble(ctx, log, req, text)

	if chatID != 0 {
		g.persist(ctx, log, chatID, llm.RoleUser, text, req.Provider, opts)
	}

	events, err := provider.Stream(ctx, conv, opts)
	if err != nil {
		events = errorStream(ctx, err, req.Provider)
	}

	out := make(chan llm.StreamEvent)
	go func() {
		defer close(out)
		var full strings.Builder
		defer func() {
			if chatID != 0 && full.Len() > 0 {
				// Best-effort flush of whatever streamed, including
				// after consumer cancellation.
				g.persist(context.WithoutCancel(ctx), log, chatID,
					llm.RoleAssistant, full.String(), req.Provider, opts)
			}
		}()
		for ev := range events {
			if ev.Delta != "" {
				full.WriteString(ev.Delta)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// assemble builds the conversation for a request: loaded history plus
// the pending user turn. Persistence failures downgrade the call to
// stateless rather than failing it.
func (g *Gateway) assemble(ctx context.Context, log *slog.Logger, req Request, text string) (llm.Conversation, int64) {
	pending := llm.Turn{Role: llm.RoleUser, Content: text}
	if req.UserID == "" || g.store == nil {
		return llm.Conversation{pending}, 0
	}

	user := store.UserInfo{UserID: req.UserID, UserName: req.UserName, Username: req.Username}
	chatID, err := g.store.CreateOrReuseChat(ctx, user, req.Provider)
	if err != nil {
		log.Warn("chat lookup failed, continuing stateless", "error", err)
		return llm.Conversation{pending}, 0
	}

	history, err := g.store.LoadHistory(ctx, chatID, g.historyLimit)
	if err != nil {
		log.Warn("history load failed, continuing without it", "chat_id", chatID, "error", err)
		history = nil
	}

	conv := make(llm.Conversation, 0, len(history)+1)
	conv = append(conv, history...)
	return append(conv, pending), chatID
}

func (g *Gateway) persist(ctx context.Context, log *slog.Logger, chatID int64, role llm.Role, content, provider string, opts llm.Options) {
	if err := g.store.AppendMessage(ctx, chatID, role, content, provider, opts); err != nil {
		log.Warn("message persistence failed", "chat_id", chatID, "role", string(role), "error", err)
	}
}

// composeUserText concatenates attachment descriptions onto the user's
// message text.
func composeUserText(text string, attachments []string) string {
	if len(attachments) == 0 {
		return text
	}
	parts := make([]string, 0, len(attachments)+1)
	if text != "" {
		parts = append(parts, text)
	}
	for _, a := range attachments {
		if a != "" {
			parts = append(parts, a)
		}
	}
	return strings.Join(parts, "\n\n")
}

// errorStream converts a synchronous adapter failure into the canonical
// one-error-then-done stream so streaming callers always see a
// terminated sequence.
func errorStream(ctx context.Context, err error, provider string) <-chan llm.StreamEvent {
	lerr, ok := llm.AsError(err)
	if !ok {
		lerr = llm.Errf(llm.KindTransient, provider, "%v", err)
	}
	ch := make(chan llm.StreamEvent, 2)
	ch <- llm.StreamEvent{Err: lerr}
	ch <- llm.StreamEvent{Done: true}
	close(ch)
	return ch
}

func shortID() string {
	return uuid.NewString()[:8]
}
