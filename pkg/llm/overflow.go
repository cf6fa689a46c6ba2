package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Budget ladder shares, applied to the backend's hard ceiling. The
// values are empirically tuned against observed backend behavior and
// budgets only ever narrow within one logical request.
var budgetLadder = []float64{0.60, 0.50, 0.40, 0.30, 0.25, 0.20, 0.15}

const (
	// safeShare is the first recovery budget after an overflow report.
	safeShare = 0.70

	// tightShare replaces safeShare when the backend reports it was
	// asked for more tokens than its own ceiling.
	tightShare = 0.50

	// maxNarrowings bounds how many times a single part's budget may be
	// reduced before its overflow becomes fatal.
	maxNarrowings = 4
)

// WithOverflowRecovery wraps a raw adapter with adaptive
// split-and-retry behavior for backends that enforce a hard token
// ceiling. On an overflow rejection the conversation is partitioned
// under a derived budget and resubmitted part by part; a part that
// overflows again descends the budget ladder, each attempt at a
// strictly smaller budget, so recovery always terminates.
func WithOverflowRecovery(p Provider, provider string, ceiling int) Provider {
	return &overflowRecoverer{raw: p, provider: provider, ceiling: ceiling}
}

type overflowRecoverer struct {
	raw      Provider
	provider string
	ceiling  int
}

func (r *overflowRecoverer) Generate(ctx context.Context, conv Conversation, opts Options) (string, error) {
	out, err := r.raw.Generate(ctx, conv, opts)
	oerr, ok := asOverflow(err)
	if !ok {
		return out, err
	}

	budget := r.initialBudget(oerr.Requested)
	slog.Warn("request overflowed, splitting",
		"provider", r.provider, "requested", oerr.Requested, "ceiling", r.ceiling, "budget", budget)

	parts := Split(conv, budget)
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		text, err := r.generatePart(ctx, part, opts, budget, 0)
		if err != nil {
			return "", err
		}
		texts = append(texts, text)
	}
	return strings.Join(texts, "\n\n"), nil
}

// generatePart submits one part, descending the budget ladder when it
// still overflows. narrowings counts reductions already applied to this
// part's lineage.
func (r *overflowRecoverer) generatePart(ctx context.Context, part Conversation, opts Options, budget, narrowings int) (string, error) {
	out, err := r.raw.Generate(ctx, part, opts)
	oerr, ok := asOverflow(err)
	if !ok {
		return out, err
	}

	next, ok := r.nextBudget(budget)
	if !ok || narrowings >= maxNarrowings {
		return "", r.exhausted(budget, narrowings, oerr)
	}
	slog.Warn("part overflowed, narrowing budget",
		"provider", r.provider, "budget", budget, "next", next, "narrowings", narrowings+1)

	texts := make([]string, 0, 2)
	for _, sub := range Split(part, next) {
		text, err := r.generatePart(ctx, sub, opts, next, narrowings+1)
		if err != nil {
			return "", err
		}
		texts = append(texts, text)
	}
	return strings.Join(texts, "\n\n"), nil
}

func (r *overflowRecoverer) Stream(ctx context.Context, conv Conversation, opts Options) (<-chan StreamEvent, error) {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		r.streamConv(ctx, out, conv, opts)
	}()
	return out, nil
}

// streamConv relays the conversation's stream into out, splitting on a
// pre-delta overflow rejection. Unless the consumer cancels, the out
// stream terminates with exactly one Done.
func (r *overflowRecoverer) streamConv(ctx context.Context, out chan<- StreamEvent, conv Conversation, opts Options) {
	committed, serr := r.streamOnce(ctx, out, conv, opts)
	if ctx.Err() != nil {
		return
	}
	if serr == nil {
		sendEvent(ctx, out, StreamEvent{Done: true})
		return
	}
	if serr.Kind != KindOverflow || committed {
		// Not recoverable here. Whatever already streamed stands; the
		// failed remainder is abandoned.
		if sendEvent(ctx, out, StreamEvent{Err: serr}) {
			sendEvent(ctx, out, StreamEvent{Done: true})
		}
		return
	}

	budget := r.initialBudget(serr.Requested)
	slog.Warn("stream overflowed before first delta, splitting",
		"provider", r.provider, "requested", serr.Requested, "ceiling", r.ceiling, "budget", budget)

	for i, part := range Split(conv, budget) {
		if ctx.Err() != nil {
			return
		}
		if i > 0 {
			sep := fmt.Sprintf("\n\n--- Part %d ---\n\n", i+1)
			if !sendEvent(ctx, out, StreamEvent{Delta: sep}) {
				return
			}
		}
		if fatal := r.streamPart(ctx, out, part, opts, budget, 0); fatal != nil {
			// Keep the committed prefix; fail this segment only and
			// stop.
			if sendEvent(ctx, out, StreamEvent{Err: fatal}) {
				sendEvent(ctx, out, StreamEvent{Done: true})
			}
			return
		}
	}
	sendEvent(ctx, out, StreamEvent{Done: true})
}

// streamPart streams one part, narrowing the budget on overflow as long
// as nothing has been emitted for it. Returns the fatal error for the
// part, or nil once it has fully streamed.
func (r *overflowRecoverer) streamPart(ctx context.Context, out chan<- StreamEvent, part Conversation, opts Options, budget, narrowings int) *Error {
	committed, serr := r.streamOnce(ctx, out, part, opts)
	if serr == nil || ctx.Err() != nil {
		return nil
	}
	if serr.Kind != KindOverflow || committed {
		return serr
	}

	next, ok := r.nextBudget(budget)
	if !ok || narrowings >= maxNarrowings {
		return r.exhausted(budget, narrowings, serr)
	}
	slog.Warn("stream part overflowed, narrowing budget",
		"provider", r.provider, "budget", budget, "next", next, "narrowings", narrowings+1)

	for _, sub := range Split(part, next) {
		if fatal := r.streamPart(ctx, out, sub, opts, next, narrowings+1); fatal != nil {
			return fatal
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// streamOnce runs a single raw stream attempt, forwarding deltas into
// out and suppressing the upstream terminator. It reports whether any
// delta was forwarded and the attempt's terminal error, if any.
func (r *overflowRecoverer) streamOnce(ctx context.Context, out chan<- StreamEvent, conv Conversation, opts Options) (committed bool, serr *Error) {
	events, err := r.raw.Stream(ctx, conv, opts)
	if err != nil {
		return false, wrapTransient(r.provider, err)
	}
	for ev := range events {
		switch {
		case ev.Done:
			return committed, serr
		case ev.Err != nil:
			serr = ev.Err
		case ev.Delta != "":
			if !sendEvent(ctx, out, StreamEvent{Delta: ev.Delta}) {
				return committed, nil
			}
			committed = true
		}
	}
	return committed, serr
}

// initialBudget derives the first recovery budget: 70% of the hard
// ceiling, or 50% when the reported figure already exceeds the ceiling.
func (r *overflowRecoverer) initialBudget(requested int) int {
	share := safeShare
	if requested > r.ceiling {
		share = tightShare
	}
	return int(float64(r.ceiling) * share)
}

// nextBudget returns the first ladder rung strictly below the current
// budget. Strict descent guarantees no budget is ever retried.
func (r *overflowRecoverer) nextBudget(current int) (int, bool) {
	for _, share := range budgetLadder {
		if b := int(float64(r.ceiling) * share); b < current {
			return b, true
		}
	}
	return 0, false
}

func (r *overflowRecoverer) exhausted(budget, narrowings int, cause *Error) *Error {
	return &Error{
		Kind:     KindOverflow,
		Provider: r.provider,
		Message: fmt.Sprintf("request still exceeds the token limit after %d budget reductions (last budget %d tokens): %s",
			narrowings, budget, cause.Message),
		Requested: cause.Requested,
	}
}

func asOverflow(err error) (*Error, bool) {
	lerr, ok := AsError(err)
	if !ok || lerr.Kind != KindOverflow {
		return nil, false
	}
	return lerr, true
}
