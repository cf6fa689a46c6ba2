package llm

import (
	"log/slog"
	"strings"
)

const (
	// historyShare is the fraction of the budget that loaded history
	// alone may occupy before it gets trimmed.
	historyShare = 0.7

	// historyReserve is held back from the history budget to leave
	// headroom for formatting the backend adds around the request.
	historyReserve = 100

	// windowCharsPerToken sizes raw character windows in the last-resort
	// splitting strategy.
	windowCharsPerToken = 2.0

	maxBisectDepth = 16
)

// Split partitions a conversation into parts that each fit under the
// token budget. The input is returned unchanged as a single part when
// it already fits. Splitting assumes the final turn is the oversized
// element (a long pending message appended to a short history), which
// is the only case backends reject in practice.
//
// Every returned part is independently re-validated against the budget;
// a part that still fails validation is dropped with a logged warning
// rather than sent. Parts are never silently enlarged.
func Split(turns Conversation, budget int) []Conversation {
	if len(turns) == 0 {
		return []Conversation{{}}
	}
	if EstimateConversation(turns) <= budget {
		return []Conversation{turns}
	}

	last := turns[len(turns)-1]
	history := turns[:len(turns)-1]

	// Trim history from the oldest turn forward when it alone crowds
	// the budget, keeping a suffix of most-recent turns.
	kept := history
	if EstimateConversation(history) > int(float64(budget)*historyShare) {
		lastTokens := Estimate(last.Content) + turnOverhead
		kept = trimHistory(history, budget-lastTokens-historyReserve)
	}
	candidate := appendTurn(kept, last)
	if EstimateConversation(candidate) <= budget {
		return []Conversation{candidate}
	}

	// The final turn's content itself must be partitioned. Budget the
	// chunk text by what remains after the kept history and the chunk
	// turn's own overhead; if that leaves no room, drop the history.
	contentBudget := budget - EstimateConversation(kept) - turnOverhead
	if contentBudget < turnOverhead {
		kept = nil
		contentBudget = budget - turnOverhead
	}
	if contentBudget < 1 {
		contentBudget = 1
	}

	chunks := splitByBudget(last.Content, contentBudget, strategyParagraph, 0)

	parts := make([]Conversation, 0, len(chunks))
	for i, chunk := range chunks {
		part := appendTurn(kept, Turn{Role: last.Role, Content: chunk})
		if est := EstimateConversation(part); est > budget {
			slog.Warn("dropping request part still over budget",
				"part", i+1, "estimated_tokens", est, "budget", budget)
			continue
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		// Nothing splittable fit (budget smaller than a single turn's
		// overhead); pass the conversation through to fail fast
		// upstream.
		return []Conversation{turns}
	}
	return parts
}

// trimHistory keeps the suffix of most-recent turns whose estimate fits
// the budget. A non-positive budget keeps nothing.
func trimHistory(history Conversation, budget int) Conversation {
	if budget <= 0 {
		return nil
	}
	total := 0
	i := len(history)
	for i > 0 {
		cost := Estimate(history[i-1].Content) + turnOverhead
		if total+cost > budget {
			break
		}
		total += cost
		i--
	}
	return history[i:]
}

func appendTurn(prefix Conversation, t Turn) Conversation {
	part := make(Conversation, 0, len(prefix)+1)
	part = append(part, prefix...)
	return append(part, t)
}

type splitStrategy int

const (
	strategyParagraph splitStrategy = iota
	strategySentence
	strategyWindow
)

// splitByBudget partitions text into chunks that each fit the token
// budget, trying successive delimiter strategies: paragraph packing,
// sentence packing, then fixed-width character windows with recursive
// bisection. Delimiters are preserved inside chunks, so concatenating
// the chunks reconstructs the original text. Recursion descends only
// into chunks still over budget.
func splitByBudget(text string, budget int, strategy splitStrategy, depth int) []string {
	charLimit := int(float64(budget) * charsPerToken)
	if charLimit < 1 {
		charLimit = 1
	}
	if len(text) <= charLimit {
		return []string{text}
	}

	var chunks []string
	switch strategy {
	case strategyParagraph:
		chunks = packSegments(strings.SplitAfter(text, "\n\n"), charLimit)
	case strategySentence:
		chunks = packSegments(strings.SplitAfter(text, ". "), charLimit)
	default:
		window := int(float64(budget) * windowCharsPerToken)
		if window < 1 {
			window = 1
		}
		chunks = windows(text, window)
	}

	out := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		switch {
		case len(chunk) <= charLimit:
			out = append(out, chunk)
		case strategy < strategyWindow:
			out = append(out, splitByBudget(chunk, budget, strategy+1, depth)...)
		default:
			out = append(out, bisect(chunk, charLimit, depth)...)
		}
	}
	return out
}

// packSegments greedily joins delimiter-suffixed segments into chunks
// no larger than charLimit. A single segment longer than the limit
// becomes its own oversized chunk for the caller to recurse on.
func packSegments(segments []string, charLimit int) []string {
	var chunks []string
	var cur strings.Builder
	for _, seg := range segments {
		if cur.Len() > 0 && cur.Len()+len(seg) > charLimit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		cur.WriteString(seg)
		if cur.Len() > charLimit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

func windows(text string, width int) []string {
	out := make([]string, 0, len(text)/width+1)
	for start := 0; start < len(text); start += width {
		end := start + width
		if end > len(text) {
			end = len(text)
		}
		out = append(out, text[start:end])
	}
	return out
}

// bisect halves a chunk until it fits the character limit, bounded by
// recursion depth.
func bisect(chunk string, charLimit, depth int) []string {
	if len(chunk) <= charLimit || depth >= maxBisectDepth || len(chunk) < 2 {
		return []string{chunk}
	}
	mid := len(chunk) / 2
	out := bisect(chunk[:mid], charLimit, depth+1)
	return append(out, bisect(chunk[mid:], charLimit, depth+1)...)
}
