package llm

import (
	"strings"
	"testing"
)

func joinLastTurns(parts []Conversation) string {
	var sb strings.Builder
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		sb.WriteString(part[len(part)-1].Content)
	}
	return sb.String()
}

func TestSplitPassThroughWhenFits(t *testing.T) {
	conv := Conversation{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi there"},
		{Role: RoleUser, Content: "how are you?"},
	}
	parts := Split(conv, 1000)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if len(parts[0]) != 3 || parts[0][2].Content != "how are you?" {
		t.Errorf("conversation was altered: %+v", parts[0])
	}
}

func TestSplitEmptyConversation(t *testing.T) {
	parts := Split(nil, 100)
	if len(parts) != 1 || len(parts[0]) != 0 {
		t.Fatalf("expected one empty part, got %v", parts)
	}
}

func TestSplitLongMessage(t *testing.T) {
	text := strings.Repeat("x", 50000)
	conv := Conversation{{Role: RoleUser, Content: text}}
	budget := 1000

	parts := Split(conv, budget)
	if len(parts) < 2 {
		t.Fatalf("expected multiple parts, got %d", len(parts))
	}
	for i, part := range parts {
		if est := EstimateConversation(part); est > budget {
			t.Errorf("part %d estimates %d tokens, over budget %d", i, est, budget)
		}
		if len(part) != 1 {
			t.Errorf("part %d has %d turns, want 1", i, len(part))
		}
		if part[len(part)-1].Role != RoleUser {
			t.Errorf("part %d lost the turn role", i)
		}
	}
	if got := joinLastTurns(parts); got != text {
		t.Errorf("concatenated parts do not reconstruct the input: %d chars vs %d", len(got), len(text))
	}
}

func TestSplitPreservesParagraphBoundaries(t *testing.T) {
	para := strings.Repeat("word ", 100) // ~500 chars
	text := strings.TrimSpace(strings.Repeat(para+"\n\n", 20))
	conv := Conversation{{Role: RoleUser, Content: text}}
	budget := 300

	parts := Split(conv, budget)
	if len(parts) < 2 {
		t.Fatalf("expected multiple parts, got %d", len(parts))
	}
	for i, part := range parts {
		if est := EstimateConversation(part); est > budget {
			t.Errorf("part %d estimates %d tokens, over budget %d", i, est, budget)
		}
	}
	if got := joinLastTurns(parts); got != text {
		t.Error("concatenated parts do not reconstruct the input")
	}
}

func TestSplitTrimsOldHistory(t *testing.T) {
	history := make(Conversation, 20)
	for i := range history {
		history[i] = Turn{Role: RoleUser, Content: strings.Repeat("h", 250)}
	}
	last := Turn{Role: RoleUser, Content: strings.Repeat("m", 100)}
	conv := append(append(Conversation{}, history...), last)
	budget := 1000

	parts := Split(conv, budget)
	if len(parts) != 1 {
		t.Fatalf("expected a single trimmed part, got %d", len(parts))
	}
	part := parts[0]
	if est := EstimateConversation(part); est > budget {
		t.Errorf("trimmed part estimates %d tokens, over budget %d", est, budget)
	}
	if got := part[len(part)-1]; got != last {
		t.Errorf("final turn was not preserved: %+v", got)
	}
	if len(part) >= len(conv) {
		t.Errorf("history was not trimmed: %d turns", len(part))
	}
	// Trimming keeps a suffix: the kept turns must match the most recent
	// history entries.
	keptHistory := part[:len(part)-1]
	offset := len(history) - len(keptHistory)
	for i, turn := range keptHistory {
		if turn != history[offset+i] {
			t.Fatalf("kept history is not a suffix at index %d", i)
		}
	}
}

func TestSplitBudgetAlwaysRespected(t *testing.T) {
	text := strings.Repeat("sentence one. sentence two. ", 400)
	conv := Conversation{{Role: RoleUser, Content: text}}
	for _, budget := range []int{50, 100, 300, 1000, 5000} {
		parts := Split(conv, budget)
		if len(parts) == 0 {
			t.Fatalf("budget %d produced no parts", budget)
		}
		for i, part := range parts {
			if est := EstimateConversation(part); est > budget {
				t.Errorf("budget %d: part %d estimates %d tokens", budget, i, est)
			}
		}
		if got := joinLastTurns(parts); got != text {
			t.Errorf("budget %d: parts do not reconstruct the input", budget)
		}
	}
}

func TestTrimHistory(t *testing.T) {
	history := Conversation{
		{Role: RoleUser, Content: strings.Repeat("a", 250)},      // 108 tokens
		{Role: RoleAssistant, Content: strings.Repeat("b", 250)}, // 108 tokens
		{Role: RoleUser, Content: strings.Repeat("c", 250)},      // 108 tokens
	}
	if got := trimHistory(history, 0); got != nil {
		t.Errorf("non-positive budget should keep nothing, got %d turns", len(got))
	}
	if got := trimHistory(history, 220); len(got) != 2 {
		t.Errorf("budget 220 should keep 2 turns, got %d", len(got))
	}
	if got := trimHistory(history, 10000); len(got) != 3 {
		t.Errorf("large budget should keep everything, got %d turns", len(got))
	}
}

func TestPackSegmentsReconstructs(t *testing.T) {
	segments := strings.SplitAfter("one. two. three. four. five. ", ". ")
	chunks := packSegments(segments, 12)
	if strings.Join(chunks, "") != "one. two. three. four. five. " {
		t.Errorf("chunks do not reconstruct the input: %q", chunks)
	}
	for _, c := range chunks {
		// A chunk may exceed the limit only when a single segment does.
		if len(c) > 12 && strings.Count(c, ". ") > 1 {
			t.Errorf("packed chunk over limit: %q", c)
		}
	}
}

func TestBisectTerminates(t *testing.T) {
	chunk := strings.Repeat("z", 1<<20)
	out := bisect(chunk, 100, 0)
	if strings.Join(out, "") != chunk {
		t.Error("bisect lost content")
	}
	// Depth bounding means pieces may still exceed the limit, but the
	// call must return.
	if len(out) == 0 {
		t.Error("bisect returned nothing")
	}
}
