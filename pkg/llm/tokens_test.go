package llm

import (
	"strings"
	"testing"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"ab", 1},
		{"abcde", 2},
		{"abcdef", 3},
		{strings.Repeat("x", 2500), 1000},
		{strings.Repeat("x", 2501), 1001},
	}
	for _, tt := range tests {
		if got := Estimate(tt.text); got != tt.want {
			t.Errorf("Estimate(%d chars) = %d, want %d", len(tt.text), got, tt.want)
		}
	}
}

func TestEstimateMonotonic(t *testing.T) {
	prev := 0
	for i := 0; i <= 100; i++ {
		got := Estimate(strings.Repeat("a", i))
		if got < prev {
			t.Fatalf("estimate decreased at length %d: %d < %d", i, got, prev)
		}
		prev = got
	}
}

func TestEstimateConversation(t *testing.T) {
	conv := Conversation{
		{Role: RoleUser, Content: strings.Repeat("a", 250)},
		{Role: RoleAssistant, Content: strings.Repeat("b", 250)},
	}
	// Each turn: 100 content tokens plus the per-turn overhead.
	want := 2 * (100 + turnOverhead)
	if got := EstimateConversation(conv); got != want {
		t.Errorf("EstimateConversation = %d, want %d", got, want)
	}
	if got := EstimateConversation(nil); got != 0 {
		t.Errorf("EstimateConversation(nil) = %d, want 0", got)
	}
}

func TestEstimateEmptyTurnChargesOverhead(t *testing.T) {
	conv := Conversation{{Role: RoleUser, Content: ""}}
	if got := EstimateConversation(conv); got != turnOverhead {
		t.Errorf("empty turn = %d tokens, want %d", got, turnOverhead)
	}
}
