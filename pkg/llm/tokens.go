package llm

import "math"

// charsPerToken is a deliberately conservative chars-to-tokens ratio:
// over-counting merely shrinks request parts, while under-counting
// causes backend rejection.
const charsPerToken = 2.5

// turnOverhead accounts for the role and formatting metadata a backend
// adds around each message.
const turnOverhead = 8

// Estimate approximates the token count of text. Pure and total; never
// fails.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / charsPerToken))
}

// EstimateConversation approximates the token count of a structured
// conversation, charging each turn its content estimate plus a fixed
// structural overhead.
func EstimateConversation(turns Conversation) int {
	total := 0
	for _, t := range turns {
		total += Estimate(t.Content) + turnOverhead
	}
	return total
}
