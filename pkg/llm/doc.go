// Package llm defines the canonical conversation model shared by every
// backend adapter: turns, generation options, the token estimator, the
// adaptive request splitter, the stream-event normalizer, and the
// overflow-recovery wrapper that partitions and resubmits requests a
// backend rejects for exceeding its token ceiling.
//
// Adapters for concrete backends live in subpackages (openai,
// anthropic, gemini) and implement the Provider interface.
package llm
