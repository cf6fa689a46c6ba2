package gateway

import (
	"github.com/user/llmgate/internal/config"
	"github.com/user/llmgate/pkg/llm"
	"github.com/user/llmgate/pkg/llm/anthropic"
	"github.com/user/llmgate/pkg/llm/gemini"
	"github.com/user/llmgate/pkg/llm/openai"
)

// newAdapter constructs the adapter for a provider key, or a
// ConfigError when the key is unknown or no credential is configured.
// Construction happens fresh per request so fallback state never leaks
// across requests; each adapter is wrapped with overflow recovery for
// its configured token ceiling.
func newAdapter(cfg *config.Config, key string) (llm.Provider, error) {
	pc, ok := cfg.Providers[key]
	if !ok {
		return nil, llm.Errf(llm.KindConfig, key, "unknown provider %q", key)
	}
	if pc.APIKey == "" {
		return nil, llm.Errf(llm.KindConfig, key,
			"%s API key not configured. Please set %s environment variable.", key, config.EnvVars[key])
	}

	llmCfg := &llm.Config{
		BaseURL:      pc.BaseURL,
		APIKey:       pc.APIKey,
		Model:        pc.Model,
		TokenCeiling: pc.TokenCeiling,
	}

	var raw llm.Provider
	switch key {
	case "claude":
		raw = anthropic.New(llmCfg)
	case "gemini":
		raw = gemini.New(llmCfg, geminiCandidates(pc.Models))
	default:
		// openai, groq, mistral, deepseek all speak the
		// OpenAI-compatible chat completions protocol.
		raw = openai.New(key, llmCfg)
	}
	return llm.WithOverflowRecovery(raw, key, pc.TokenCeiling), nil
}

func geminiCandidates(models []string) []gemini.Candidate {
	if len(models) == 0 {
		return nil
	}
	candidates := make([]gemini.Candidate, len(models))
	for i, id := range models {
		candidates[i] = gemini.Candidate{DisplayName: id, ModelID: id}
	}
	return candidates
}
