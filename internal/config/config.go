package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ProviderKeys is the fixed set of backend keys the gateway dispatches
// on. Adding a backend means adding a key here and an adapter for it;
// the set is not extensible at runtime.
var ProviderKeys = []string{"openai", "gemini", "claude", "groq", "mistral", "deepseek"}

// EnvVars maps each provider key to the environment variable its API
// key is read from.
var EnvVars = map[string]string{
	"openai":   "OPENAI_API_KEY",
	"gemini":   "GEMINI_API_KEY",
	"claude":   "ANTHROPIC_API_KEY",
	"groq":     "GROQ_API_KEY",
	"mistral":  "MISTRAL_API_KEY",
	"deepseek": "DEEPSEEK_API_KEY",
}

// Provider holds one backend's connection settings.
type Provider struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	// Models overrides the fallback preference order for backends that
	// probe multiple model ids (gemini).
	Models []string `json:"models,omitempty"`
	// TokenCeiling is the backend's hard token limit used to derive
	// overflow-recovery budgets.
	TokenCeiling int `json:"token_ceiling"`
}

type Config struct {
	DataDir       string               `json:"data_dir"`
	LogLevel      string               `json:"log_level"`
	Port          int                  `json:"port"`
	MaxConcurrent int                  `json:"max_concurrent"`
	HistoryLimit  int                  `json:"history_limit"`
	DatabasePath  string               `json:"database_path"`
	Providers     map[string]*Provider `json:"providers"`
}

func defaults() *Config {
	dataDir := filepath.Join(os.Getenv("HOME"), ".llmgate")
	return &Config{
		DataDir:       dataDir,
		LogLevel:      "info",
		Port:          8000,
		MaxConcurrent: 8,
		HistoryLimit:  50,
		DatabasePath:  filepath.Join(dataDir, "chat_history.db"),
		Providers: map[string]*Provider{
			"openai": {
				BaseURL:      "https://api.openai.com/v1",
				Model:        "gpt-4-turbo-preview",
				TokenCeiling: 30000,
			},
			"gemini": {
				BaseURL:      "https://generativelanguage.googleapis.com/v1beta",
				Models:       []string{"gemini-1.5-pro", "gemini-1.5-flash", "gemini-pro"},
				TokenCeiling: 32000,
			},
			"claude": {
				BaseURL:      "https://api.anthropic.com",
				Model:        "claude-3-opus-20240229",
				TokenCeiling: 200000,
			},
			"groq": {
				BaseURL:      "https://api.groq.com/openai/v1",
				Model:        "llama-3.3-70b-versatile",
				TokenCeiling: 12000,
			},
			"mistral": {
				BaseURL:      "https://api.mistral.ai/v1",
				Model:        "mistral-large-latest",
				TokenCeiling: 32000,
			},
			"deepseek": {
				BaseURL:      "https://api.deepseek.com/v1",
				Model:        "deepseek-chat",
				TokenCeiling: 65536,
			},
		},
	}
}

// Load reads the config file at path, writing defaults on first run.
// Environment variables take highest precedence: each provider's API
// key env var, PORT, and LLMGATE_DB.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// A hand-edited file may omit providers; restore defaults for any
	// missing key so lookups stay total.
	for key, p := range defaults().Providers {
		if cfg.Providers[key] == nil {
			if cfg.Providers == nil {
				cfg.Providers = make(map[string]*Provider)
			}
			cfg.Providers[key] = p
		}
	}

	for key, envVar := range EnvVars {
		if v := os.Getenv(envVar); v != "" {
			cfg.Providers[key].APIKey = v
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			cfg.Port = n
		}
	}
	if db := os.Getenv("LLMGATE_DB"); db != "" {
		cfg.DatabasePath = db
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
