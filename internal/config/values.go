package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ListValues flattens the configuration into dotted keys
// ("providers.groq.model"). Secret values are masked when maskSecrets is
// set.
func ListValues(cfg *Config, maskSecrets bool) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	values := make(map[string]any)
	flatten("", tree, values)
	if maskSecrets {
		for k, v := range values {
			if IsSecretKey(k) && v != "" {
				values[k] = "***"
			}
		}
	}
	return values, nil
}

// GetValue returns one flattened configuration value by dotted key.
func GetValue(cfg *Config, key string) (any, error) {
	values, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	val, ok := values[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key %q", key)
	}
	return val, nil
}

// IsSecretKey reports whether a flattened key holds a credential.
func IsSecretKey(key string) bool {
	return strings.Contains(key, "api_key")
}

func flatten(prefix string, tree map[string]any, out map[string]any) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flatten(key, sub, out)
			continue
		}
		out[key] = v
	}
}
