package config

import "testing"

func TestListValuesMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Providers["openai"].APIKey = "sk-secret"

	values, err := ListValues(cfg, true)
	if err != nil {
		t.Fatal(err)
	}
	if got := values["providers.openai.api_key"]; got != "***" {
		t.Errorf("secret not masked: %v", got)
	}
	if got := values["port"]; got != float64(8000) {
		t.Errorf("port = %v", got)
	}
	if got := values["providers.groq.model"]; got != "llama-3.3-70b-versatile" {
		t.Errorf("nested key = %v", got)
	}
}

func TestGetValue(t *testing.T) {
	cfg := defaults()
	val, err := GetValue(cfg, "providers.claude.token_ceiling")
	if err != nil {
		t.Fatal(err)
	}
	if val != float64(200000) {
		t.Errorf("got %v", val)
	}
	if _, err := GetValue(cfg, "no.such.key"); err == nil {
		t.Error("expected an error for an unknown key")
	}
}

func TestIsSecretKey(t *testing.T) {
	if !IsSecretKey("providers.openai.api_key") {
		t.Error("api_key should be secret")
	}
	if IsSecretKey("providers.openai.model") {
		t.Error("model is not secret")
	}
}
