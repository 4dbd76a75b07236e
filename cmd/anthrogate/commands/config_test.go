package commands

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
api_key = "inbound-key"
request_timeout_seconds = 120

[server]
host = "0.0.0.0"
port = 9000

[openai]
base_url = "https://api.example.com/v1"
api_key = "sk-file"

[models]
default = "gpt-4o"
small = "gpt-4o-mini"
think = "o1"
longContext = "gpt-4o-long"

[parameter_overrides]
max_tokens = 2048
`)

	cfg, err := loadConfig(path, nil, func() []string { return nil })
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9000 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.APIKey != "inbound-key" {
		t.Errorf("api_key = %q", cfg.APIKey)
	}
	if cfg.OpenAI.BaseURL != "https://api.example.com/v1" || cfg.OpenAI.APIKey != "sk-file" {
		t.Errorf("openai = %+v", cfg.OpenAI)
	}
	if cfg.Models.Default != "gpt-4o" || cfg.Models.LongContext != "gpt-4o-long" {
		t.Errorf("models = %+v", cfg.Models)
	}
	if cfg.ParameterOverrides.MaxTokens == nil || *cfg.ParameterOverrides.MaxTokens != 2048 {
		t.Errorf("parameter_overrides = %+v", cfg.ParameterOverrides)
	}
	if cfg.RequestTimeoutSeconds != 120 {
		t.Errorf("request_timeout_seconds = %d", cfg.RequestTimeoutSeconds)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
[server]
port = 9000

[openai]
base_url = "https://api.example.com/v1"
`)

	environ := func() []string {
		return []string{
			"ANTHROGATE_SERVER__PORT=9100",
			"ANTHROGATE_OPENAI__API_KEY=sk-env",
			"UNRELATED=ignored",
		}
	}

	cfg, err := loadConfig(path, nil, environ)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.OpenAI.APIKey != "sk-env" {
		t.Errorf("openai.api_key = %q, want sk-env", cfg.OpenAI.APIKey)
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	environ := func() []string {
		return []string{"ANTHROGATE_OPENAI__BASE_URL=https://api.example.com/v1"}
	}

	cfg, err := loadConfig("", nil, environ)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 4000 {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	// No upstream base URL anywhere
	if _, err := loadConfig("", nil, func() []string { return nil }); err == nil {
		t.Error("loadConfig passed without openai.base_url")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig("/nonexistent/config.toml", nil, func() []string { return nil }); err == nil {
		t.Error("loadConfig passed for missing file")
	}
}
