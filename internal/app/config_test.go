package app

import (
	"context"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg, _ := Default()
	cfg.OpenAI.BaseURL = "https://api.example.com/v1"
	cfg.OpenAI.APIKey = "sk-test"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	if cfg.Server.Host != DefaultConfigServerHost {
		t.Errorf("Host = %q, want %q", cfg.Server.Host, DefaultConfigServerHost)
	}
	if cfg.Server.Port != DefaultConfigServerPort {
		t.Errorf("Port = %d, want %d", cfg.Server.Port, DefaultConfigServerPort)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if cfg.Shutdown.Timeout != DefaultConfigShutdownTimeout {
		t.Errorf("Shutdown.Timeout = %v", cfg.Shutdown.Timeout)
	}
	if cfg.RequestTimeoutSeconds != DefaultConfigRequestTimeout {
		t.Errorf("RequestTimeoutSeconds = %d", cfg.RequestTimeoutSeconds)
	}
}

func TestValidateRequiresUpstreamURL(t *testing.T) {
	cfg, _ := Default()

	if err := cfg.Validate(); err == nil {
		t.Error("Validate passed without openai.base_url")
	}

	cfg.OpenAI.BaseURL = "https://api.example.com/v1"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }},
		{name: "bad upstream url", mutate: func(c *Config) { c.OpenAI.BaseURL = "not a url" }},
		{name: "temperature override out of range", mutate: func(c *Config) {
			bad := 1.5
			c.ParameterOverrides.Temperature = &bad
		}},
		{name: "top_k override below one", mutate: func(c *Config) {
			bad := 0
			c.ParameterOverrides.TopK = &bad
		}},
		{name: "file credential without path", mutate: func(c *Config) {
			c.APIKeyFrom = CredentialConfig{Storage: KeyStorageTypeFile}
		}},
		{name: "env credential without key", mutate: func(c *Config) {
			c.OpenAI.APIKeyFrom = CredentialConfig{Storage: KeyStorageTypeEnv}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate passed, want error")
			}
		})
	}
}

func TestSnapshot(t *testing.T) {
	cfg := validConfig()
	cfg.APIKey = "inbound"
	cfg.Models = ModelsConfig{Default: "gpt-4o", Small: "gpt-4o-mini", Think: "o1", LongContext: "gpt-4o-long"}
	maxTokens := 2048
	cfg.ParameterOverrides.MaxTokens = &maxTokens
	cfg.RequestTimeoutSeconds = 60

	snapshot, err := cfg.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if snapshot.APIKey != "inbound" {
		t.Errorf("APIKey = %q", snapshot.APIKey)
	}
	if snapshot.Upstream.BaseURL != "https://api.example.com/v1" || snapshot.Upstream.APIKey != "sk-test" {
		t.Errorf("Upstream = %+v", snapshot.Upstream)
	}
	if snapshot.Models.Default != "gpt-4o" || snapshot.Models.LongContext != "gpt-4o-long" {
		t.Errorf("Models = %+v", snapshot.Models)
	}
	if snapshot.Overrides.MaxTokens == nil || *snapshot.Overrides.MaxTokens != 2048 {
		t.Errorf("Overrides = %+v", snapshot.Overrides)
	}
	if snapshot.RequestTimeout != 60*time.Second {
		t.Errorf("RequestTimeout = %v", snapshot.RequestTimeout)
	}
}

func TestSnapshotResolvesEnvCredential(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_KEY", "sk-from-env")

	cfg := validConfig()
	cfg.OpenAI.APIKey = ""
	cfg.OpenAI.APIKeyFrom = CredentialConfig{Storage: KeyStorageTypeEnv, EnvKey: "TEST_UPSTREAM_KEY"}

	snapshot, err := cfg.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.Upstream.APIKey != "sk-from-env" {
		t.Errorf("Upstream.APIKey = %q, want sk-from-env", snapshot.Upstream.APIKey)
	}
}

func TestSnapshotLiteralKeyWinsOverStore(t *testing.T) {
	cfg := validConfig()
	cfg.OpenAI.APIKeyFrom = CredentialConfig{Storage: KeyStorageTypeEnv, EnvKey: "UNSET_VARIABLE"}

	snapshot, err := cfg.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.Upstream.APIKey != "sk-test" {
		t.Errorf("Upstream.APIKey = %q, want literal sk-test", snapshot.Upstream.APIKey)
	}
}
