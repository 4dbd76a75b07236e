package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/user"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anthrogate/gateway/internal/anthropicadapter"
	"github.com/anthrogate/gateway/internal/keystore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// KeyStorageType represents the storage backends a key can be sourced from.
type KeyStorageType string

const (
	KeyStorageTypeFile    KeyStorageType = "file"
	KeyStorageTypeEnv     KeyStorageType = "env"
	KeyStorageTypeKeyring KeyStorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 4000
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigRequestTimeout  = 300 // seconds
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// OpenAIConfig locates the OpenAI-compatible upstream and its credential.
type OpenAIConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`

	// APIKey is the literal upstream key. Leave empty and set APIKeyFrom
	// to source it from a credential store instead.
	APIKey     string           `json:"api_key,omitempty"`
	APIKeyFrom CredentialConfig `json:"api_key_from,omitempty"`
}

// ModelsConfig holds the five routing slots. All slots are optional;
// an unset Default disables routing and client model names pass through.
type ModelsConfig struct {
	Default     string `json:"default,omitempty"`
	Small       string `json:"small,omitempty"`
	Think       string `json:"think,omitempty"`
	Tool        string `json:"tool,omitempty"`
	LongContext string `json:"longContext,omitempty"`
}

// ParameterOverridesConfig replaces client sampling parameters per-field.
// Nil fields leave the client value untouched.
type ParameterOverridesConfig struct {
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=1"`
	TopP        *float64 `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	TopK        *int     `json:"top_k,omitempty" validate:"omitempty,gte=1"`
}

// CredentialConfig describes where to read an API key from when it is not
// given literally. An empty Storage disables sourcing.
type CredentialConfig struct {
	Storage KeyStorageType `json:"storage,omitempty" validate:"omitempty,oneof=file env keyring"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File        string `json:"file,omitempty"`         // For file storage: path to key file
	EnvKey      string `json:"env_key,omitempty"`      // For env storage: environment variable name
	KeyringUser string `json:"keyring_user,omitempty"` // For keyring storage: user identifier
}

// Enabled reports whether a credential source is configured.
func (c CredentialConfig) Enabled() bool { return c.Storage != "" }

// NewStore creates a keystore.Store from the credential configuration.
func (c CredentialConfig) NewStore() (keystore.Store, error) {
	switch c.Storage {
	case KeyStorageTypeFile:
		return keystore.NewFileStore(c.File)
	case KeyStorageTypeEnv:
		return keystore.NewEnvStore(c.EnvKey)
	case KeyStorageTypeKeyring:
		user := c.KeyringUser
		if user == "" {
			current, err := currentUsername()
			if err != nil {
				return nil, fmt.Errorf("keyring_user required (auto-detect failed: %w)", err)
			}
			user = current
		}
		return keystore.NewKeyringStore("anthrogate-api-key", user)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", c.Storage)
	}
}

// resolve returns the literal key, or reads it from the configured store.
func (c CredentialConfig) resolve(ctx context.Context, literal string) (string, error) {
	if literal != "" || !c.Enabled() {
		return literal, nil
	}

	store, err := c.NewStore()
	if err != nil {
		return "", err
	}
	return store.Read(ctx)
}

func currentUsername() (string, error) {
	current, err := user.Current()
	if err != nil {
		return "", err
	}
	return current.Username, nil
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level     `json:"log_level"`
	LogFormat LogFormat      `json:"log_format" validate:"oneof=text json"`
	Server    ServerConfig   `json:"server"`
	Shutdown  ShutdownConfig `json:"shutdown"`

	// APIKey authenticates inbound clients; empty disables auth.
	APIKey     string           `json:"api_key,omitempty"`
	APIKeyFrom CredentialConfig `json:"api_key_from,omitempty"`

	OpenAI             OpenAIConfig             `json:"openai"`
	Models             ModelsConfig             `json:"models"`
	ParameterOverrides ParameterOverridesConfig `json:"parameter_overrides"`

	// RequestTimeoutSeconds bounds one request end to end. ApplyDefaults
	// replaces zero with DefaultConfigRequestTimeout, so a loaded config
	// always carries a deadline; zero cannot be used to disable it.
	RequestTimeoutSeconds int `json:"request_timeout_seconds" validate:"gte=0"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = DefaultConfigRequestTimeout
	}
	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	for _, cred := range []CredentialConfig{c.APIKeyFrom, c.OpenAI.APIKeyFrom} {
		switch cred.Storage {
		case KeyStorageTypeFile:
			if cred.File == "" {
				return fmt.Errorf("file path required for file storage")
			}
		case KeyStorageTypeEnv:
			if cred.EnvKey == "" {
				return fmt.Errorf("env_key required for env storage")
			}
		}
	}

	return nil
}

// Snapshot resolves credentials and builds the immutable runtime view the
// translation core consumes.
func (c *Config) Snapshot(ctx context.Context) (*anthropicadapter.Config, error) {
	apiKey, err := c.APIKeyFrom.resolve(ctx, c.APIKey)
	if err != nil {
		return nil, fmt.Errorf("resolve inbound api key: %w", err)
	}

	upstreamKey, err := c.OpenAI.APIKeyFrom.resolve(ctx, c.OpenAI.APIKey)
	if err != nil {
		return nil, fmt.Errorf("resolve upstream api key: %w", err)
	}

	return &anthropicadapter.Config{
		APIKey: apiKey,
		Upstream: anthropicadapter.UpstreamConfig{
			BaseURL: c.OpenAI.BaseURL,
			APIKey:  upstreamKey,
		},
		Models: anthropicadapter.ModelsConfig{
			Default:     c.Models.Default,
			Small:       c.Models.Small,
			Think:       c.Models.Think,
			Tool:        c.Models.Tool,
			LongContext: c.Models.LongContext,
		},
		Overrides: anthropicadapter.ParameterOverrides{
			MaxTokens:   c.ParameterOverrides.MaxTokens,
			Temperature: c.ParameterOverrides.Temperature,
			TopP:        c.ParameterOverrides.TopP,
			TopK:        c.ParameterOverrides.TopK,
		},
		RequestTimeout: time.Duration(c.RequestTimeoutSeconds) * time.Second,
	}, nil
}
