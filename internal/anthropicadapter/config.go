package anthropicadapter

import (
	"sync/atomic"
	"time"
)

// Config is the immutable per-request view of operator configuration.
// Readers obtain one snapshot per request from a Publisher; a hot reload
// swaps the whole snapshot and never mutates a published one.
type Config struct {
	// APIKey authenticates inbound clients. Empty disables auth.
	APIKey string

	Upstream  UpstreamConfig
	Models    ModelsConfig
	Overrides ParameterOverrides

	// RequestTimeout bounds one request end to end. Zero means no deadline.
	RequestTimeout time.Duration
}

// UpstreamConfig locates the OpenAI-compatible upstream.
type UpstreamConfig struct {
	BaseURL string
	APIKey  string
}

// ModelsConfig holds the five routing slots. Default unset disables
// routing entirely and the client model name passes through verbatim.
type ModelsConfig struct {
	Default     string
	Small       string
	Think       string
	Tool        string
	LongContext string
}

// ParameterOverrides replaces client sampling parameters per-field when set.
type ParameterOverrides struct {
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	TopK        *int
}

// Publisher hands out consistent Config snapshots to concurrent readers
// and lets the reload path swap in a replacement atomically.
type Publisher struct {
	current atomic.Pointer[Config]
}

// NewPublisher creates a Publisher seeded with cfg.
func NewPublisher(cfg *Config) *Publisher {
	p := &Publisher{}
	p.current.Store(cfg)
	return p
}

// Load returns the current snapshot. The returned value must not be mutated.
func (p *Publisher) Load() *Config {
	return p.current.Load()
}

// Store publishes a new snapshot for subsequent requests.
func (p *Publisher) Store(cfg *Config) {
	p.current.Store(cfg)
}
