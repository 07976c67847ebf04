package llm

import (
	"context"
	"time"

	"github.com/ppiankov/bsmeter/internal/model"
)

// Provider is one AI backend able to analyze a fragment
type Provider interface {
	// Name returns the configured provider name
	Name() string

	// Analyze turns a request into the canonical result shape.
	// Safe for concurrent use.
	Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error)

	// IsAvailable is a cheap, non-blocking liveness check
	IsAvailable() bool
}

// Prober is implemented by providers that can actively check their backend
type Prober interface {
	Probe(ctx context.Context) error
}

// Config holds provider configuration
type Config struct {
	// Name is the registry key; defaults to Type
	Name string

	// Type: "openai", "anthropic", "ollama", "gemini"
	Type string

	// Model name (provider-specific)
	Model string

	// APIKey for hosted backends
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama, OpenAI-compatible gateways)
	BaseURL string

	// Timeout caps a single HTTP exchange; the caller's context may be shorter
	Timeout time.Duration

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		MaxTokens: 1000,
	}
}

// DefaultTimeout is the per-exchange timeout used when a provider sets none.
// Local models are slow on first load.
func DefaultTimeout(providerType string) time.Duration {
	if providerType == "ollama" {
		return 90 * time.Second
	}
	return 30 * time.Second
}

// ConfigFromModel converts a model.ProviderConfig to llm.Config
func ConfigFromModel(pc model.ProviderConfig) Config {
	cfg := DefaultConfig()
	cfg.Timeout = DefaultTimeout(pc.Type)
	cfg.Name = pc.Name
	cfg.Type = pc.Type
	cfg.Model = pc.Model
	cfg.APIKey = pc.APIKey
	cfg.BaseURL = pc.BaseURL
	cfg.HTTPProxy = pc.HTTPProxy
	cfg.HTTPSProxy = pc.HTTPSProxy
	if pc.Timeout > 0 {
		cfg.Timeout = pc.Timeout
	}
	if pc.MaxTokens > 0 {
		cfg.MaxTokens = pc.MaxTokens
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Type
	}
	return cfg
}

func (c Config) nameOr(def string) string {
	if c.Name != "" {
		return c.Name
	}
	return def
}

func (c Config) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 1000
}

// checkRequest rejects bad input before any remote call is made
func checkRequest(ctx context.Context, req model.AnalysisRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return contextError(ctx)
}

// contextError converts a finished context into a CancelledError
func contextError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &model.CancelledError{Cause: err}
	}
	return nil
}
