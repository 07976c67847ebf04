package llm

import (
	"fmt"
	"strings"
)

// Types lists the supported provider types
var Types = []string{"openai", "anthropic", "ollama", "gemini"}

// NewProvider creates a new provider based on configuration
func NewProvider(config Config) (Provider, error) {
	switch strings.ToLower(config.Type) {
	case "openai":
		return NewOpenAIProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "gemini", "google":
		return NewGeminiProvider(config)

	default:
		return nil, fmt.Errorf("unknown provider type: %q (supported: %s)", config.Type, strings.Join(Types, ", "))
	}
}

// RequiresKey reports whether a provider type cannot run without a credential
func RequiresKey(providerType string) bool {
	switch strings.ToLower(providerType) {
	case "ollama":
		return false
	}
	return true
}
