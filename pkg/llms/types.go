// Package llms provides reasoning-model providers behind a single
// interface. Providers are synchronous: one prompt in, one completion out.
package llms

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrModelUnavailable indicates the provider could not be reached or
	// returned a transient failure.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrModelInvalidKey indicates the provider rejected the credentials.
	ErrModelInvalidKey = errors.New("invalid model API key")
)

// Provider generates completions for the agent runtime.
type Provider interface {
	// Generate sends the assembled context with a system instruction and
	// returns the raw model text.
	Generate(ctx context.Context, prompt, system string) (string, error)

	// ModelName returns the configured model identifier.
	ModelName() string

	// Close releases provider resources.
	Close() error
}

// Config carries the provider-agnostic settings a constructor needs.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

// NewProvider creates a Provider for the configured backend.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiProvider(cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
	}
}
