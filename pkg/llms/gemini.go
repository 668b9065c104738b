package llms

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider for the Google Gemini API.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewGeminiProvider creates a Gemini provider from configuration.
func NewGeminiProvider(cfg Config) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiProvider{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Generate sends the prompt with a system instruction and returns the text.
func (p *GeminiProvider) Generate(ctx context.Context, prompt, system string) (string, error) {
	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(p.temperature)),
	}
	if p.maxTokens > 0 {
		genCfg.MaxOutputTokens = int32(p.maxTokens)
	}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), genCfg)
	if err != nil {
		return "", classifyGeminiError(err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty completion from %s", ErrModelUnavailable, p.model)
	}
	return text, nil
}

// ModelName returns the configured model identifier.
func (p *GeminiProvider) ModelName() string {
	return p.model
}

// Close releases provider resources. The genai client holds no
// connections that need explicit shutdown.
func (p *GeminiProvider) Close() error {
	return nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrModelInvalidKey, apiErr.Message)
		}
		return fmt.Errorf("%w: gemini API error %d: %s", ErrModelUnavailable, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
}
