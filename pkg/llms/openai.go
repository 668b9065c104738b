package llms

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider for the OpenAI chat completions API
// and any OpenAI-compatible endpoint reachable through BaseURL.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAIProvider creates an OpenAI provider from configuration.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai model is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Generate sends the prompt with a system message and returns the text.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt, system string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: float32(p.temperature),
		MaxTokens:   p.maxTokens,
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion from %s", ErrModelUnavailable, p.model)
	}
	return resp.Choices[0].Message.Content, nil
}

// ModelName returns the configured model identifier.
func (p *OpenAIProvider) ModelName() string {
	return p.model
}

// Close releases provider resources.
func (p *OpenAIProvider) Close() error {
	return nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrModelInvalidKey, apiErr.Message)
		}
		return fmt.Errorf("%w: openai API error %d: %s", ErrModelUnavailable, apiErr.HTTPStatusCode, apiErr.Message)
	}
	return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
}
