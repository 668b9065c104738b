package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("OPENAI_API_KEY", "")

	cfg := DefaultConfig()
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, "http://localhost:8080", cfg.Gateway.BaseURL)
	assert.Equal(t, 30, cfg.Gateway.SearchTimeout)
	assert.Equal(t, 60, cfg.Gateway.ExecuteTimeout)
	assert.Equal(t, 5, cfg.Memory.TickSeconds)
	assert.Equal(t, 1, cfg.Memory.TodoListInterval)
	assert.Equal(t, 1, cfg.Memory.ConversationStateInterval)
	assert.Equal(t, 5, cfg.Memory.ConversationCompressionInterval)
	assert.NoError(t, cfg.Validate())
}

func TestProviderDetectionFromEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "openai-key")

	cfg := DefaultConfig()
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "openai-key", cfg.LLM.APIKey)
}

func TestValidate(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "cohere"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.LLM.APIKey = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")

	cfg = DefaultConfig()
	cfg.Memory.TickSeconds = -1
	assert.Error(t, cfg.Validate())
}

func TestLoadYAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("MY_GATEWAY", "http://gateway.internal:9000")
	t.Setenv("GEMINI_API_KEY", "secret-key")
	t.Setenv("TICK_SECONDS", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm:
  provider: gemini
  model: gemini-2.5-flash
  api_key: ${GEMINI_API_KEY}
gateway:
  base_url: ${MY_GATEWAY}
memory:
  tick_seconds: ${TICK_SECONDS:-7}
prompts:
  dir: ./prompts
  watch: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	assert.Equal(t, "secret-key", cfg.LLM.APIKey)
	assert.Equal(t, "http://gateway.internal:9000", cfg.Gateway.BaseURL)
	assert.Equal(t, 7, cfg.Memory.TickSeconds)
	assert.Equal(t, "./prompts", cfg.Prompts.Dir)
	assert.True(t, cfg.Prompts.Watch)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/no/such/config.yaml")
	assert.Error(t, err)
}

func TestExpandEnvVarsInData(t *testing.T) {
	t.Setenv("SOME_FLAG", "true")
	t.Setenv("SOME_PORT", "8080")

	data := map[string]any{
		"flag":   "${SOME_FLAG}",
		"port":   "$SOME_PORT",
		"plain":  "unchanged",
		"nested": []any{"${SOME_PORT}"},
	}
	expanded, ok := ExpandEnvVarsInData(data).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, expanded["flag"])
	assert.Equal(t, 8080, expanded["port"])
	assert.Equal(t, "unchanged", expanded["plain"])
	assert.Equal(t, []any{8080}, expanded["nested"])
}
