// Package config loads and validates the runtime configuration: model
// provider settings, gateway endpoint, prompt overrides and memory agent
// tuning. Values support ${VAR} and ${VAR:-default} environment expansion.
package config

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	LLM     LLMConfig     `yaml:"llm" mapstructure:"llm"`
	Gateway GatewayConfig `yaml:"gateway" mapstructure:"gateway"`
	Prompts PromptsConfig `yaml:"prompts" mapstructure:"prompts"`
	Memory  MemoryConfig  `yaml:"memory" mapstructure:"memory"`

	LogLevel  string `yaml:"log_level" mapstructure:"log_level"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format"`

	// TranscriptDir is where exit transcripts land; empty means the
	// working directory.
	TranscriptDir string `yaml:"transcript_dir" mapstructure:"transcript_dir"`
}

// LLMConfig selects and tunes the reasoning model provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	Model       string  `yaml:"model" mapstructure:"model"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GatewayConfig points at the tool gateway.
type GatewayConfig struct {
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	SearchTimeout  int    `yaml:"search_timeout" mapstructure:"search_timeout"`
	ExecuteTimeout int    `yaml:"execute_timeout" mapstructure:"execute_timeout"`
}

// PromptsConfig overrides the embedded prompt files.
type PromptsConfig struct {
	Dir   string `yaml:"dir" mapstructure:"dir"`
	Watch bool   `yaml:"watch" mapstructure:"watch"`
}

// MemoryConfig tunes the background memory agent.
type MemoryConfig struct {
	TickSeconds                   int `yaml:"tick_seconds" mapstructure:"tick_seconds"`
	TodoListInterval              int `yaml:"todo_list_interval" mapstructure:"todo_list_interval"`
	ConversationStateInterval     int `yaml:"conversation_state_interval" mapstructure:"conversation_state_interval"`
	ConversationCompressionInterval int `yaml:"conversation_compression_interval" mapstructure:"conversation_compression_interval"`
	MaxConcurrentUpdates          int `yaml:"max_concurrent_updates" mapstructure:"max_concurrent_updates"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills unset fields. The provider is detected from the
// environment when not configured: a GEMINI_API_KEY selects gemini,
// otherwise an OPENAI_API_KEY selects openai.
func (c *Config) SetDefaults() {
	if c.LLM.Provider == "" {
		switch {
		case os.Getenv("GEMINI_API_KEY") != "":
			c.LLM.Provider = "gemini"
		case os.Getenv("OPENAI_API_KEY") != "":
			c.LLM.Provider = "openai"
		default:
			c.LLM.Provider = "gemini"
		}
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = ProviderAPIKey(c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.Model = "gpt-4o"
		default:
			c.LLM.Model = "gemini-2.5-pro"
		}
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}

	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = "http://localhost:8080"
	}
	if c.Gateway.SearchTimeout == 0 {
		c.Gateway.SearchTimeout = 30
	}
	if c.Gateway.ExecuteTimeout == 0 {
		c.Gateway.ExecuteTimeout = 60
	}

	if c.Memory.TickSeconds == 0 {
		c.Memory.TickSeconds = 5
	}
	if c.Memory.TodoListInterval == 0 {
		c.Memory.TodoListInterval = 1
	}
	if c.Memory.ConversationStateInterval == 0 {
		c.Memory.ConversationStateInterval = 1
	}
	if c.Memory.ConversationCompressionInterval == 0 {
		c.Memory.ConversationCompressionInterval = 5
	}
	if c.Memory.MaxConcurrentUpdates == 0 {
		c.Memory.MaxConcurrentUpdates = 4
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "simple"
	}
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unknown llm provider: %q", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("no API key configured for %s (set %s)", c.LLM.Provider, apiKeyEnvVar(c.LLM.Provider))
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway base_url is required")
	}
	if c.Memory.TickSeconds <= 0 {
		return fmt.Errorf("memory tick_seconds must be positive")
	}
	if c.Memory.TodoListInterval <= 0 || c.Memory.ConversationStateInterval <= 0 || c.Memory.ConversationCompressionInterval <= 0 {
		return fmt.Errorf("memory update intervals must be positive")
	}
	return nil
}

// Load reads a YAML config file, expands environment references and
// applies defaults. An empty path yields the defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		expanded := ExpandEnvVarsInData(raw)
		if err := mapstructure.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
