// Command dagent runs a tool-using conversational agent against an MCP
// tool gateway, with a DAG conversation memory maintained by a background
// memory agent.
//
// Usage:
//
//	dagent chat --config config.yaml
//	dagent chat --provider openai --model gpt-4o
//	dagent version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/dagent-ai/dagent"
	"github.com/dagent-ai/dagent/pkg/agent"
	"github.com/dagent-ai/dagent/pkg/config"
	"github.com/dagent-ai/dagent/pkg/gateway"
	"github.com/dagent-ai/dagent/pkg/llms"
	"github.com/dagent-ai/dagent/pkg/logger"
	"github.com/dagent-ai/dagent/pkg/memory"
	"github.com/dagent-ai/dagent/pkg/prompt"
)

// CLI defines the command-line interface.
type CLI struct {
	Chat    ChatCmd    `cmd:"" default:"1" help:"Start an interactive chat session."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	info := dagent.GetVersion()
	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.Main.Version != "(devel)" && bi.Main.Version != "" {
			info.Version = bi.Main.Version
		}
	}
	fmt.Println(info)
	return nil
}

// ChatCmd starts the interactive console loop.
type ChatCmd struct {
	Provider      string `help:"LLM provider (gemini, openai)."`
	Model         string `help:"Model name."`
	APIKey        string `name:"api-key" help:"API key (defaults to environment variable)."`
	BaseURL       string `name:"base-url" help:"Custom model API base URL."`
	GatewayURL    string `name:"gateway-url" help:"Tool gateway base URL."`
	PromptsDir    string `name:"prompts-dir" help:"Directory overriding the embedded prompts." type:"path"`
	WatchPrompts  bool   `name:"watch-prompts" help:"Reload prompt overrides on file changes."`
	TranscriptDir string `name:"transcript-dir" help:"Directory for exit transcripts." type:"path"`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		// Flag overrides may still produce a usable config; retry with
		// them applied before giving up on validation errors.
		if cli.Config != "" {
			return err
		}
		cfg = config.DefaultConfig()
		c.applyFlags(cfg)
		if verr := cfg.Validate(); verr != nil {
			return verr
		}
	} else {
		c.applyFlags(cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	// Config file logger settings apply only when no CLI flag or env var
	// already chose them.
	if cli.LogLevel == "" && os.Getenv("LOG_LEVEL") == "" && cli.LogFile == "" {
		logger.Init(logger.ParseLevel(cfg.LogLevel), os.Stderr, cfg.LogFormat)
	}

	model, err := llms.NewProvider(llms.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create model provider: %w", err)
	}
	defer model.Close()

	gw := gateway.NewClient(cfg.Gateway.BaseURL,
		gateway.WithSearchTimeout(time.Duration(cfg.Gateway.SearchTimeout)*time.Second),
		gateway.WithExecuteTimeout(time.Duration(cfg.Gateway.ExecuteTimeout)*time.Second),
	)

	var promptOpts []prompt.Option
	if cfg.Prompts.Dir != "" {
		promptOpts = append(promptOpts, prompt.WithDir(cfg.Prompts.Dir))
	}
	prompts := prompt.NewStore(promptOpts...)
	if cfg.Prompts.Watch && cfg.Prompts.Dir != "" {
		go func() {
			if err := prompts.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Prompt watch error", "error", err)
			}
		}()
	}

	dag := memory.NewDAG()

	coreAgent := agent.New(dag, model, gw, prompts,
		agent.WithLogger(slog.Default()),
		agent.WithTranscriptDir(cfg.TranscriptDir),
	)

	memoryAgent := agent.NewMemoryAgent(dag, model, prompts,
		agent.WithMemoryLogger(slog.Default()),
		agent.WithTick(time.Duration(cfg.Memory.TickSeconds)*time.Second),
		agent.WithUpdateIntervals(
			cfg.Memory.TodoListInterval,
			cfg.Memory.ConversationStateInterval,
			cfg.Memory.ConversationCompressionInterval,
		),
		agent.WithMaxConcurrentUpdates(cfg.Memory.MaxConcurrentUpdates),
		agent.WithRunningCheck(coreAgent.Running),
	)
	go memoryAgent.Run(ctx)

	slog.Info("Session starting", "provider", cfg.LLM.Provider, "model", model.ModelName(), "gateway", cfg.Gateway.BaseURL)
	return coreAgent.Run(ctx)
}

// applyFlags lets zero-config flags override file and default settings.
func (c *ChatCmd) applyFlags(cfg *config.Config) {
	if c.Provider != "" {
		cfg.LLM.Provider = c.Provider
		if c.Model == "" {
			cfg.LLM.Model = ""
		}
		if c.APIKey == "" {
			cfg.LLM.APIKey = ""
		}
		cfg.SetDefaults()
	}
	if c.Model != "" {
		cfg.LLM.Model = c.Model
	}
	if c.APIKey != "" {
		cfg.LLM.APIKey = c.APIKey
	}
	if c.BaseURL != "" {
		cfg.LLM.BaseURL = c.BaseURL
	}
	if c.GatewayURL != "" {
		cfg.Gateway.BaseURL = c.GatewayURL
	}
	if c.PromptsDir != "" {
		cfg.Prompts.Dir = c.PromptsDir
	}
	if c.WatchPrompts {
		cfg.Prompts.Watch = true
	}
	if c.TranscriptDir != "" {
		cfg.TranscriptDir = c.TranscriptDir
	}
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("dagent"),
		kong.Description("dagent - a tool-using conversational agent with DAG memory"),
		kong.UsageOnError(),
	)

	logLevel := cli.LogLevel
	if logLevel == "" {
		logLevel = os.Getenv("LOG_LEVEL")
	}
	if logLevel == "" {
		logLevel = "info"
	}
	logFormat := cli.LogFormat
	if logFormat == "" {
		logFormat = os.Getenv("LOG_FORMAT")
	}

	output := os.Stderr
	if logFile := cli.LogFile; logFile != "" {
		file, cleanup, err := logger.OpenLogFile(logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(logger.ParseLevel(logLevel), output, logFormat)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
