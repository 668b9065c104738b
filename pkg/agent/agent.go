// Package agent implements the action state machine that drives a
// conversation: it dispatches the reasoning model per action kind,
// validates the proposed transitions, executes tool search and tool calls
// through the gateway, and records every action into the DAG memory.
package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"

	"github.com/dagent-ai/dagent/pkg/action"
	"github.com/dagent-ai/dagent/pkg/memory"
)

const (
	// MaxActions bounds the number of transitions in one step.
	MaxActions = 10

	// ActionMaxRetries bounds re-invocations of the model after an
	// invalid transition or unparseable response.
	ActionMaxRetries = 3
)

// ModelProvider generates completions. Satisfied by llms.Provider.
type ModelProvider interface {
	Generate(ctx context.Context, prompt, system string) (string, error)
}

// ToolGateway executes tool search and invocation. Satisfied by
// gateway.Client.
type ToolGateway interface {
	CreateSession(ctx context.Context) (string, error)
	SearchTools(ctx context.Context, query string) (string, error)
	ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// PromptSource resolves prompt text by action kind. Satisfied by
// prompt.Store.
type PromptSource interface {
	PromptFor(kind action.Kind) (string, error)
	ToolPreamble() (string, error)
}

// transitions is the only legal next-kind set per state. The model's
// proposals are validated against it after parsing.
var transitions = map[action.Kind][]action.Kind{
	action.KindProcessUserInput: {
		action.KindAgentPlanning,
		action.KindAgentToolSearch,
		action.KindAgentToolExecution,
		action.KindAgentResponse,
	},
	action.KindAgentPlanning: {
		action.KindAgentToolSearch,
		action.KindAgentResponse,
	},
	action.KindProcessAgentToolSearchResult: {
		action.KindAgentPlanning,
		action.KindAgentToolExecution,
		action.KindAgentResponse,
	},
	action.KindProcessAgentToolExecutionResult: {
		action.KindAgentPlanning,
		action.KindAgentResponse,
		action.KindAgentToolExecution,
	},
	action.KindAgentResponse: {
		action.KindProcessUserInput,
		action.KindAwaitUserInput,
	},
	action.KindAwaitUserInput: {},
}

// AllowedNextKinds returns the legal transitions out of the given kind.
func AllowedNextKinds(kind action.Kind) []action.Kind {
	return transitions[kind]
}

// actionResult is what one transition produced: the recorded text, the
// next kind, and the parameters the next transition needs.
type actionResult struct {
	text   string
	next   action.Kind
	params map[string]any
}

type handlerFunc func(ctx context.Context, userInput, renderedContext string, params map[string]any) (actionResult, error)

// Agent is the action state machine.
type Agent struct {
	dag     *memory.DAG
	model   ModelProvider
	gateway ToolGateway
	prompts PromptSource

	logger        *slog.Logger
	input         io.Reader
	output        io.Writer
	transcriptDir string

	running  atomic.Bool
	handlers map[action.Kind]handlerFunc
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// WithIO replaces the console streams; used by the tests.
func WithIO(input io.Reader, output io.Writer) Option {
	return func(a *Agent) {
		a.input = input
		a.output = output
	}
}

// WithTranscriptDir sets where exit transcripts are written.
func WithTranscriptDir(dir string) Option {
	return func(a *Agent) { a.transcriptDir = dir }
}

// New creates an Agent over the given collaborators.
func New(dag *memory.DAG, model ModelProvider, gw ToolGateway, prompts PromptSource, opts ...Option) *Agent {
	a := &Agent{
		dag:     dag,
		model:   model,
		gateway: gw,
		prompts: prompts,
		logger:  slog.Default(),
		input:   os.Stdin,
		output:  os.Stdout,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.handlers = map[action.Kind]handlerFunc{
		action.KindProcessUserInput: func(ctx context.Context, userInput, renderedContext string, _ map[string]any) (actionResult, error) {
			joined := renderedContext + "\n\nUSER: " + userInput
			return a.runModelAction(ctx, action.KindProcessUserInput, joined)
		},
		action.KindAgentPlanning: func(ctx context.Context, _, renderedContext string, _ map[string]any) (actionResult, error) {
			return a.runModelAction(ctx, action.KindAgentPlanning, renderedContext)
		},
		action.KindProcessAgentToolSearchResult: func(ctx context.Context, _, renderedContext string, _ map[string]any) (actionResult, error) {
			return a.runModelAction(ctx, action.KindProcessAgentToolSearchResult, renderedContext)
		},
		action.KindProcessAgentToolExecutionResult: func(ctx context.Context, _, renderedContext string, _ map[string]any) (actionResult, error) {
			return a.runModelAction(ctx, action.KindProcessAgentToolExecutionResult, renderedContext)
		},
		action.KindAgentResponse: func(ctx context.Context, _, renderedContext string, _ map[string]any) (actionResult, error) {
			return a.runModelAction(ctx, action.KindAgentResponse, renderedContext)
		},
		action.KindAgentToolSearch: func(ctx context.Context, _, _ string, params map[string]any) (actionResult, error) {
			return a.runToolSearch(ctx, params)
		},
		action.KindAgentToolExecution: func(ctx context.Context, _, _ string, params map[string]any) (actionResult, error) {
			return a.runToolExecution(ctx, params)
		},
		action.KindAwaitUserInput: func(context.Context, string, string, map[string]any) (actionResult, error) {
			return actionResult{next: action.KindAwaitUserInput}, nil
		},
	}
	return a
}

// Memory returns the agent's DAG.
func (a *Agent) Memory() *memory.DAG {
	return a.dag
}

// Running reports whether the console loop is active. The memory agent
// polls this to know when to stop.
func (a *Agent) Running() bool {
	return a.running.Load()
}

// prompt fetches the kind's prompt with the tool preamble in front.
func (a *Agent) prompt(kind action.Kind) (string, error) {
	text, err := a.prompts.PromptFor(kind)
	if err != nil {
		return "", err
	}
	preamble, err := a.prompts.ToolPreamble()
	if err != nil {
		return "", err
	}
	return preamble + "\n\n" + text, nil
}

// runModelAction invokes the model and validates the proposed transition,
// re-invoking on the unchanged context and prompt when the proposal is
// outside the allowed set or unparseable. Transport failures abort.
func (a *Agent) runModelAction(ctx context.Context, kind action.Kind, renderedContext string) (actionResult, error) {
	system, err := a.prompt(kind)
	if err != nil {
		return actionResult{}, err
	}
	allowed := transitions[kind]

	for attempt := 0; attempt <= ActionMaxRetries; attempt++ {
		raw, err := a.model.Generate(ctx, renderedContext, system)
		if err != nil {
			return actionResult{}, fmt.Errorf("model call failed for %s: %w", kind, err)
		}

		text, next, params, err := ParseResponse(raw, kind)
		if err != nil {
			a.logger.Warn("Unparseable model response", "kind", kind, "attempt", attempt+1, "error", err)
			continue
		}
		if !contains(allowed, next) {
			a.logger.Warn("Model proposed illegal transition", "kind", kind, "proposed", next, "attempt", attempt+1)
			continue
		}
		return actionResult{text: text, next: next, params: params}, nil
	}
	return actionResult{}, &PolicyViolationError{Kind: kind}
}

// runToolSearch performs the deterministic tool-search transition. Gateway
// failures become the recorded result text so the model sees them and the
// loop continues.
func (a *Agent) runToolSearch(ctx context.Context, params map[string]any) (actionResult, error) {
	var p struct {
		ToolSearchQuery string `mapstructure:"tool_search_query"`
	}
	if err := mapstructure.Decode(params, &p); err != nil || p.ToolSearchQuery == "" {
		return actionResult{}, fmt.Errorf("%w: tool_search_query is required for %s", ErrInvalidAction, action.KindAgentToolSearch)
	}

	result, err := a.gateway.SearchTools(ctx, p.ToolSearchQuery)
	if err != nil {
		a.logger.Warn("Tool search failed", "query", p.ToolSearchQuery, "error", err)
		result = err.Error()
	}
	return actionResult{text: result, next: action.KindProcessAgentToolSearchResult, params: params}, nil
}

// runToolExecution performs the deterministic tool-execution transition.
func (a *Agent) runToolExecution(ctx context.Context, params map[string]any) (actionResult, error) {
	var p struct {
		ToolName string         `mapstructure:"tool_name"`
		ToolArgs map[string]any `mapstructure:"tool_args"`
	}
	if err := mapstructure.Decode(params, &p); err != nil || p.ToolName == "" {
		return actionResult{}, fmt.Errorf("%w: tool_name is required for %s", ErrInvalidAction, action.KindAgentToolExecution)
	}
	if _, ok := params["tool_args"]; !ok {
		return actionResult{}, fmt.Errorf("%w: tool_args is required for %s", ErrInvalidAction, action.KindAgentToolExecution)
	}

	result, err := a.gateway.ExecuteTool(ctx, p.ToolName, p.ToolArgs)
	if err != nil {
		a.logger.Warn("Tool execution failed", "tool", p.ToolName, "error", err)
		result = err.Error()
	}
	return actionResult{text: result, next: action.KindProcessAgentToolExecutionResult, params: params}, nil
}

// runAction dispatches one transition to its handler.
func (a *Agent) runAction(ctx context.Context, userInput, renderedContext string, kind action.Kind, params map[string]any) (actionResult, error) {
	handler, ok := a.handlers[kind]
	if !ok {
		return actionResult{}, fmt.Errorf("%w: no handler for kind %s", ErrInvalidAction, kind)
	}
	return handler(ctx, userInput, renderedContext, params)
}

// RunStep drives one full step for a user utterance: up to MaxActions
// transitions, each appended to the DAG under the kind that produced it,
// then a step summary closing the step. The caller appends the USER_INPUT
// action before invoking RunStep. Returns the final agent response text,
// or empty when the step ended without one.
func (a *Agent) RunStep(ctx context.Context, userInput string) (string, error) {
	current := action.KindProcessUserInput
	prev := current
	var params map[string]any
	var finalResponse string

	for count := 0; count < MaxActions; count++ {
		a.logger.Debug("Running action", "count", count+1, "max", MaxActions, "kind", current)

		renderedContext := a.dag.GetCurrentContext()
		result, err := a.runAction(ctx, userInput, renderedContext, current, params)
		if err != nil {
			return "", err
		}

		var opts []memory.AddOption
		if result.params != nil {
			opts = append(opts, memory.WithActionParameters(result.params))
			if query, ok := result.params["tool_search_query"].(string); ok {
				opts = append(opts, memory.WithToolSearchQuery(query))
			}
		}
		if _, err := a.dag.AddAction(result.text, prev, opts...); err != nil {
			return "", fmt.Errorf("failed to record action: %w", err)
		}

		if prev == action.KindAgentResponse {
			finalResponse = result.text
		}
		prev = result.next
		current = result.next
		params = result.params

		if current == action.KindAwaitUserInput {
			break
		}
	}

	if err := a.summarizeStep(ctx); err != nil {
		return finalResponse, err
	}
	return finalResponse, nil
}

// summarizeStep generates the step summary over the full history and
// appends it as the step-boundary node.
func (a *Agent) summarizeStep(ctx context.Context) error {
	system, err := a.prompt(action.KindStepSummary)
	if err != nil {
		return err
	}
	raw, err := a.model.Generate(ctx, a.dag.GetContext(), system)
	if err != nil {
		return fmt.Errorf("model call failed for %s: %w", action.KindStepSummary, err)
	}
	summary, _, _, err := ParseResponse(raw, action.KindStepSummary)
	if err != nil {
		return err
	}
	if _, err := a.dag.AddAction(summary, action.KindStepSummary); err != nil {
		return fmt.Errorf("failed to record step summary: %w", err)
	}
	return nil
}

// Run is the console loop: read a line, record it, drive a step, print
// the response. "exit" writes the transcript and terminates.
func (a *Agent) Run(ctx context.Context) error {
	a.running.Store(true)
	defer a.running.Store(false)

	scanner := bufio.NewScanner(a.input)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	fmt.Fprintln(a.output, "Agent is running. Type 'exit' to quit.")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(a.output, "You: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()

		if strings.EqualFold(strings.TrimSpace(line), "exit") {
			path, err := memory.WriteTranscript(a.dag, a.transcriptDir)
			if err != nil {
				a.logger.Error("Failed to save transcript", "error", err)
				return err
			}
			fmt.Fprintf(a.output, "Agent context saved to %s\n", path)
			return nil
		}

		if _, err := a.dag.AddAction(line, action.KindUserInput); err != nil {
			return fmt.Errorf("failed to record user input: %w", err)
		}
		response, err := a.RunStep(ctx, line)
		if err != nil {
			// The step aborts but the session survives.
			a.logger.Error("Step failed", "error", err)
			fmt.Fprintf(a.output, "Error: %v\n", err)
			continue
		}
		if response != "" {
			fmt.Fprintf(a.output, "Agent: %s\n", response)
		}
	}
}

func contains(kinds []action.Kind, kind action.Kind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
