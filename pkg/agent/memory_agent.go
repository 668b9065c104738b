package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/dagent-ai/dagent/pkg/action"
	"github.com/dagent-ai/dagent/pkg/memory"
)

// MemoryAgent refreshes the derived memories on the DAG concurrently with
// the core agent. Each tick samples the step count and HEAD, then launches
// background updates for whichever fields are due. Updates never change
// the graph topology; they only append NodeMemory entries.
type MemoryAgent struct {
	dag     *memory.DAG
	model   ModelProvider
	prompts PromptSource
	logger  *slog.Logger

	tick                time.Duration
	todoInterval        int
	stateInterval       int
	compressionInterval int

	// Slow ticks must not pile up duplicate or unbounded model calls:
	// workers is the concurrency cap and group collapses updates keyed
	// by (node, field).
	workers *semaphore.Weighted
	group   singleflight.Group

	running func() bool
}

// MemoryAgentOption configures a MemoryAgent.
type MemoryAgentOption func(*MemoryAgent)

// WithMemoryLogger replaces the default logger.
func WithMemoryLogger(logger *slog.Logger) MemoryAgentOption {
	return func(m *MemoryAgent) { m.logger = logger }
}

// WithTick sets the sampling interval.
func WithTick(tick time.Duration) MemoryAgentOption {
	return func(m *MemoryAgent) { m.tick = tick }
}

// WithUpdateIntervals sets the per-field step intervals.
func WithUpdateIntervals(todo, state, compression int) MemoryAgentOption {
	return func(m *MemoryAgent) {
		m.todoInterval = todo
		m.stateInterval = state
		m.compressionInterval = compression
	}
}

// WithMaxConcurrentUpdates caps in-flight background updates.
func WithMaxConcurrentUpdates(n int) MemoryAgentOption {
	return func(m *MemoryAgent) { m.workers = semaphore.NewWeighted(int64(n)) }
}

// WithRunningCheck stops the agent when the check reports false; wired to
// the core agent's Running method.
func WithRunningCheck(check func() bool) MemoryAgentOption {
	return func(m *MemoryAgent) { m.running = check }
}

// NewMemoryAgent creates a memory agent over the shared DAG.
func NewMemoryAgent(dag *memory.DAG, model ModelProvider, prompts PromptSource, opts ...MemoryAgentOption) *MemoryAgent {
	m := &MemoryAgent{
		dag:                 dag,
		model:               model,
		prompts:             prompts,
		logger:              slog.Default(),
		tick:                5 * time.Second,
		todoInterval:        1,
		stateInterval:       1,
		compressionInterval: 5,
		workers:             semaphore.NewWeighted(4),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run ticks until the context is cancelled or the core agent stops.
func (m *MemoryAgent) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.running != nil && !m.running() {
				return
			}
			m.sample(ctx)
		}
	}
}

// sample reads the DAG once and launches whichever updates are due for
// the observed HEAD.
func (m *MemoryAgent) sample(ctx context.Context) {
	head := m.dag.CurrentID()
	if head == "" {
		return
	}
	renderedContext := m.dag.GetCurrentContext()
	if renderedContext == "" {
		return
	}
	steps := m.dag.GetStepCount()

	if steps%m.todoInterval == 0 {
		m.launch(ctx, head, renderedContext, memory.FieldTodoList, action.KindUpdateTodoList)
	}
	if steps%m.stateInterval == 0 {
		m.launch(ctx, head, renderedContext, memory.FieldConversationState, action.KindUpdateConversationState)
	}
	if steps%m.compressionInterval == 0 {
		m.launch(ctx, head, renderedContext, memory.FieldConversationCompression, action.KindUpdateConversationCompression)
	}
}

// launch runs one derived-memory update in the background. Failures are
// logged, never fatal.
func (m *MemoryAgent) launch(ctx context.Context, nodeID, renderedContext string, field memory.MemoryField, kind action.Kind) {
	key := nodeID + "/" + string(field)
	go func() {
		_, err, _ := m.group.Do(key, func() (any, error) {
			if err := m.workers.Acquire(ctx, 1); err != nil {
				return nil, err
			}
			defer m.workers.Release(1)

			value, err := m.generate(ctx, kind, renderedContext, field)
			if err != nil {
				return nil, err
			}
			return nil, m.apply(nodeID, field, value)
		})
		if err != nil {
			m.logger.Error("Memory update failed", "node_id", nodeID, "field", field, "error", err)
		}
	}()
}

// generate invokes the model with the field's update prompt and parses
// the result. Conversation state must decode as a JSON object; malformed
// output is retried before giving up.
func (m *MemoryAgent) generate(ctx context.Context, kind action.Kind, renderedContext string, field memory.MemoryField) (string, error) {
	system, err := m.prompts.PromptFor(kind)
	if err != nil {
		return "", err
	}

	attempts := 0
	for attempt := 0; attempt <= ActionMaxRetries; attempt++ {
		attempts++
		raw, err := m.model.Generate(ctx, renderedContext, system)
		if err != nil {
			return "", err
		}
		text, _, _, err := ParseResponse(raw, kind)
		if err != nil {
			m.logger.Warn("Unparseable memory update", "kind", kind, "attempt", attempts, "error", err)
			continue
		}
		if field == memory.FieldConversationState && !isJSONObject(text) {
			m.logger.Warn("Conversation state is not a JSON object", "attempt", attempts)
			continue
		}
		return text, nil
	}
	return "", &MemoryFormatError{Field: string(field), Attempts: attempts}
}

func (m *MemoryAgent) apply(nodeID string, field memory.MemoryField, value string) error {
	switch field {
	case memory.FieldTodoList:
		return m.dag.SetTodoList(nodeID, value)
	case memory.FieldConversationState:
		return m.dag.SetConversationState(nodeID, value)
	case memory.FieldConversationCompression:
		return m.dag.SetConversationCompression(nodeID, value)
	case memory.FieldBranchBacktrackSummary:
		return m.dag.SetBranchBacktrackSummary(nodeID, value)
	}
	return fmt.Errorf("unknown memory field: %s", field)
}

// UpdateBranchBacktrackSummary summarizes an abandoned branch onto the
// backtracked-to node. Called on demand after a backtrack rather than on
// the tick schedule.
func (m *MemoryAgent) UpdateBranchBacktrackSummary(ctx context.Context, nodeID string) error {
	node, err := m.dag.GetNodeByID(nodeID)
	if err != nil {
		return err
	}
	renderedContext, err := m.dag.GetContextBetweenNodes(node.NodeID, m.dag.RootID())
	if err != nil {
		return err
	}
	value, err := m.generate(ctx, action.KindUpdateBranchBacktrackSummary, renderedContext, memory.FieldBranchBacktrackSummary)
	if err != nil {
		return err
	}
	return m.dag.SetBranchBacktrackSummary(nodeID, value)
}

func isJSONObject(text string) bool {
	var decoded map[string]any
	return json.Unmarshal([]byte(text), &decoded) == nil
}
