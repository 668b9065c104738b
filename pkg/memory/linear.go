package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dagent-ai/dagent/pkg/action"
)

// ContextSource renders a full transcript of recorded actions.
type ContextSource interface {
	GetContext() string
}

// WriteTranscript dumps the source's full context into a timestamped
// agent_context file under dir and returns the filename.
func WriteTranscript(source ContextSource, dir string) (string, error) {
	filename := fmt.Sprintf("agent_context_%s.txt", time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(source.GetContext()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	return path, nil
}

// Linear is a flat, ordered action log. It shares the DAG's action
// records and rendering but has no branching or derived memories.
type Linear struct {
	mu      sync.RWMutex
	actions []action.Action
}

// NewLinear creates an empty linear memory.
func NewLinear() *Linear {
	return &Linear{}
}

// AddAction appends an action to the log.
func (l *Linear) AddAction(content string, kind action.Kind, opts ...AddOption) action.Action {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	toolName, toolArgs := o.toolName, o.toolArgs
	toolSearchQuery, toolResult := o.toolSearchQuery, ""
	switch kind {
	case action.KindAgentToolSearch:
		if q, ok := o.actionParameters["tool_search_query"].(string); ok {
			toolSearchQuery = q
		}
		toolResult = content
	case action.KindAgentToolExecution:
		if n, ok := o.actionParameters["tool_name"].(string); ok {
			toolName = n
		}
		if a, ok := o.actionParameters["tool_args"].(map[string]any); ok {
			toolArgs = a
		}
		toolResult = content
	}

	metadata := o.metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	actionParameters := o.actionParameters
	if actionParameters == nil {
		actionParameters = map[string]any{}
	}

	act := action.Action{
		ID:               strconv.Itoa(len(l.actions)),
		Kind:             kind,
		Timestamp:        time.Now(),
		Content:          content,
		ToolName:         toolName,
		ToolArgs:         toolArgs,
		ToolResult:       toolResult,
		Metadata:         metadata,
		ActionParameters: actionParameters,
		ToolSearchQuery:  toolSearchQuery,
	}
	l.actions = append(l.actions, act)
	return act
}

// GetContext renders the full log in insertion order.
func (l *Linear) GetContext() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rendered := make([]string, 0, len(l.actions))
	for _, act := range l.actions {
		rendered = append(rendered, FormatAction(act))
	}
	return strings.Join(rendered, "\n")
}

// GetRecentContext renders the last maxActions entries.
func (l *Linear) GetRecentContext(maxActions int) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := len(l.actions) - maxActions
	if start < 0 {
		start = 0
	}
	rendered := make([]string, 0, len(l.actions)-start)
	for _, act := range l.actions[start:] {
		rendered = append(rendered, FormatAction(act))
	}
	return strings.Join(rendered, "\n")
}

// Clear resets the log.
func (l *Linear) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.actions = nil
}
