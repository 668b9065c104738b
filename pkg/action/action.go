// Package action defines the typed action records and transition labels
// shared by the agent runtime and the DAG memory.
package action

import (
	"fmt"
	"time"
)

// Kind is the closed set of action/transition labels.
type Kind string

const (
	KindUserInput                        Kind = "USER_INPUT"
	KindProcessUserInput                 Kind = "PROCESS_USER_INPUT"
	KindAgentPlanning                    Kind = "AGENT_PLANNING"
	KindAgentToolSearch                  Kind = "AGENT_TOOL_SEARCH"
	KindProcessAgentToolSearchResult     Kind = "PROCESS_AGENT_TOOL_SEARCH_RESULT"
	KindAgentToolExecution               Kind = "AGENT_TOOL_EXECUTION"
	KindProcessAgentToolExecutionResult  Kind = "PROCESS_AGENT_TOOL_EXECUTION_RESULT"
	KindAgentResponse                    Kind = "AGENT_RESPONSE"
	KindAwaitUserInput                   Kind = "AWAIT_USER_INPUT"
	KindStepSummary                      Kind = "STEP_SUMMARY"
	KindUpdateTodoList                   Kind = "UPDATE_TODO_LIST"
	KindUpdateConversationState          Kind = "UPDATE_CONVERSATION_STATE"
	KindUpdateConversationCompression    Kind = "UPDATE_CONVERSATION_COMPRESSION"
	KindUpdateBranchBacktrackSummary     Kind = "UPDATE_BRANCH_BACKTRACK_SUMMARY"
	KindDefault                          Kind = "DEFAULT"
)

var kinds = map[Kind]bool{
	KindUserInput:                       true,
	KindProcessUserInput:                true,
	KindAgentPlanning:                   true,
	KindAgentToolSearch:                 true,
	KindProcessAgentToolSearchResult:    true,
	KindAgentToolExecution:              true,
	KindProcessAgentToolExecutionResult: true,
	KindAgentResponse:                   true,
	KindAwaitUserInput:                  true,
	KindStepSummary:                     true,
	KindUpdateTodoList:                  true,
	KindUpdateConversationState:         true,
	KindUpdateConversationCompression:   true,
	KindUpdateBranchBacktrackSummary:    true,
	KindDefault:                         true,
}

// UnknownKindError reports a label outside the closed Kind set.
type UnknownKindError struct {
	Name string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown action kind: %q", e.Name)
}

// ParseKind converts a string label to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !kinds[k] {
		return "", &UnknownKindError{Name: s}
	}
	return k, nil
}

// Valid reports whether k is a member of the closed Kind set.
func (k Kind) Valid() bool {
	return kinds[k]
}

// IsUpdate reports whether k is one of the derived-memory update kinds.
func (k Kind) IsUpdate() bool {
	switch k {
	case KindUpdateTodoList, KindUpdateConversationState,
		KindUpdateConversationCompression, KindUpdateBranchBacktrackSummary:
		return true
	}
	return false
}

// Action is a single recorded event: model output, tool call, tool result
// or summary. Actions are immutable by convention; they are created by the
// DAG memory and never destroyed.
//
// Field names mirror the wire/rendering format, so an Action pretty-prints
// the same way across implementations.
type Action struct {
	// ID is the insertion count at creation time, as a string.
	ID        string    `json:"id"`
	Kind      Kind      `json:"action_type"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`

	// ToolName and ToolArgs are set for AGENT_TOOL_EXECUTION actions.
	ToolName string         `json:"tool_name,omitempty"`
	ToolArgs map[string]any `json:"tool_args,omitempty"`

	// ToolResult duplicates Content for tool search/execution actions.
	ToolResult string `json:"tool_result,omitempty"`

	Metadata         map[string]any `json:"metadata"`
	ActionParameters map[string]any `json:"action_parameters"`

	// ToolSearchQuery is set for AGENT_TOOL_SEARCH actions.
	ToolSearchQuery string `json:"tool_search_query,omitempty"`
}
