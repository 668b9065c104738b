package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagent-ai/dagent/pkg/action"
)

func TestParseResponseTransitions(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		kind       action.Kind
		wantText   string
		wantNext   action.Kind
		wantParams map[string]any
	}{
		{
			name:     "plain transition",
			raw:      `{"response": "thinking", "next_action": "AGENT_PLANNING"}`,
			kind:     action.KindProcessUserInput,
			wantText: "thinking",
			wantNext: action.KindAgentPlanning,
		},
		{
			name:     "agent response ignores next_action",
			raw:      `{"response": "Hi there", "next_action": "AGENT_PLANNING"}`,
			kind:     action.KindAgentResponse,
			wantText: "Hi there",
			wantNext: action.KindAwaitUserInput,
		},
		{
			name:     "agent response without next_action",
			raw:      `{"response": "Hi there"}`,
			kind:     action.KindAgentResponse,
			wantText: "Hi there",
			wantNext: action.KindAwaitUserInput,
		},
		{
			name:       "tool search carries parameters",
			raw:        `{"response": "searching", "next_action": "AGENT_TOOL_SEARCH", "next_action_parameters": {"tool_search_query": "calculator"}}`,
			kind:       action.KindProcessUserInput,
			wantText:   "searching",
			wantNext:   action.KindAgentToolSearch,
			wantParams: map[string]any{"tool_search_query": "calculator"},
		},
		{
			name:     "step summary echoes its kind",
			raw:      `{"response": "User greeted; agent replied."}`,
			kind:     action.KindStepSummary,
			wantText: "User greeted; agent replied.",
			wantNext: action.KindStepSummary,
		},
		{
			name:     "update kind echoes its kind",
			raw:      `{"response": "1. reply to user"}`,
			kind:     action.KindUpdateTodoList,
			wantText: "1. reply to user",
			wantNext: action.KindUpdateTodoList,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, next, params, err := ParseResponse(tt.raw, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantNext, next)
			assert.Equal(t, tt.wantParams, params)
		})
	}
}

func TestParseResponseFencedEqualsUnfenced(t *testing.T) {
	payload := `{"response": "ok", "next_action": "AGENT_RESPONSE"}`
	fenced := []string{
		payload,
		"```json\n" + payload + "\n```",
		"```\n" + payload + "\n```",
		"  ```json\n" + payload + "\n```  ",
	}

	for _, raw := range fenced {
		text, next, params, err := ParseResponse(raw, action.KindProcessUserInput)
		require.NoError(t, err, "raw: %q", raw)
		assert.Equal(t, "ok", text)
		assert.Equal(t, action.KindAgentResponse, next)
		assert.Nil(t, params)
	}
}

func TestParseResponseFailures(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		kind       action.Kind
		wantReason ParseReason
		wantField  string
	}{
		{
			name:       "invalid json",
			raw:        "not json at all",
			kind:       action.KindProcessUserInput,
			wantReason: ReasonInvalidJSON,
		},
		{
			name:       "missing response",
			raw:        `{"next_action": "AGENT_RESPONSE"}`,
			kind:       action.KindProcessUserInput,
			wantReason: ReasonMissingField,
			wantField:  "response",
		},
		{
			name:       "empty response",
			raw:        `{"response": "", "next_action": "AGENT_RESPONSE"}`,
			kind:       action.KindProcessUserInput,
			wantReason: ReasonMissingField,
			wantField:  "response",
		},
		{
			name:       "missing next_action",
			raw:        `{"response": "ok"}`,
			kind:       action.KindProcessUserInput,
			wantReason: ReasonMissingField,
			wantField:  "next_action",
		},
		{
			name:       "unknown kind",
			raw:        `{"response": "ok", "next_action": "LAUNCH_ROCKETS"}`,
			kind:       action.KindProcessUserInput,
			wantReason: ReasonUnknownKind,
		},
		{
			name:       "tool search without parameters",
			raw:        `{"response": "ok", "next_action": "AGENT_TOOL_SEARCH"}`,
			kind:       action.KindProcessUserInput,
			wantReason: ReasonMissingField,
			wantField:  "next_action_parameters",
		},
		{
			name:       "tool search with empty parameters",
			raw:        `{"response": "ok", "next_action": "AGENT_TOOL_SEARCH", "next_action_parameters": {}}`,
			kind:       action.KindProcessUserInput,
			wantReason: ReasonMissingField,
			wantField:  "next_action_parameters",
		},
		{
			name:       "tool search with non-object parameters",
			raw:        `{"response": "ok", "next_action": "AGENT_TOOL_SEARCH", "next_action_parameters": "calculator"}`,
			kind:       action.KindProcessUserInput,
			wantReason: ReasonInvalidField,
			wantField:  "next_action_parameters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := ParseResponse(tt.raw, tt.kind)
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, tt.wantReason, parseErr.Reason)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, parseErr.Field)
			}
		})
	}
}
