package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dagent-ai/dagent/pkg/action"
)

// ParseReason classifies parser failures.
type ParseReason string

const (
	ReasonInvalidJSON  ParseReason = "invalid_json"
	ReasonMissingField ParseReason = "missing_field"
	ReasonInvalidField ParseReason = "invalid_field"
	ReasonUnknownKind  ParseReason = "unknown_action_kind"
)

// ParseError reports a model response the parser could not accept.
type ParseError struct {
	Reason ParseReason
	Field  string
	Detail string
}

func (e *ParseError) Error() string {
	switch e.Reason {
	case ReasonMissingField:
		return fmt.Sprintf("response missing required field %q", e.Field)
	case ReasonInvalidField:
		return fmt.Sprintf("response field %q is malformed: %s", e.Field, e.Detail)
	case ReasonUnknownKind:
		return fmt.Sprintf("invalid action kind in response: %s", e.Detail)
	default:
		return fmt.Sprintf("response is not valid JSON: %s", e.Detail)
	}
}

// stripFences removes a leading ```json or ``` marker and a trailing ```
// so fenced and unfenced payloads parse identically.
func stripFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = cleaned[len("```json"):]
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = cleaned[len("```"):]
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}

// ParseResponse extracts (text, next kind, parameters) from a raw model
// response produced by the given action kind.
//
// AGENT_RESPONSE responses terminate the step: any proposed next_action is
// ignored and AWAIT_USER_INPUT is returned. Memory-update and step-summary
// responses carry no transition and echo their own kind. Every other kind
// must propose a known next_action; AGENT_TOOL_SEARCH proposals must also
// carry a parameter object.
func ParseResponse(raw string, kind action.Kind) (string, action.Kind, map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(stripFences(raw)), &data); err != nil {
		return "", "", nil, &ParseError{Reason: ReasonInvalidJSON, Detail: err.Error()}
	}

	text, _ := data["response"].(string)
	if text == "" {
		return "", "", nil, &ParseError{Reason: ReasonMissingField, Field: "response"}
	}

	if kind == action.KindAgentResponse {
		return text, action.KindAwaitUserInput, nil, nil
	}
	if kind.IsUpdate() || kind == action.KindStepSummary {
		return text, kind, nil, nil
	}

	name, _ := data["next_action"].(string)
	if name == "" {
		return "", "", nil, &ParseError{Reason: ReasonMissingField, Field: "next_action"}
	}
	next, err := action.ParseKind(name)
	if err != nil {
		return "", "", nil, &ParseError{Reason: ReasonUnknownKind, Detail: name}
	}

	rawParams, present := data["next_action_parameters"]
	params, isMap := rawParams.(map[string]any)
	if next == action.KindAgentToolSearch {
		if !present || rawParams == nil {
			return "", "", nil, &ParseError{Reason: ReasonMissingField, Field: "next_action_parameters"}
		}
		if !isMap {
			return "", "", nil, &ParseError{
				Reason: ReasonInvalidField,
				Field:  "next_action_parameters",
				Detail: fmt.Sprintf("expected an object, got %T", rawParams),
			}
		}
		if len(params) == 0 {
			return "", "", nil, &ParseError{Reason: ReasonMissingField, Field: "next_action_parameters"}
		}
		return text, next, params, nil
	}

	if present && rawParams != nil && !isMap {
		return "", "", nil, &ParseError{
			Reason: ReasonInvalidField,
			Field:  "next_action_parameters",
			Detail: fmt.Sprintf("expected an object, got %T", rawParams),
		}
	}
	return text, next, params, nil
}
