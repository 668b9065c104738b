package agent

import (
	"errors"
	"fmt"

	"github.com/dagent-ai/dagent/pkg/action"
)

// ErrInvalidAction indicates a tool transition proposed without its
// required parameters.
var ErrInvalidAction = errors.New("invalid action")

// PolicyViolationError reports a model that kept proposing transitions
// outside the allowed set until the retry budget ran out.
type PolicyViolationError struct {
	Kind action.Kind
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("failed to get a valid next action after %d retries from %s", ActionMaxRetries, e.Kind)
}

// MemoryFormatError reports a derived-memory generator whose output never
// met its format requirement.
type MemoryFormatError struct {
	Field    string
	Attempts int
}

func (e *MemoryFormatError) Error() string {
	return fmt.Sprintf("failed to generate well-formed %s after %d attempts", e.Field, e.Attempts)
}
