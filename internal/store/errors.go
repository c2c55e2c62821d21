package store

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowNotFound is returned when a workflow id is unknown
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrTaskNotFound is returned when a task id is unknown
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotInProgress is returned when a terminal transition is
	// requested for a task that is not in progress
	ErrTaskNotInProgress = errors.New("task is not in progress")

	// ErrTaskTerminal is returned when a transition is requested for a
	// task already in a terminal state
	ErrTaskTerminal = errors.New("task is in a terminal state")
)

// ValidationError reports a malformed creation request. Nothing is mutated
// when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
