package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrCanceled is passed to completion handlers of actions dropped
	// before they started.
	ErrCanceled = errors.New("action canceled")
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("queue closed")
	// ErrUnknownKind is returned by Enqueue for unregistered action kinds.
	ErrUnknownKind = errors.New("unknown action kind")
)

// ActionError wraps the failure of a single action run.
type ActionError struct {
	Kind     string
	ActionID string
	Err      error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s action %s: %v", e.Kind, e.ActionID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
