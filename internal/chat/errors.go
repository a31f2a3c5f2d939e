package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated means no current user could be resolved.
	ErrNotAuthenticated = errors.New("chat: not authenticated")

	// ErrEmptyText rejects messages with no content at creation.
	ErrEmptyText = errors.New("chat: message text must not be empty")

	// ErrMissingMessageID aborts a delete whose target was never persisted.
	ErrMissingMessageID = errors.New("chat: message has no id")

	// ErrDecode marks a stored document that does not match the expected
	// message shape. Streams skip and log these; they never halt.
	ErrDecode = errors.New("chat: malformed document")
)

// StepError reports the failure of one step of a multi-location write. Steps
// fail independently: a StepError for one location says nothing about the
// others, which are still attempted.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("chat: %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
