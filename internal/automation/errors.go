// Package automation orchestrates browser-driven automation runs: request
// validation, concurrency-gated admission, worker invocation, progress relay,
// screenshot management and run finalization.
package automation

import "fmt"

// ValidationError indicates a malformed automation request. It is raised
// before any run row exists, so a failed request leaves no state behind.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// DependencyMissingError indicates a referenced resume or cover letter does
// not exist. Checked before admission.
type DependencyMissingError struct {
	Kind string
	ID   string
}

func (e *DependencyMissingError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ProtocolError indicates the worker process violated the stdin/stdout
// contract: non-zero exit, empty output, or an unexpected result shape.
type ProtocolError struct {
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("worker protocol error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("worker protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}
