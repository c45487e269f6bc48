package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Plan construction error codes
const (
	ErrStepNotFound       ErrorCode = "STEP_NOT_FOUND"
	ErrCircularDependency ErrorCode = "CIRCULAR_DEPENDENCY"
	ErrInvalidPlan        ErrorCode = "INVALID_PLAN"
)

// Execution error codes
const (
	ErrToolDispatch ErrorCode = "TOOL_DISPATCH"
	ErrCircuitOpen  ErrorCode = "CIRCUIT_OPEN"
	ErrCancelled    ErrorCode = "CANCELLED"
)

// Validation error codes
const (
	ErrValidation ErrorCode = "VALIDATION"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	StepID    string    `json:"step_id,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s (after %d attempts)", msg, e.Attempts)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithStepID attaches the step the error belongs to.
func (e *Error) WithStepID(stepID string) *Error {
	e.StepID = stepID
	return e
}

// WithAttempts records how many attempts were made before giving up.
func (e *Error) WithAttempts(attempts int) *Error {
	e.Attempts = attempts
	return e
}

// NewStepNotFoundError reports a reference to a step id that is not in the graph.
func NewStepNotFoundError(stepID string) *Error {
	return NewError(ErrStepNotFound, fmt.Sprintf("step not found: %s", stepID)).
		WithStepID(stepID)
}

// NewCircularDependencyError reports that making stepID depend on dependsOnID closes a cycle.
func NewCircularDependencyError(stepID, dependsOnID string) *Error {
	return NewError(ErrCircularDependency,
		fmt.Sprintf("dependency %s -> %s would create a cycle", stepID, dependsOnID)).
		WithStepID(stepID)
}

// NewToolDispatchError wraps a failed capability call.
func NewToolDispatchError(stepID, tool string, cause error) *Error {
	return NewError(ErrToolDispatch, fmt.Sprintf("dispatch of %s failed", tool)).
		WithStepID(stepID).
		WithRetryable(true).
		WithCause(cause)
}

// NewValidationError reports an internal failure of the result validator.
func NewValidationError(message string, cause error) *Error {
	return NewError(ErrValidation, message).WithCause(cause)
}

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether any error in the chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
