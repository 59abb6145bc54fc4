package workflow

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a workflow failure.
type ErrorCode string

const (
	// CodeLocatorNotFound means vision and the selector fallback both
	// failed to find an element.
	CodeLocatorNotFound ErrorCode = "LOCATOR_NOT_FOUND"

	// CodeRateLimited means the vision API signaled throttling. Handled
	// inside the retry loop; surfaces only in diagnostics.
	CodeRateLimited ErrorCode = "RATE_LIMITED"

	// CodeVerificationFailed means an action executed but the post-hoc
	// visual check disagreed. Per-photo, never a run failure.
	CodeVerificationFailed ErrorCode = "VERIFICATION_FAILED"

	// CodeFatalStageFailure means a scope-fatal stage exhausted every
	// strategy. Aborts the run.
	CodeFatalStageFailure ErrorCode = "FATAL_STAGE_FAILURE"

	// CodeBrowserFailure means the browser itself failed or became
	// unreachable.
	CodeBrowserFailure ErrorCode = "BROWSER_FAILURE"
)

// Error is a structured workflow failure with code, stage, and cause.
type Error struct {
	Code      ErrorCode
	Stage     Stage
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Code, e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Stage, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error for a stage.
func NewError(code ErrorCode, stage Stage, message string) *Error {
	return &Error{Code: code, Stage: stage, Message: message}
}

// WithCause attaches a cause and returns the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// AsRetryable marks the error as retryable at the stage level.
func (e *Error) AsRetryable() *Error {
	e.Retryable = true
	return e
}

// IsCode reports whether err is a workflow Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var wfErr *Error
	if errors.As(err, &wfErr) {
		return wfErr.Code == code
	}
	return false
}
