package toolweave

import (
	"context"
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeDecomposition       = "DECOMPOSITION_ERROR"
	ErrCodeUnresolvedReference = "UNRESOLVED_REFERENCE"
	ErrCodeToolNotFound        = "TOOL_NOT_FOUND"
	ErrCodeInvalidParams       = "INVALID_PARAMETERS"
	ErrCodeToolExecution       = "TOOL_EXECUTION_ERROR"
	ErrCodeSelection           = "SELECTION_ERROR"
	ErrCodeScheduling          = "SCHEDULING_ERROR"
	ErrCodeSynthesis           = "SYNTHESIS_ERROR"
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
	ErrCodeCancelled           = "EXECUTION_CANCELLED"
	ErrCodeTimeout             = "EXECUTION_TIMEOUT"
	ErrCodeCache               = "CACHE_ERROR"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// Error is the error type returned across the engine.
type Error struct {
	Code    string // A machine-readable error code (e.g., ErrCodeToolNotFound)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "decomposition", "execution")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, stage, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTerminal reports whether err must not be retried. Invalid tool names,
// invalid parameters, unresolved references and cancellation are terminal;
// everything else is treated as transient.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch CodeOf(err) {
	case ErrCodeToolNotFound, ErrCodeInvalidParams, ErrCodeUnresolvedReference,
		ErrCodeDecomposition, ErrCodeCancelled, ErrCodeConfiguration:
		return true
	}
	return false
}

func NewDecompositionError(message string, cause error) *Error {
	return NewError(ErrCodeDecomposition, "decomposition", message, cause)
}

func NewUnresolvedReferenceError(taskID string, ref Reference) *Error {
	msg := fmt.Sprintf("task '%s' references unknown task '%s' (%s)", taskID, ref.TaskID, ref.Placeholder())
	return NewError(ErrCodeUnresolvedReference, "decomposition", msg, nil)
}

func NewToolNotFoundError(stage, toolName string) *Error {
	return NewError(ErrCodeToolNotFound, stage, fmt.Sprintf("tool '%s' not found", toolName), nil)
}

func NewInvalidParamsError(stage, toolName string, cause error) *Error {
	return NewError(ErrCodeInvalidParams, stage, fmt.Sprintf("invalid parameters for tool '%s'", toolName), cause)
}

func NewToolExecutionError(stage, toolName string, cause error) *Error {
	return NewError(ErrCodeToolExecution, stage, fmt.Sprintf("execution failed for tool '%s'", toolName), cause)
}

func NewSelectionError(message string, cause error) *Error {
	return NewError(ErrCodeSelection, "selection", message, cause)
}

func NewSchedulingError(message string, cause error) *Error {
	return NewError(ErrCodeScheduling, "execution", message, cause)
}

func NewSynthesisError(cause error) *Error {
	return NewError(ErrCodeSynthesis, "synthesis", "failed to synthesize response", cause)
}

func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *Error {
	msg := "execution cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewTimeoutError(stage string, cause error) *Error {
	return NewError(ErrCodeTimeout, stage, "execution timed out", cause)
}

func NewCacheError(stage, operation string, cause error) *Error {
	return NewError(ErrCodeCache, stage, fmt.Sprintf("cache operation '%s' failed", operation), cause)
}

func NewInternalError(stage, message string, cause error) *Error {
	return NewError(ErrCodeInternal, stage, message, cause)
}
