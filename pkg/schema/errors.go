package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStepCompile       = "STEP_COMPILE_FAILED"
	ErrCodeDriver            = "DRIVER_FAILED"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
	ErrCodeEvaluation        = "EVALUATION_ERROR"
	ErrCodeScheduleExhausted = "SCHEDULE_EXHAUSTED"
	ErrCodeQueueShutdown     = "QUEUE_SHUTDOWN"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeLoopPanic         = "LOOP_PANIC"
)

// AutoflowError is the structured error type for all engine operations.
type AutoflowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *AutoflowError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AutoflowError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether a failure with this code may succeed on a later attempt.
// Deterministic failures are never retried.
func (e *AutoflowError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeNotFound, ErrCodeInvalidTransition,
		ErrCodeConflict, ErrCodeStepCompile, ErrCodeInterpolation, ErrCodeEvaluation,
		ErrCodeScheduleExhausted, ErrCodeCancelled:
		return false
	default:
		return true
	}
}

// NewError creates a new AutoflowError.
func NewError(code, message string) *AutoflowError {
	return &AutoflowError{Code: code, Message: message}
}

// NewErrorf creates a new AutoflowError with a formatted message.
func NewErrorf(code, format string, args ...any) *AutoflowError {
	return &AutoflowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *AutoflowError) WithStep(stepID string) *AutoflowError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *AutoflowError) WithCause(err error) *AutoflowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *AutoflowError) WithDetails(details map[string]any) *AutoflowError {
	e.Details = details
	return e
}

// ErrorCode returns the code of the first AutoflowError in err's chain, or "".
func ErrorCode(err error) string {
	var afErr *AutoflowError
	if errors.As(err, &afErr) {
		return afErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
