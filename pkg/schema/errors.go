package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeDefinitionNotFound  = "DEFINITION_NOT_FOUND"
	ErrCodeDuplicateDefinition = "DUPLICATE_DEFINITION"
	ErrCodeInvalidDependency   = "INVALID_DEPENDENCY"
	ErrCodeDuplicateStepID     = "DUPLICATE_STEP_ID"
	ErrCodeInvalidCondition    = "INVALID_CONDITION"
	ErrCodeNotRunning          = "NOT_RUNNING"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeExecution           = "EXECUTION_ERROR"
	ErrCodeIntegration         = "INTEGRATION_ERROR"
	ErrCodeNoMatchingTrigger   = "NO_MATCHING_TRIGGER"
	ErrCodeStore               = "STORE_ERROR"
)

// Sentinels for errors.Is matching. Comparison is by code only.
var (
	ErrDefinitionNotFound  = NewError(ErrCodeDefinitionNotFound, "workflow definition not found")
	ErrDuplicateDefinition = NewError(ErrCodeDuplicateDefinition, "workflow definition already registered")
	ErrInvalidDependency   = NewError(ErrCodeInvalidDependency, "step dependency does not resolve to an earlier step")
	ErrDuplicateStepID     = NewError(ErrCodeDuplicateStepID, "duplicate step id")
	ErrNotRunning          = NewError(ErrCodeNotRunning, "step execution is not running")
	ErrNotFound            = NewError(ErrCodeNotFound, "not found")
	ErrNoMatchingTrigger   = NewError(ErrCodeNoMatchingTrigger, "no workflow trigger matches the event")
)

// SOPError is the structured error type for all orchestrator operations.
type SOPError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *SOPError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SOPError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an SOPError carrying the same code.
func (e *SOPError) Is(target error) bool {
	t, ok := target.(*SOPError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new SOPError.
func NewError(code, message string) *SOPError {
	return &SOPError{Code: code, Message: message}
}

// NewErrorf creates a new SOPError with a formatted message.
func NewErrorf(code, format string, args ...any) *SOPError {
	return &SOPError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *SOPError) WithStep(stepID string) *SOPError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *SOPError) WithCause(err error) *SOPError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *SOPError) WithDetails(details map[string]any) *SOPError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first SOPError in err's chain, or "".
func CodeOf(err error) string {
	var se *SOPError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
