package engine

import (
	"errors"
	"fmt"

	"github.com/lithoslog/lithos/internal/formula"
)

// RuntimeError represents a failure detected during an engine pass.
//
// Runtime errors include:
//   - Depth exceeded: a control chain propagated past the maximum depth
//   - Cycle detected: a formula field sits inside a dependency cycle
//   - Evaluation failed: a formula evaluation failed for one field
//   - Unknown field: an operation referenced a field outside the schema
//   - Illegal transition: an override state change outside the table
//
// All of these are domain results surfaced to the caller; none are fatal
// to the process.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// FieldID identifies the affected field, when applicable.
	FieldID string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeDepthExceeded indicates a control chain exceeded the
	// maximum propagation depth. Likely malformed or cyclic authoring.
	ErrCodeDepthExceeded RuntimeErrorCode = "DEPTH_EXCEEDED"

	// ErrCodeCycleDetected indicates a formula field is part of a
	// dependency cycle and was excluded from evaluation.
	ErrCodeCycleDetected RuntimeErrorCode = "CYCLE_DETECTED"

	// ErrCodeEvaluationFailed indicates a formula evaluation failure.
	ErrCodeEvaluationFailed RuntimeErrorCode = "EVALUATION_FAILED"

	// ErrCodeUnknownField indicates a reference to a field the schema
	// does not define. Callers should treat this as a programming bug.
	ErrCodeUnknownField RuntimeErrorCode = "UNKNOWN_FIELD"

	// ErrCodeEditForbidden indicates a manual edit targeted a
	// formula-derived field.
	ErrCodeEditForbidden RuntimeErrorCode = "EDIT_FORBIDDEN"

	// ErrCodeIllegalTransition indicates an override state change that
	// the transition table does not allow.
	ErrCodeIllegalTransition RuntimeErrorCode = "ILLEGAL_TRANSITION"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.FieldID != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.FieldID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsDepthExceeded returns true if the error is a depth-exceeded error.
// Uses errors.As to handle wrapped errors.
func IsDepthExceeded(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeDepthExceeded
	}
	return false
}

// IsCycleError returns true if the error is a cycle detection error.
func IsCycleError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeCycleDetected
	}
	return false
}

// NewDepthError creates a RuntimeError for a control chain that exceeded
// the maximum propagation depth.
func NewDepthError(fieldID string, depth, maxDepth int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDepthExceeded,
		Message: fmt.Sprintf("control chain exceeded max depth (%d > %d)", depth, maxDepth),
		FieldID: fieldID,
		Details: map[string]string{
			"depth":     fmt.Sprintf("%d", depth),
			"max_depth": fmt.Sprintf("%d", maxDepth),
		},
	}
}

// NewCycleError creates a RuntimeError for a field inside a formula
// dependency cycle.
func NewCycleError(fieldID string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeCycleDetected,
		Message: "field is part of a formula dependency cycle",
		FieldID: fieldID,
	}
}

// NewEvalError wraps a formula evaluation failure for one field.
func NewEvalError(fieldID string, err *formula.EvalError) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeEvaluationFailed,
		Message: err.Error(),
		FieldID: fieldID,
		Details: map[string]string{"eval_code": string(err.Code)},
	}
}

// NewUnknownFieldError creates a RuntimeError for an unknown field id.
func NewUnknownFieldError(fieldID string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownField,
		Message: "field not defined in schema",
		FieldID: fieldID,
	}
}
