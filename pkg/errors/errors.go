package errors

import (
	"errors"
	"fmt"
)

// Error represents a typed engine error with a machine-readable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, fatal bool, message string) *Error {
	return &Error{Code: code, Fatal: fatal, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, fatal bool, message string) *Error {
	return &Error{Code: code, Fatal: fatal, Message: message, Err: err}
}

// Predefined errors for the engine's failure taxonomy. Only validation
// errors are fatal; every solver-side condition is recoverable and the
// pipeline degrades instead of aborting.
var (
	ErrValidation        = New("VALIDATION_ERROR", true, "validation failed")
	ErrInvalidWeights    = New("INVALID_WEIGHTS", true, "invalid constraint weights")
	ErrInfeasibleProblem = New("INFEASIBLE_PROBLEM", false, "problem is infeasible with current resources")
	ErrSolverTimeout     = New("SOLVER_TIMEOUT", false, "solver exceeded its time budget")
	ErrUnassignableUnit  = New("UNASSIGNABLE_UNIT", false, "period unit could not be placed")
	ErrMoveRejected      = New("MOVE_REJECTED", false, "move would violate a hard constraint")
	ErrCancelled         = New("CANCELLED", false, "generation cancelled by caller")
	ErrNotFound          = New("NOT_FOUND", false, "resource not found")
	ErrConflict          = New("CONFLICT", false, "conflict")
	ErrInternal          = New("INTERNAL_ERROR", true, "internal error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Fatal, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Is reports whether err carries the same code as target.
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}
