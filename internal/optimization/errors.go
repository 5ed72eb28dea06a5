package optimization

import (
	"context"
	"errors"
	"fmt"
)

// RunError represents a failed optimization run with the strategy and
// operation that failed. The underlying error keeps its kind, so a fatal
// geometry error raised inside the objective is still recognizable through
// a RunError.
type RunError struct {
	// Strategy is the name of the strategy that was running.
	Strategy string
	// Op is the operation that failed, e.g. "evaluate" or "polish".
	Op string
	// Message describes the error that occurred.
	Message string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *RunError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Strategy != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Strategy, e.Op)
	} else if e.Strategy != "" {
		prefix = e.Strategy
	} else if e.Op != "" {
		prefix = e.Op
	}

	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		} else {
			msg = e.Err.Error()
		}
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, msg)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *RunError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation adds operation context to the error.
func (e *RunError) WithOperation(op string) *RunError {
	e.Op = op
	return e
}

// WithStrategy adds the strategy name to the error.
func (e *RunError) WithStrategy(strategy string) *RunError {
	e.Strategy = strategy
	return e
}

// NewError creates a new run error with the given message.
func NewError(message string) *RunError {
	return &RunError{Message: message}
}

// NewErrorf creates a new run error with a formatted message.
func NewErrorf(format string, args ...interface{}) *RunError {
	return &RunError{Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps err with the strategy and operation it failed in.
// If err is nil, WrapError returns nil. An err that already is a RunError is
// returned unchanged.
func WrapError(err error, strategy, op string) error {
	if err == nil {
		return nil
	}
	var re *RunError
	if errors.As(err, &re) {
		return err
	}
	return &RunError{Strategy: strategy, Op: op, Err: err}
}

// IsRunError reports whether err is or wraps a RunError and returns it.
func IsRunError(err error) (*RunError, bool) {
	var re *RunError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsCanceled reports whether err was caused by context cancellation or
// deadline expiry.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
