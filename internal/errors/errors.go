// Package errors provides typed errors for the Yagi optimizer. Every error
// carries a Kind so callers can tell a rejected candidate from a condition
// that must abort the whole optimization run.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

// Kind classifies an error.
type Kind int

const (
	// KindUnknown is any error that was not produced by this package.
	KindUnknown Kind = iota
	// KindInvalidCandidate marks an out-of-range or non-finite geometry.
	// It is absorbed by the objective function as an infinite score.
	KindInvalidCandidate
	// KindResolution marks a segment length below wavelength/1000.
	KindResolution
	// KindInterference marks a folded-dipole spacing that collides with the
	// director even at the largest allowed spacing.
	KindInterference
	// KindJunctionRatio marks a folded-dipole riser whose segment length
	// differs from the main segment length by more than 5x.
	KindJunctionRatio
	// KindSimulation marks a numerical failure inside the solver.
	KindSimulation
	// KindConfig marks an unreadable or inconsistent configuration.
	KindConfig
	// KindCanceled marks a run stopped by its context.
	KindCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindInvalidCandidate: "invalid_candidate",
	KindResolution:       "resolution",
	KindInterference:     "interference",
	KindJunctionRatio:    "junction_ratio",
	KindSimulation:       "simulation",
	KindConfig:           "config",
	KindCanceled:         "canceled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Fatal reports whether an error of this kind aborts an optimization run.
func (k Kind) Fatal() bool {
	switch k {
	case KindResolution, KindInterference, KindJunctionRatio:
		return true
	}
	return false
}

// Error represents an error with a kind, context and stack trace.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// The operation that was being performed when the error occurred
	Operation string
	// The component or package where the error occurred
	Component string
	// Params holds the offending parameter values, keyed by name.
	Params map[string]float64
	// The stack trace
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var builder strings.Builder

	if e.Message != "" {
		builder.WriteString(e.Message)
	}

	if e.Operation != "" {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString("operation=")
		builder.WriteString(e.Operation)
	}

	if e.Component != "" {
		if builder.Len() > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString("component=")
		builder.WriteString(e.Component)
	}

	if len(e.Params) > 0 {
		names := make([]string, 0, len(e.Params))
		for name := range e.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		builder.WriteString(" [")
		for i, name := range names {
			if i > 0 {
				builder.WriteString(" ")
			}
			fmt.Fprintf(&builder, "%s=%.6g", name, e.Params[name])
		}
		builder.WriteString("]")
	}

	if e.Err != nil {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Err.Error())
	}

	return builder.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithKind sets the kind of the error.
func (e *Error) WithKind(kind Kind) *Error {
	e.Kind = kind
	return e
}

// WithMessage adds a message to the error.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithOperation adds an operation to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent adds a component to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithParam records an offending parameter value.
func (e *Error) WithParam(name string, value float64) *Error {
	if e.Params == nil {
		e.Params = make(map[string]float64)
	}
	e.Params[name] = value
	return e
}

// StackTrace returns the stack trace as a slice of strings.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates a new error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{
		Kind:    kind,
		Message: msg,
		Stack:   getStackTrace(),
	}
}

// Errorf creates a new error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Stack:   getStackTrace(),
	}
}

// Wrap wraps an error with additional context. The kind of an existing
// *Error in the chain is kept unless kind is not KindUnknown.
func Wrap(err error, kind Kind, msg string) *Error {
	if err == nil {
		return nil
	}
	if kind == KindUnknown {
		kind = KindOf(err)
	}
	return &Error{
		Kind:    kind,
		Err:     err,
		Message: msg,
		Stack:   getStackTrace(),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, kind, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err must abort an optimization run.
func IsFatal(err error) bool {
	return KindOf(err).Fatal()
}

// getStackTrace returns the current stack trace as a slice of strings.
func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, getStackTrace, and the constructor
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if err's
// type contains an Unwrap method returning error.
// Otherwise, Unwrap returns nil.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}
