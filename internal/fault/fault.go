// Package fault defines the error kinds a dispersal run can fail with.
package fault

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind classifies a run failure.
type Kind int

const (
	// Unknown is the zero Kind, reported for errors that carry no fault.Error.
	Unknown Kind = iota
	// InvalidArgument marks a rejected parameter (compound, mass, iteration count).
	InvalidArgument
	// MissingInput marks an absent or unreadable dataset.
	MissingInput
	// GeometryOperation marks a failed or unusable geometry engine call.
	GeometryOperation
	// DegenerateResult marks a summary statistic that is undefined for the inputs.
	DegenerateResult
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case MissingInput:
		return "missing input"
	case GeometryOperation:
		return "geometry operation failure"
	case DegenerateResult:
		return "degenerate result"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its Kind and the step that raised it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error of the given kind with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: eris.Errorf(format, args...)}
}

// Wrap attaches a kind and step to err. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Invalid is shorthand for New(InvalidArgument, ...).
func Invalid(op, format string, args ...any) *Error {
	return New(InvalidArgument, op, format, args...)
}

// Missing is shorthand for New(MissingInput, ...).
func Missing(op, format string, args ...any) *Error {
	return New(MissingInput, op, format, args...)
}

// Geometry wraps an engine error as a GeometryOperation failure.
func Geometry(op string, err error) error {
	return Wrap(GeometryOperation, op, err)
}

// KindOf returns the Kind of the first fault.Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err (or any error in its chain) is a fault.Error of kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
