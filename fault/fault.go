// Package fault classifies the errors the system reports to an operator.
//
// Three kinds exist.  Precondition faults abort an operation before any state
// is touched (missing reference points, empty pattern, a pass already
// running).  Device faults come from the stage, shutter, or camera and end an
// exposure pass with its partial progress.  NoSpot is the non-fatal result of
// an origin estimate that found nothing.
package fault

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the category of a fault
type Kind int

const (
	// Unknown is any error not produced by this package
	Unknown Kind = iota

	// Precondition means the operation was refused, no state was changed
	Precondition

	// Device means a hardware collaborator failed
	Device

	// NoSpot means the spot estimator found no candidate
	NoSpot
)

func (k Kind) String() string {
	switch k {
	case Precondition:
		return "precondition"
	case Device:
		return "device"
	case NoSpot:
		return "no spot detected"
	default:
		return "unknown"
	}
}

// Error is a classified error
type Error struct {
	Kind Kind

	// Op is the operation that failed, e.g. "stage move"
	Op string

	// Err is the underlying error
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error { return e.Err }

// Cause satisfies pkg/errors' causer
func (e *Error) Cause() error { return e.Err }

// NewPrecondition returns a precondition fault with a message
func NewPrecondition(msg string) error {
	return &Error{Kind: Precondition, Err: errors.New(msg)}
}

// NewNoSpot returns a NoSpot fault with a message
func NewNoSpot(msg string) error {
	return &Error{Kind: NoSpot, Err: errors.New(msg)}
}

// NewDevice wraps err as a device fault for op.  A nil err returns nil.
func NewDevice(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == Device {
		return err
	}
	return &Error{Kind: Device, Op: op, Err: err}
}

// KindOf returns the kind of the first fault in err's chain
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is returns true if err carries a fault of kind k
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
