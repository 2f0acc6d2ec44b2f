package engine

import (
	"errors"
	"fmt"

	"github.com/fleetsim/fleetctl/pkg/traci"
)

var (
	// ErrTransient marks an engine rejection of a single operation.
	ErrTransient = errors.New("engine: transient failure")
	// ErrClosed is returned once the engine connection is gone.
	ErrClosed = errors.New("engine: connection closed")
)

// Outcome classifies the result of an engine call.
type Outcome int

const (
	OK Outcome = iota
	Transient
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Transient:
		return "transient"
	default:
		return "fatal"
	}
}

// OpError records which engine operation failed and how.
type OpError struct {
	Op        string
	Object    string
	Transient bool
	Err       error
}

func (e *OpError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	if e.Object != "" {
		return fmt.Sprintf("engine %s %q (%s): %v", e.Op, e.Object, kind, e.Err)
	}
	return fmt.Sprintf("engine %s (%s): %v", e.Op, kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func (e *OpError) Is(target error) bool {
	return target == ErrTransient && e.Transient
}

// NewTransientError builds a transient failure for op on object.
func NewTransientError(op, object string, err error) error {
	return &OpError{Op: op, Object: object, Transient: true, Err: err}
}

// Classify reports the outcome of err.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrTransient):
		return Transient
	default:
		return Fatal
	}
}

// IsTransient reports whether err only affected a single operation.
func IsTransient(err error) bool {
	return Classify(err) == Transient
}

// IsFatal reports whether err invalidates the engine session.
func IsFatal(err error) bool {
	return Classify(err) == Fatal
}

// wrap converts a wire error into an OpError. Engine status errors are
// transient; I/O and protocol errors are fatal.
func wrap(op, object string, err error) error {
	if err == nil {
		return nil
	}
	var cmdErr *traci.CommandError
	if errors.As(err, &cmdErr) {
		return &OpError{Op: op, Object: object, Transient: true, Err: err}
	}
	if errors.Is(err, traci.ErrClosed) {
		err = fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return &OpError{Op: op, Object: object, Err: err}
}
