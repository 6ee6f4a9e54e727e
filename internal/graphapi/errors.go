package graphapi

import (
	"errors"
	"fmt"

	"neuralvault/graphcore/internal/model"
	"neuralvault/graphcore/internal/wire"
)

var (
	// ErrDuplicateEdge: the (source, target, relation) triple already
	// exists. Callers adding an edge treat it as success.
	ErrDuplicateEdge = errors.New("duplicate edge")
	ErrNotFound      = errors.New("not found")
	// ErrCycle: the contains edge would make the containment graph cyclic.
	ErrCycle = errors.New("containment cycle")
)

// RemoteError wraps every failure of a remote call. The prior cache state
// is untouched when one is returned; the call may be retried.
type RemoteError struct {
	Operation string
	Cause     error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Cause)
}

func (e *RemoteError) Unwrap() error { return e.Cause }

// IsBenign reports whether err is a duplicate-edge or not-found failure.
func IsBenign(err error) bool {
	return errors.Is(err, ErrDuplicateEdge) || errors.Is(err, ErrNotFound)
}

// classify maps a transport error to a sentinel-carrying cause.
func classify(err error) error {
	var f *wire.Fault
	if !errors.As(err, &f) {
		return err
	}
	switch f.Code {
	case wire.CodeDuplicateEdge:
		return fmt.Errorf("%w: %s", ErrDuplicateEdge, f.Message)
	case wire.CodeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, f.Message)
	case wire.CodeCycle:
		return fmt.Errorf("%w: %s", ErrCycle, f.Message)
	case wire.CodeValidation:
		return fmt.Errorf("%w: %s", model.ErrValidation, f.Message)
	default:
		return f
	}
}
