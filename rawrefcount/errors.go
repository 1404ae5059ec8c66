// ABOUTME: Error values of the refcount bridge
// ABOUTME: Invariant violations panic with InvariantError, which unwraps to ErrInvariant

package rawrefcount

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariant is the root of every embedder programming error detected
	// by the bridge: double links, refcount underflow, broken list membership.
	ErrInvariant = errors.New("rawrefcount: invariant violated")

	// ErrUnknownStrategy is returned by ParseStrategy.
	ErrUnknownStrategy = errors.New("rawrefcount: unknown strategy")
)

// InvariantError is the panic value used when the bridge detects corrupted
// state. Continuing after one would risk freeing live foreign memory.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "rawrefcount: " + e.Msg
}

// Unwrap returns ErrInvariant.
func (e *InvariantError) Unwrap() error {
	return ErrInvariant
}

func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
	}
}
