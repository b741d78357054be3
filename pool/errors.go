package pool

import (
	"errors"
	"fmt"
)

// Sentinel errors for pool operations.
var (
	// ErrPoolClosed is returned when operating on a closed pool or registry.
	ErrPoolClosed = errors.New("pool: pool is closed")

	// ErrPoolExhausted is returned when no connection became available
	// within the acquire timeout.
	ErrPoolExhausted = errors.New("pool: pool exhausted")

	// ErrUnknownPool is returned when looking up a name with no pool.
	ErrUnknownPool = errors.New("pool: unknown pool")

	// ErrPoolTypeMismatch is returned when a name maps to a pool of
	// another kind.
	ErrPoolTypeMismatch = errors.New("pool: pool type mismatch")

	// ErrConnUnhealthy is returned when a connection fails its health probe.
	ErrConnUnhealthy = errors.New("pool: connection unhealthy")
)

// AcquisitionError reports a failed connection acquisition. It carries the
// pool name and wraps the underlying cause.
type AcquisitionError struct {
	Pool string
	Err  error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("pool %q: acquire: %v", e.Pool, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// TypeMismatchError reports a typed lookup that found a pool of another kind.
type TypeMismatchError struct {
	Name string
	Want Kind
	Got  Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("pool %q: want %s pool, have %s pool", e.Name, e.Want, e.Got)
}

// Is makes errors.Is(err, ErrPoolTypeMismatch) hold for mismatch errors.
func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrPoolTypeMismatch
}
