package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrMaxRetriesExceeded is returned when max retry attempts are exhausted.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

	// ErrRateLimitExceeded is returned when the rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrWorkerPoolClosed is returned when submitting to a closed worker pool.
	ErrWorkerPoolClosed = errors.New("resilience: worker pool is closed")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrManagerClosed is returned when executing through a closed manager.
	ErrManagerClosed = errors.New("resilience: manager is closed")
)

// TimeoutError reports that an operation exceeded its deadline. It carries
// the operation name and the deadline that expired for diagnostics.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("resilience: operation timed out after %s", e.Timeout)
	}
	return fmt.Sprintf("resilience: operation %q timed out after %s", e.Operation, e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) hold for timeout errors.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// RetryExhaustedError reports that every retry attempt failed. It wraps the
// last error observed so callers can still inspect the underlying cause.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("resilience: %d attempts exhausted: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrMaxRetriesExceeded) hold for exhaustion errors.
func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrMaxRetriesExceeded
}
