package resilience

import (
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the guarded dependency in logs and metrics.
	Name string

	// MaxFailures is the number of failures before opening the circuit.
	// Default: 5
	MaxFailures int

	// SuccessThreshold is the number of consecutive successes required in
	// half-open state before closing the circuit.
	// Default: 1
	SuccessThreshold int

	// ResetTimeout is how long to wait before attempting recovery.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is the max requests allowed in half-open state.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to State)

	// IsFailure determines if an error should count as a failure.
	// Default: every non-nil error except caller cancellation.
	IsFailure func(err error) bool
}

// CircuitBreaker implements the circuit breaker pattern. All state is
// guarded by one mutex, so concurrent calls never race the counters.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailure   time.Time
	halfOpenCount int

	// Cumulative counters, never reset by transitions.
	calls          int64
	totalFailures  int64
	totalSuccesses int64
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = DefaultIsFailure
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Name returns the configured dependency name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Execute runs the operation through the circuit breaker. When the circuit
// is open the operation is not invoked and ErrCircuitOpen is returned.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := op(ctx)
	cb.afterRequest(err)
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentStateLocked()

	switch state {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenCount++
	}

	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	isFailure := err != nil && cb.config.IsFailure(err)

	cb.calls++
	if err == nil {
		cb.totalSuccesses++
	} else if isFailure {
		cb.totalFailures++
	}

	switch cb.state {
	case StateClosed:
		if isFailure {
			cb.failures++
			cb.lastFailure = time.Now()
			if cb.failures >= cb.config.MaxFailures {
				cb.transitionLocked(StateOpen)
			}
		} else if err == nil {
			// Reset failure count on success
			cb.failures = 0
		}

	case StateHalfOpen:
		switch {
		case isFailure:
			// Failed during probe, go back to open
			cb.lastFailure = time.Now() // Restart the open timer
			cb.transitionLocked(StateOpen)
		case err == nil:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.transitionLocked(StateClosed)
			}
		default:
			// Uncounted outcome (e.g. cancellation): return the probe slot
			// so the budget is not consumed without a verdict.
			cb.halfOpenCount--
		}
	}
}

func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.config.ResetTimeout {
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

// transitionLocked moves to a new state. Both rolling counters reset on
// every transition so each state starts with a clean window.
func (cb *CircuitBreaker) transitionLocked(state State) {
	if cb.state == state {
		return
	}

	from := cb.state
	cb.state = state
	cb.failures = 0
	cb.successes = 0
	if state == StateHalfOpen {
		cb.halfOpenCount = 0
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, state)
	}
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var failureRate float64
	if cb.calls > 0 {
		failureRate = float64(cb.totalFailures) / float64(cb.calls)
	}

	return CircuitBreakerMetrics{
		State:          cb.currentStateLocked(),
		Failures:       cb.failures,
		Successes:      cb.successes,
		Calls:          cb.calls,
		TotalFailures:  cb.totalFailures,
		TotalSuccesses: cb.totalSuccesses,
		FailureRate:    failureRate,
		LastFailure:    cb.lastFailure,
	}
}

// CircuitBreakerMetrics contains circuit breaker statistics. Failures and
// Successes are the rolling in-state counters; Calls, TotalFailures, and
// TotalSuccesses accumulate across transitions.
type CircuitBreakerMetrics struct {
	State          State
	Failures       int
	Successes      int
	Calls          int64
	TotalFailures  int64
	TotalSuccesses int64
	FailureRate    float64
	LastFailure    time.Time
}
