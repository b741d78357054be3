package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.State() != StateClosed {
		t.Errorf("Initial state = %v, want closed", cb.State())
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.config.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d, want 5", cb.config.MaxFailures)
	}
	if cb.config.SuccessThreshold != 1 {
		t.Errorf("SuccessThreshold = %d, want 1", cb.config.SuccessThreshold)
	}
	if cb.config.ResetTimeout != 30*time.Second {
		t.Errorf("ResetTimeout = %v, want 30s", cb.config.ResetTimeout)
	}
	if cb.config.HalfOpenMaxRequests != 1 {
		t.Errorf("HalfOpenMaxRequests = %d, want 1", cb.config.HalfOpenMaxRequests)
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: time.Second,
	})

	testErr := errors.New("test error")

	// First 2 failures should not open
	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return testErr
		})
		if err != testErr {
			t.Errorf("Execute() error = %v, want %v", err, testErr)
		}
		if cb.State() != StateClosed {
			t.Errorf("After %d failures, state = %v, want closed", i+1, cb.State())
		}
	}

	// Third failure should open
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})
	if err != testErr {
		t.Errorf("Execute() error = %v, want %v", err, testErr)
	}
	if cb.State() != StateOpen {
		t.Errorf("After 3 failures, state = %v, want open", cb.State())
	}

	// Next request should be rejected without invoking the operation
	err = cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("Should not be called when circuit is open")
		return nil
	})
	if err != ErrCircuitOpen {
		t.Errorf("Execute() when open = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
	})

	testErr := errors.New("test error")

	// Open the circuit
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	if cb.State() != StateOpen {
		t.Fatalf("State = %v, want open", cb.State())
	}

	// Wait for reset timeout
	time.Sleep(20 * time.Millisecond)

	// Should be half-open now
	if cb.State() != StateHalfOpen {
		t.Errorf("State = %v, want half-open", cb.State())
	}
}

func TestCircuitBreaker_RecoverySuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
	})

	testErr := errors.New("test error")

	// Open the circuit
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	// Wait for half-open
	time.Sleep(20 * time.Millisecond)

	// Successful request should close circuit
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}

	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_RecoveryFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
	})

	testErr := errors.New("test error")

	// Open the circuit
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	// Wait for half-open
	time.Sleep(20 * time.Millisecond)

	// Failed request should re-open circuit
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	if cb.State() != StateOpen {
		t.Errorf("State = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_SuccessThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         1,
		SuccessThreshold:    2,
		ResetTimeout:        10 * time.Millisecond,
		HalfOpenMaxRequests: 2,
	})

	testErr := errors.New("test error")

	// Open the circuit
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	// Wait for half-open
	time.Sleep(20 * time.Millisecond)

	// First success is not enough to close
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("After 1 success, state = %v, want half-open", cb.State())
	}

	// Second consecutive success closes
	err = cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("After 2 successes, state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenLimit(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         1,
		ResetTimeout:        10 * time.Millisecond,
		HalfOpenMaxRequests: 1,
	})

	testErr := errors.New("test error")

	// Open the circuit
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	// Wait for half-open
	time.Sleep(20 * time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- cb.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started

	// A second probe exceeds the half-open budget
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("Should not be called beyond the half-open budget")
		return nil
	})
	if err != ErrCircuitOpen {
		t.Errorf("Execute() = %v, want ErrCircuitOpen", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("Probe error = %v", err)
	}

	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_CanceledNotCounted(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})

	// Cancellation reflects the caller, not the dependency
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return context.Canceled
	})

	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}

	metrics := cb.Metrics()
	if metrics.Failures != 0 {
		t.Errorf("Failures = %d, want 0", metrics.Failures)
	}
	if metrics.Calls != 1 {
		t.Errorf("Calls = %d, want 1", metrics.Calls)
	}
	if metrics.TotalFailures != 0 {
		t.Errorf("TotalFailures = %d, want 0", metrics.TotalFailures)
	}
}

func TestCircuitBreaker_CanceledProbeKeepsBudget(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         1,
		ResetTimeout:        10 * time.Millisecond,
		HalfOpenMaxRequests: 1,
	})

	testErr := errors.New("test error")

	// Open the circuit
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	// Wait for half-open
	time.Sleep(20 * time.Millisecond)

	// A canceled probe yields no verdict and returns its slot
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return context.Canceled
	})

	if cb.State() != StateHalfOpen {
		t.Fatalf("State = %v, want half-open", cb.State())
	}

	// A fresh probe must still be admitted
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})

	testErr := errors.New("test error")

	// Open the circuit
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	if cb.State() != StateOpen {
		t.Fatalf("State = %v, want open", cb.State())
	}

	// Manual reset
	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("After reset, state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []struct {
		from, to State
	}
	var mu sync.Mutex

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, struct{ from, to State }{from, to})
			mu.Unlock()
		},
	})

	testErr := errors.New("test error")

	// Open the circuit
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	// Wait for half-open
	time.Sleep(20 * time.Millisecond)
	_ = cb.State() // Trigger state check

	// Close the circuit
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	mu.Lock()
	defer mu.Unlock()

	if len(transitions) < 2 {
		t.Errorf("Expected at least 2 transitions, got %d", len(transitions))
	}

	// Check first transition: closed -> open
	if transitions[0].from != StateClosed || transitions[0].to != StateOpen {
		t.Errorf("First transition: %v -> %v, want closed -> open", transitions[0].from, transitions[0].to)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: time.Hour,
	})

	testErr := errors.New("test error")

	// Two failures
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	// One success should reset failure count
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	// Two more failures should not open (count was reset)
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	businessErr := errors.New("validation failed")

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
		IsFailure: func(err error) bool {
			return !errors.Is(err, businessErr)
		},
	})

	// Filtered errors pass through without tripping the breaker
	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return businessErr
		})
		if err != businessErr {
			t.Errorf("Execute() error = %v, want %v", err, businessErr)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Metrics(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 5,
	})

	testErr := errors.New("test error")

	// Generate some failures
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	metrics := cb.Metrics()

	if metrics.State != StateClosed {
		t.Errorf("Metrics.State = %v, want closed", metrics.State)
	}
	if metrics.Failures != 2 {
		t.Errorf("Metrics.Failures = %d, want 2", metrics.Failures)
	}
	if metrics.Calls != 2 {
		t.Errorf("Metrics.Calls = %d, want 2", metrics.Calls)
	}
	if metrics.TotalFailures != 2 {
		t.Errorf("Metrics.TotalFailures = %d, want 2", metrics.TotalFailures)
	}
	if metrics.FailureRate != 1.0 {
		t.Errorf("Metrics.FailureRate = %v, want 1.0", metrics.FailureRate)
	}
}

func TestCircuitBreaker_CumulativeMetrics(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	testErr := errors.New("test error")

	// Two failures open the circuit
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	if cb.State() != StateOpen {
		t.Fatalf("State = %v, want open", cb.State())
	}

	// Transition back to closed and record a success
	cb.Reset()
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	metrics := cb.Metrics()

	// Rolling counters restart on each transition
	if metrics.Failures != 0 {
		t.Errorf("Failures = %d, want 0", metrics.Failures)
	}

	// Cumulative counters survive transitions
	if metrics.Calls != 3 {
		t.Errorf("Calls = %d, want 3", metrics.Calls)
	}
	if metrics.TotalFailures != 2 {
		t.Errorf("TotalFailures = %d, want 2", metrics.TotalFailures)
	}
	if metrics.TotalSuccesses != 1 {
		t.Errorf("TotalSuccesses = %d, want 1", metrics.TotalSuccesses)
	}
	if want := 2.0 / 3.0; metrics.FailureRate != want {
		t.Errorf("FailureRate = %v, want %v", metrics.FailureRate, want)
	}
}

func TestCircuitBreaker_Name(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "billing-api"})

	if got := cb.Name(); got != "billing-api" {
		t.Errorf("Name() = %q, want %q", got, "billing-api")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
