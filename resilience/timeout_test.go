package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewTimeout(t *testing.T) {
	timeout := NewTimeout(TimeoutConfig{})

	if timeout.config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", timeout.config.Timeout)
	}
}

func TestTimeout_ExecuteSuccess(t *testing.T) {
	timeout := NewTimeout(TimeoutConfig{
		Timeout: time.Second,
	})

	executed := false
	err := timeout.Execute(context.Background(), func(ctx context.Context) error {
		executed = true
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if !executed {
		t.Error("Operation was not executed")
	}
}

func TestTimeout_ExecuteError(t *testing.T) {
	timeout := NewTimeout(TimeoutConfig{
		Timeout: time.Second,
	})

	testErr := errors.New("test error")
	err := timeout.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	if err != testErr {
		t.Errorf("Execute() error = %v, want %v", err, testErr)
	}
}

func TestTimeout_ExecuteTimeout(t *testing.T) {
	timeout := NewTimeout(TimeoutConfig{
		Timeout: 10 * time.Millisecond,
	})

	err := timeout.Execute(context.Background(), func(ctx context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})

	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Execute() error = %v, want ErrTimeout", err)
	}

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Execute() error = %T, want *TimeoutError", err)
	}
	if te.Timeout != 10*time.Millisecond {
		t.Errorf("TimeoutError.Timeout = %v, want 10ms", te.Timeout)
	}
}

func TestTimeout_ExecuteContextCancelled(t *testing.T) {
	timeout := NewTimeout(TimeoutConfig{
		Timeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())

	err := timeout.Execute(ctx, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	if err != context.Canceled {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}

func TestTimeout_OperationRespectsCancelledContext(t *testing.T) {
	timeout := NewTimeout(TimeoutConfig{
		Timeout: 50 * time.Millisecond,
	})

	ctxDoneCh := make(chan bool, 1)
	err := timeout.Execute(context.Background(), func(ctx context.Context) error {
		// Wait for context cancellation
		select {
		case <-ctx.Done():
			ctxDoneCh <- true
			return ctx.Err()
		case <-time.After(time.Second):
			ctxDoneCh <- false
			return nil
		}
	})

	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Execute() error = %v, want ErrTimeout", err)
	}

	// Wait for the operation goroutine to signal its result
	select {
	case ctxDone := <-ctxDoneCh:
		if !ctxDone {
			t.Error("Context was not cancelled")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Operation goroutine did not complete")
	}
}

func TestTimeout_Config(t *testing.T) {
	timeout := NewTimeout(TimeoutConfig{
		Timeout: 5 * time.Second,
	})

	config := timeout.Config()
	if config.Timeout != 5*time.Second {
		t.Errorf("Config().Timeout = %v, want 5s", config.Timeout)
	}
}

func TestExecuteWithTimeout(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		err := ExecuteWithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
			return nil
		})
		if err != nil {
			t.Errorf("ExecuteWithTimeout() error = %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		err := ExecuteWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		})
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("ExecuteWithTimeout() error = %v, want ErrTimeout", err)
		}
	})
}

func TestTimeoutManager_ClassDefaults(t *testing.T) {
	tm := NewTimeoutManager(TimeoutManagerConfig{})

	tests := []struct {
		class DependencyClass
		want  time.Duration
	}{
		{ClassDatabase, 5 * time.Second},
		{ClassAPI, 10 * time.Second},
		{ClassCache, time.Second},
		{ClassQueue, 3 * time.Second},
		{DependencyClass("unknown"), 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := tm.TimeoutFor(tt.class); got != tt.want {
				t.Errorf("TimeoutFor(%s) = %v, want %v", tt.class, got, tt.want)
			}
		})
	}
}

func TestTimeoutManager_ClassOverride(t *testing.T) {
	tm := NewTimeoutManager(TimeoutManagerConfig{
		Classes: map[DependencyClass]time.Duration{
			ClassCache: 250 * time.Millisecond,
		},
	})

	if got := tm.TimeoutFor(ClassCache); got != 250*time.Millisecond {
		t.Errorf("TimeoutFor(cache) = %v, want 250ms", got)
	}

	// Unmentioned classes keep their built-in defaults
	if got := tm.TimeoutFor(ClassDatabase); got != 5*time.Second {
		t.Errorf("TimeoutFor(database) = %v, want 5s", got)
	}
}

func TestTimeoutManager_Execute(t *testing.T) {
	tm := NewTimeoutManager(TimeoutManagerConfig{})

	executed := false
	err := tm.Execute(context.Background(), "billing-api", time.Second, func(ctx context.Context) error {
		executed = true
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if !executed {
		t.Error("Operation was not executed")
	}
}

func TestTimeoutManager_ExecuteTimeout(t *testing.T) {
	tm := NewTimeoutManager(TimeoutManagerConfig{})

	err := tm.Execute(context.Background(), "orders-db", 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Execute() error = %T, want *TimeoutError", err)
	}
	if te.Operation != "orders-db" {
		t.Errorf("TimeoutError.Operation = %q, want orders-db", te.Operation)
	}
	if te.Timeout != 10*time.Millisecond {
		t.Errorf("TimeoutError.Timeout = %v, want 10ms", te.Timeout)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(err, ErrTimeout) = false, want true")
	}
}

func TestTimeoutManager_ExecuteClass(t *testing.T) {
	tm := NewTimeoutManager(TimeoutManagerConfig{
		Classes: map[DependencyClass]time.Duration{
			ClassCache: 20 * time.Millisecond,
		},
	})

	err := tm.ExecuteClass(context.Background(), "session-cache", ClassCache, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("ExecuteClass() error = %T, want *TimeoutError", err)
	}
	if te.Timeout != 20*time.Millisecond {
		t.Errorf("TimeoutError.Timeout = %v, want 20ms", te.Timeout)
	}
}

func TestTimeoutManager_ZeroTimeoutFallsBack(t *testing.T) {
	tm := NewTimeoutManager(TimeoutManagerConfig{Default: 20 * time.Millisecond})

	err := tm.Execute(context.Background(), "slow-op", 0, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Execute() error = %T, want *TimeoutError", err)
	}
	if te.Timeout != 20*time.Millisecond {
		t.Errorf("TimeoutError.Timeout = %v, want the manager default", te.Timeout)
	}
}

func TestTimeoutManager_Registry(t *testing.T) {
	tm := NewTimeoutManager(TimeoutManagerConfig{})

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- tm.Execute(context.Background(), "billing-api", time.Second, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered

	if got := tm.ActiveCount("billing-api"); got != 1 {
		t.Errorf("ActiveCount(billing-api) = %d, want 1", got)
	}
	if got := tm.ActiveCount(""); got != 1 {
		t.Errorf("ActiveCount() = %d, want 1", got)
	}

	ops := tm.ActiveOperations()
	if len(ops) != 1 {
		t.Fatalf("ActiveOperations() len = %d, want 1", len(ops))
	}
	op := ops[0]
	if op.Name != "billing-api" {
		t.Errorf("Name = %q, want billing-api", op.Name)
	}
	if op.Timeout != time.Second {
		t.Errorf("Timeout = %v, want 1s", op.Timeout)
	}
	if op.Deadline.Before(op.Started) {
		t.Error("Deadline is before Started")
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("Execute() error = %v", err)
	}

	// Entry removed once the operation completes
	if got := tm.ActiveCount(""); got != 0 {
		t.Errorf("ActiveCount() after completion = %d, want 0", got)
	}
}

func TestTimeoutManager_SameNameConcurrent(t *testing.T) {
	tm := NewTimeoutManager(TimeoutManagerConfig{})

	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	done := make(chan error, 2)

	for i := 0; i < 2; i++ {
		go func() {
			done <- tm.Execute(context.Background(), "orders-db", time.Second, func(ctx context.Context) error {
				entered <- struct{}{}
				<-release
				return nil
			})
		}()
	}

	<-entered
	<-entered

	// Concurrent operations under one name are tracked separately
	if got := tm.ActiveCount("orders-db"); got != 2 {
		t.Errorf("ActiveCount(orders-db) = %d, want 2", got)
	}

	close(release)
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Errorf("Execute() error = %v", err)
		}
	}

	if got := tm.ActiveCount("orders-db"); got != 0 {
		t.Errorf("ActiveCount(orders-db) after completion = %d, want 0", got)
	}
}

func TestTimeoutManager_ContextCancelled(t *testing.T) {
	tm := NewTimeoutManager(TimeoutManagerConfig{})

	ctx, cancel := context.WithCancel(context.Background())

	err := tm.Execute(ctx, "billing-api", time.Second, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	if err != context.Canceled {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}
