package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DependencyClass names a class of downstream dependency that shares a
// default deadline.
type DependencyClass string

const (
	// ClassDatabase covers relational and document stores.
	ClassDatabase DependencyClass = "database"
	// ClassAPI covers HTTP and RPC services.
	ClassAPI DependencyClass = "api"
	// ClassCache covers in-memory caches.
	ClassCache DependencyClass = "cache"
	// ClassQueue covers message brokers.
	ClassQueue DependencyClass = "queue"
)

// Default deadlines per dependency class.
const (
	defaultDatabaseTimeout = 5 * time.Second
	defaultAPITimeout      = 10 * time.Second
	defaultCacheTimeout    = 1 * time.Second
	defaultQueueTimeout    = 3 * time.Second
	defaultTimeout         = 30 * time.Second
)

// TimeoutConfig configures the timeout wrapper.
type TimeoutConfig struct {
	// Timeout is the maximum duration for the operation.
	// Default: 30 seconds
	Timeout time.Duration
}

// Timeout wraps operations with a fixed timeout.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	// Apply defaults
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	return &Timeout{config: config}
}

// Execute runs the operation with a timeout. On expiry the caller gets a
// *TimeoutError; the abandoned operation keeps its goroutine until it
// honors the canceled context.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{Timeout: t.config.Timeout}
		}
		return ctx.Err()
	}
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}

// ExecuteWithTimeout is a convenience function to run an operation with timeout.
func ExecuteWithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	t := NewTimeout(TimeoutConfig{Timeout: timeout})
	return t.Execute(ctx, op)
}

// TimeoutManagerConfig configures the timeout manager.
type TimeoutManagerConfig struct {
	// Default is the deadline for operations with no class match.
	// Default: 30 seconds
	Default time.Duration

	// Classes overrides the built-in per-class deadlines
	// (database 5s, api 10s, cache 1s, queue 3s).
	Classes map[DependencyClass]time.Duration
}

// ActiveOperation is a snapshot of one in-flight deadline-guarded call.
type ActiveOperation struct {
	ID       uint64
	Name     string
	Class    DependencyClass
	Timeout  time.Duration
	Started  time.Time
	Deadline time.Time
}

// TimeoutManager races operations against per-class deadlines and keeps a
// registry of in-flight operations for introspection. Entries are keyed by
// a unique id so concurrent operations under the same name never clobber
// each other.
type TimeoutManager struct {
	config TimeoutManagerConfig

	mu     sync.Mutex
	nextID uint64
	active map[uint64]ActiveOperation
}

// NewTimeoutManager creates a timeout manager. Class deadlines not present
// in the config keep their built-in defaults.
func NewTimeoutManager(config TimeoutManagerConfig) *TimeoutManager {
	if config.Default <= 0 {
		config.Default = defaultTimeout
	}

	classes := map[DependencyClass]time.Duration{
		ClassDatabase: defaultDatabaseTimeout,
		ClassAPI:      defaultAPITimeout,
		ClassCache:    defaultCacheTimeout,
		ClassQueue:    defaultQueueTimeout,
	}
	for class, d := range config.Classes {
		if d > 0 {
			classes[class] = d
		}
	}
	config.Classes = classes

	return &TimeoutManager{
		config: config,
		active: make(map[uint64]ActiveOperation),
	}
}

// TimeoutFor returns the deadline used for a dependency class.
func (tm *TimeoutManager) TimeoutFor(class DependencyClass) time.Duration {
	if d, ok := tm.config.Classes[class]; ok {
		return d
	}
	return tm.config.Default
}

// Execute races the operation against the given deadline, tracking it in
// the active registry for its duration. On expiry the caller gets a
// *TimeoutError carrying the operation name and deadline; cancellation
// reaches the operation through its context, so abandonment is best-effort
// for operations that ignore it.
func (tm *TimeoutManager) Execute(ctx context.Context, name string, timeout time.Duration, op func(context.Context) error) error {
	return tm.execute(ctx, name, "", timeout, op)
}

// ExecuteClass runs the operation under its dependency class's deadline.
func (tm *TimeoutManager) ExecuteClass(ctx context.Context, name string, class DependencyClass, op func(context.Context) error) error {
	return tm.execute(ctx, name, class, tm.TimeoutFor(class), op)
}

func (tm *TimeoutManager) execute(ctx context.Context, name string, class DependencyClass, timeout time.Duration, op func(context.Context) error) error {
	if timeout <= 0 {
		timeout = tm.config.Default
	}

	// Registry entry removed on every exit path.
	id := tm.register(name, class, timeout)
	defer tm.unregister(id)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{Operation: name, Timeout: timeout}
		}
		return ctx.Err()
	}
}

func (tm *TimeoutManager) register(name string, class DependencyClass, timeout time.Duration) uint64 {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.nextID++
	id := tm.nextID
	now := time.Now()
	tm.active[id] = ActiveOperation{
		ID:       id,
		Name:     name,
		Class:    class,
		Timeout:  timeout,
		Started:  now,
		Deadline: now.Add(timeout),
	}
	return id
}

func (tm *TimeoutManager) unregister(id uint64) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.active, id)
}

// ActiveOperations returns a snapshot of all in-flight operations.
func (tm *TimeoutManager) ActiveOperations() []ActiveOperation {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	ops := make([]ActiveOperation, 0, len(tm.active))
	for _, op := range tm.active {
		ops = append(ops, op)
	}
	return ops
}

// ActiveCount returns the number of in-flight operations under name. An
// empty name counts everything.
func (tm *TimeoutManager) ActiveCount(name string) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if name == "" {
		return len(tm.active)
	}

	n := 0
	for _, op := range tm.active {
		if op.Name == name {
			n++
		}
	}
	return n
}
