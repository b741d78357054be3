package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/opsguard/observe"
)

// ManagerConfig configures the resilience manager.
type ManagerConfig struct {
	// DefaultStrategy applies to dependencies with no pinned strategy.
	// Default: StrategyInternalService
	DefaultStrategy Strategy

	// Profiles overrides the built-in presets per strategy.
	Profiles map[Strategy]StrategyProfile

	// Strategies pins dependency names to strategies.
	Strategies map[string]Strategy

	// Observer supplies tracing, metrics, and logging for guarded calls.
	// Optional; without it calls run untraced.
	Observer observe.Observer

	// Timeouts configures the shared timeout manager.
	Timeouts TimeoutManagerConfig
}

// ManagerMetrics aggregates outcomes across all guarded dependencies.
type ManagerMetrics struct {
	TotalCalls          int64
	SuccessfulCalls     int64
	FailedCalls         int64
	CircuitBreakerOpens int64
	RetriesExecuted     int64
	Timeouts            int64
	BulkheadRejections  int64
}

// ComponentMetrics is the per-dependency metrics breakdown.
type ComponentMetrics struct {
	Name           string
	Strategy       Strategy
	CircuitBreaker CircuitBreakerMetrics
	Bulkhead       BulkheadMetrics
	Retry          RetryConfig
}

type managerEntry struct {
	name     string
	strategy Strategy
	profile  StrategyProfile
	breaker  *CircuitBreaker
	bulkhead *Bulkhead
	retry    *Retry
	limiter  *RateLimiter
	exec     *Executor
}

// Manager owns the per-dependency circuit breakers, bulkheads, and retry
// policies, creates them lazily from strategy profiles, and composes them
// around guarded calls. It replaces process-wide registries: callers hold
// one Manager instance and pass it where needed.
type Manager struct {
	config   ManagerConfig
	timeouts *TimeoutManager
	mw       *observe.Middleware
	logger   observe.Logger

	mu      sync.Mutex
	entries map[string]*managerEntry

	closed atomic.Bool

	totalCalls         atomic.Int64
	successfulCalls    atomic.Int64
	failedCalls        atomic.Int64
	breakerOpens       atomic.Int64
	retriesExecuted    atomic.Int64
	timeoutsSeen       atomic.Int64
	bulkheadRejections atomic.Int64
}

// NewManager creates a resilience manager. Dependency names pinned to a
// strategy that is neither built in nor covered by a profile override are
// rejected.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.DefaultStrategy == "" {
		config.DefaultStrategy = StrategyInternalService
	}

	known := map[Strategy]bool{
		StrategyInternalService: true,
		StrategyExternalService: true,
		StrategyDatabase:        true,
		StrategyCache:           true,
	}
	for s := range config.Profiles {
		known[s] = true
	}
	if !known[config.DefaultStrategy] {
		return nil, fmt.Errorf("resilience: unknown default strategy %q", config.DefaultStrategy)
	}
	for name, s := range config.Strategies {
		if !known[s] {
			return nil, fmt.Errorf("resilience: dependency %q pinned to unknown strategy %q", name, s)
		}
	}

	m := &Manager{
		config:   config,
		timeouts: NewTimeoutManager(config.Timeouts),
		entries:  make(map[string]*managerEntry),
		logger:   observe.NopLogger(),
	}

	if config.Observer != nil {
		m.logger = config.Observer.Logger()
		mw, err := observe.MiddlewareFromObserver(config.Observer)
		if err != nil {
			return nil, err
		}
		m.mw = mw
	}

	return m, nil
}

// ExecuteResilient runs op under the resilience stack registered for name,
// composed outermost to innermost as timeout, circuit breaker, bulkhead,
// retry. Components for a new name are created lazily from its strategy
// profile; the strategy is the pinned one or the default.
func (m *Manager) ExecuteResilient(ctx context.Context, name string, op func(context.Context) (any, error)) (any, error) {
	strategy := m.config.DefaultStrategy
	if s, ok := m.config.Strategies[name]; ok {
		strategy = s
	}
	return m.ExecuteWithStrategy(ctx, name, strategy, op)
}

// ExecuteWithStrategy runs op under an explicit strategy. Components
// persist for the manager's lifetime, so the strategy bound by the first
// call for a name wins.
func (m *Manager) ExecuteWithStrategy(ctx context.Context, name string, strategy Strategy, op func(context.Context) (any, error)) (any, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	e := m.entryFor(name, strategy)

	if m.mw != nil {
		wrapped := m.mw.Wrap(func(ctx context.Context, _ observe.OpMeta) (any, error) {
			return m.run(ctx, e, op)
		})
		return wrapped(ctx, observe.OpMeta{Dependency: name, Strategy: string(e.strategy)})
	}

	return m.run(ctx, e, op)
}

// run executes op through the entry's composed stack. The timeout manager
// is outermost, so the deadline spans every retry attempt and any
// rate-limit wait.
func (m *Manager) run(ctx context.Context, e *managerEntry, op func(context.Context) (any, error)) (any, error) {
	m.totalCalls.Add(1)

	var value any
	inner := func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			value = v
		}
		return err
	}

	timeout := e.profile.Timeout
	if timeout <= 0 {
		timeout = m.timeouts.TimeoutFor(e.profile.Class)
	}

	err := m.timeouts.Execute(ctx, e.name, timeout, func(ctx context.Context) error {
		return e.exec.Execute(ctx, inner)
	})

	if err != nil {
		m.failedCalls.Add(1)
		switch KindOf(err) {
		case KindTimeout:
			m.timeoutsSeen.Add(1)
		case KindBulkheadRejected:
			m.bulkheadRejections.Add(1)
		}
		return nil, err
	}

	m.successfulCalls.Add(1)
	return value, nil
}

// entryFor returns the components registered under name, creating them from
// the strategy profile on first use.
func (m *Manager) entryFor(name string, strategy Strategy) *managerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[name]; ok {
		return e
	}

	e := m.newEntry(name, strategy)
	m.entries[name] = e
	return e
}

func (m *Manager) newEntry(name string, strategy Strategy) *managerEntry {
	profile := m.profileFor(strategy)

	cbCfg := profile.CircuitBreaker
	cbCfg.Name = name
	userOnState := cbCfg.OnStateChange
	cbCfg.OnStateChange = func(from, to State) {
		if to == StateOpen {
			m.breakerOpens.Add(1)
			m.logger.Warn(context.Background(), "circuit breaker opened",
				observe.Field{Key: "dependency", Value: name},
				observe.Field{Key: "from", Value: from.String()},
			)
		} else {
			m.logger.Info(context.Background(), "circuit breaker state changed",
				observe.Field{Key: "dependency", Value: name},
				observe.Field{Key: "from", Value: from.String()},
				observe.Field{Key: "to", Value: to.String()},
			)
		}
		if userOnState != nil {
			userOnState(from, to)
		}
	}

	bhCfg := profile.Bulkhead
	bhCfg.Name = name

	rtCfg := profile.Retry
	userOnRetry := rtCfg.OnRetry
	rtCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		m.retriesExecuted.Add(1)
		m.logger.Debug(context.Background(), "retrying guarded call",
			observe.Field{Key: "dependency", Value: name},
			observe.Field{Key: "attempt", Value: attempt},
			observe.Field{Key: "delay_ms", Value: delay.Milliseconds()},
			observe.Field{Key: "error", Value: err.Error()},
		)
		if userOnRetry != nil {
			userOnRetry(attempt, err, delay)
		}
	}

	e := &managerEntry{
		name:     name,
		strategy: strategy,
		profile:  profile,
		breaker:  NewCircuitBreaker(cbCfg),
		bulkhead: NewBulkhead(bhCfg),
		retry:    NewRetry(rtCfg),
	}

	opts := []ExecutorOption{
		WithCircuitBreaker(e.breaker),
		WithBulkhead(e.bulkhead),
		WithRetry(e.retry),
	}
	if profile.RateLimit {
		e.limiter = NewRateLimiter(profile.RateLimiter)
		opts = append(opts, WithRateLimiter(e.limiter))
	}
	e.exec = NewExecutor(opts...)

	return e
}

func (m *Manager) profileFor(s Strategy) StrategyProfile {
	if p, ok := m.config.Profiles[s]; ok {
		return p
	}
	return Profile(s)
}

// Metrics returns the aggregate metrics across all dependencies.
func (m *Manager) Metrics() ManagerMetrics {
	return ManagerMetrics{
		TotalCalls:          m.totalCalls.Load(),
		SuccessfulCalls:     m.successfulCalls.Load(),
		FailedCalls:         m.failedCalls.Load(),
		CircuitBreakerOpens: m.breakerOpens.Load(),
		RetriesExecuted:     m.retriesExecuted.Load(),
		Timeouts:            m.timeoutsSeen.Load(),
		BulkheadRejections:  m.bulkheadRejections.Load(),
	}
}

// ComponentMetrics returns the per-component breakdown for one dependency.
func (m *Manager) ComponentMetrics(name string) (ComponentMetrics, bool) {
	m.mu.Lock()
	e, ok := m.entries[name]
	m.mu.Unlock()

	if !ok {
		return ComponentMetrics{}, false
	}

	return ComponentMetrics{
		Name:           e.name,
		Strategy:       e.strategy,
		CircuitBreaker: e.breaker.Metrics(),
		Bulkhead:       e.bulkhead.Metrics(),
		Retry:          e.retry.Config(),
	}, true
}

// Names returns the registered dependency names, sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Breaker returns the circuit breaker registered under name.
func (m *Manager) Breaker(name string) (*CircuitBreaker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok {
		return nil, false
	}
	return e.breaker, true
}

// Timeouts returns the shared timeout manager for introspection.
func (m *Manager) Timeouts() *TimeoutManager {
	return m.timeouts
}

// Close shuts the manager down and drops the registered components.
// In-flight calls finish against the components they already hold. Close is
// idempotent.
func (m *Manager) Close() {
	if m.closed.Swap(true) {
		return
	}

	m.mu.Lock()
	m.entries = make(map[string]*managerEntry)
	m.mu.Unlock()
}
