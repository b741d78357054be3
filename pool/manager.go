package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/opsguard/health"
	"github.com/jonwraymond/opsguard/observe"
)

// Config configures a pool Manager.
type Config struct {
	// HTTP pools built at construction.
	HTTP []HTTPPoolConfig

	// Redis pools built at construction.
	Redis []RedisPoolConfig

	// MonitorInterval is how often pool metrics are inspected.
	// Default: 30 seconds
	MonitorInterval time.Duration

	// ErrorRateThreshold triggers a warning when a pool's error rate
	// reaches it.
	// Default: 0.10
	ErrorRateThreshold float64

	// UtilizationThreshold triggers a warning when a pool's utilization
	// reaches it.
	// Default: 0.90
	UtilizationThreshold float64

	// Logger receives monitoring warnings. Optional.
	Logger observe.Logger

	// Meter registers observable gauges for every pool. Optional.
	Meter metric.Meter
}

func (c *Config) applyDefaults() {
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 30 * time.Second
	}
	if c.ErrorRateThreshold <= 0 {
		c.ErrorRateThreshold = 0.10
	}
	if c.UtilizationThreshold <= 0 {
		c.UtilizationThreshold = 0.90
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
}

// Manager is a name-keyed registry of connection pools. It builds pools
// from config, hands out typed references, creates pools on demand, and
// watches every pool's error rate and utilization.
type Manager struct {
	logger               observe.Logger
	errorRateThreshold   float64
	utilizationThreshold float64

	mu     sync.RWMutex
	pools  map[string]Pool
	closed bool

	sfGroup      singleflight.Group
	registration metric.Registration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds every configured pool, registers metric gauges when a
// Meter is supplied, and starts the monitoring loop. A duplicate pool name
// fails construction and closes everything already built.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	cfg.applyDefaults()

	m := &Manager{
		logger:               cfg.Logger,
		errorRateThreshold:   cfg.ErrorRateThreshold,
		utilizationThreshold: cfg.UtilizationThreshold,
		pools:                make(map[string]Pool),
	}

	for _, pc := range cfg.HTTP {
		p, err := NewHTTPPool(pc)
		if err != nil {
			m.closePools(ctx)
			return nil, err
		}
		if err := m.add(p); err != nil {
			_ = p.Close(ctx)
			m.closePools(ctx)
			return nil, err
		}
	}
	for _, pc := range cfg.Redis {
		p, err := NewRedisPool(pc)
		if err != nil {
			m.closePools(ctx)
			return nil, err
		}
		if err := m.add(p); err != nil {
			_ = p.Close(ctx)
			m.closePools(ctx)
			return nil, err
		}
	}

	if cfg.Meter != nil {
		if err := m.registerGauges(cfg.Meter); err != nil {
			m.closePools(ctx)
			return nil, err
		}
	}

	mctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.monitor(mctx, cfg.MonitorInterval)

	return m, nil
}

// HTTPPool returns the named HTTP pool. Returns ErrUnknownPool for an
// absent name and a TypeMismatchError when the name maps to another kind.
func (m *Manager) HTTPPool(name string) (*HTTPPool, error) {
	p, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	hp, ok := p.(*HTTPPool)
	if !ok {
		return nil, &TypeMismatchError{Name: name, Want: KindHTTP, Got: p.Kind()}
	}
	return hp, nil
}

// RedisPool returns the named Redis pool. Returns ErrUnknownPool for an
// absent name and a TypeMismatchError when the name maps to another kind.
func (m *Manager) RedisPool(name string) (*RedisPool, error) {
	p, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	rp, ok := p.(*RedisPool)
	if !ok {
		return nil, &TypeMismatchError{Name: name, Want: KindRedis, Got: p.Kind()}
	}
	return rp, nil
}

// EnsureHTTPPool returns the named HTTP pool, creating it on first use.
// Concurrent calls for the same name create exactly one pool.
func (m *Manager) EnsureHTTPPool(cfg HTTPPoolConfig) (*HTTPPool, error) {
	p, err := m.ensure(cfg.Name, func() (Pool, error) {
		return NewHTTPPool(cfg)
	})
	if err != nil {
		return nil, err
	}
	hp, ok := p.(*HTTPPool)
	if !ok {
		return nil, &TypeMismatchError{Name: cfg.Name, Want: KindHTTP, Got: p.Kind()}
	}
	return hp, nil
}

// EnsureRedisPool returns the named Redis pool, creating it on first use.
// Concurrent calls for the same name create exactly one pool.
func (m *Manager) EnsureRedisPool(cfg RedisPoolConfig) (*RedisPool, error) {
	p, err := m.ensure(cfg.Name, func() (Pool, error) {
		return NewRedisPool(cfg)
	})
	if err != nil {
		return nil, err
	}
	rp, ok := p.(*RedisPool)
	if !ok {
		return nil, &TypeMismatchError{Name: cfg.Name, Want: KindRedis, Got: p.Kind()}
	}
	return rp, nil
}

// ensure runs the get-or-create path for one pool name. The name is the
// singleflight key across both kinds, so at most one pool per name is ever
// built.
func (m *Manager) ensure(name string, build func() (Pool, error)) (Pool, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	if p, ok := m.pools[name]; ok {
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	v, err, _ := m.sfGroup.Do(name, func() (any, error) {
		m.mu.RLock()
		existing, ok := m.pools[name]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}

		p, err := build()
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			_ = p.Close(context.Background())
			return nil, ErrPoolClosed
		}
		m.pools[name] = p
		m.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Pool), nil
}

// Metrics returns a snapshot of every pool keyed by name.
func (m *Manager) Metrics() map[string]Metrics {
	pools := m.snapshot()
	out := make(map[string]Metrics, len(pools))
	for _, p := range pools {
		out[p.Name()] = p.Metrics()
	}
	return out
}

// Pools returns every registered pool ordered by name.
func (m *Manager) Pools() []Pool {
	pools := m.snapshot()
	sort.Slice(pools, func(i, j int) bool {
		return pools[i].Name() < pools[j].Name()
	})
	return pools
}

// Checker wraps the named pool's deep probe as a health.Checker so it can
// join an aggregator alongside non-pool checks.
func (m *Manager) Checker(name string) health.Checker {
	return health.NewCheckerFunc(name, func(ctx context.Context) health.Result {
		p, err := m.lookup(name)
		if err != nil {
			return health.Unhealthy("pool not registered", err)
		}
		if err := p.CheckHealth(ctx); err != nil {
			return health.Unhealthy("probe failed", err)
		}
		snapshot := p.Metrics()
		return health.Healthy("probe succeeded").WithDetails(map[string]any{
			"total":      snapshot.Total,
			"active":     snapshot.Active,
			"error_rate": snapshot.ErrorRate,
		})
	})
}

// Close stops the monitoring loop, unregisters gauges, and closes every
// pool, joining their errors. Idempotent.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pools := make([]Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.pools = make(map[string]Pool)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	var errs []error
	if m.registration != nil {
		if err := m.registration.Unregister(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range pools {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) lookup(name string) (Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	if !ok {
		return nil, fmt.Errorf("pool %q: %w", name, ErrUnknownPool)
	}
	return p, nil
}

func (m *Manager) add(p Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[p.Name()]; ok {
		return fmt.Errorf("pool: duplicate pool name %q", p.Name())
	}
	m.pools[p.Name()] = p
	return nil
}

func (m *Manager) snapshot() []Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pools := make([]Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	return pools
}

func (m *Manager) closePools(ctx context.Context) {
	m.mu.Lock()
	pools := make([]Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.pools = make(map[string]Pool)
	m.mu.Unlock()

	for _, p := range pools {
		_ = p.Close(ctx)
	}
}

func (m *Manager) registerGauges(meter metric.Meter) error {
	totalGauge, err := meter.Int64ObservableGauge(
		"pool.connections.total",
		metric.WithDescription("Connections owned by the pool"),
	)
	if err != nil {
		return err
	}

	activeGauge, err := meter.Int64ObservableGauge(
		"pool.connections.active",
		metric.WithDescription("Connections currently checked out"),
	)
	if err != nil {
		return err
	}

	availableGauge, err := meter.Int64ObservableGauge(
		"pool.connections.available",
		metric.WithDescription("Idle connections ready for checkout"),
	)
	if err != nil {
		return err
	}

	errorRateGauge, err := meter.Float64ObservableGauge(
		"pool.error_rate",
		metric.WithDescription("Errors divided by requests since pool creation"),
	)
	if err != nil {
		return err
	}

	reg, err := meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			for _, snapshot := range m.Metrics() {
				attrs := metric.WithAttributes(attribute.String("pool.name", snapshot.Name))
				o.ObserveInt64(totalGauge, int64(snapshot.Total), attrs)
				o.ObserveInt64(activeGauge, int64(snapshot.Active), attrs)
				o.ObserveInt64(availableGauge, int64(snapshot.Available), attrs)
				o.ObserveFloat64(errorRateGauge, snapshot.ErrorRate, attrs)
			}
			return nil
		},
		totalGauge, activeGauge, availableGauge, errorRateGauge,
	)
	if err != nil {
		return err
	}
	m.registration = reg
	return nil
}

func (m *Manager) monitor(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.inspect(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// inspect warns about any pool whose error rate or utilization crossed its
// threshold.
func (m *Manager) inspect(ctx context.Context) {
	for name, snapshot := range m.Metrics() {
		if snapshot.Requests > 0 && snapshot.ErrorRate >= m.errorRateThreshold {
			m.logger.Warn(ctx, "pool error rate above threshold",
				observe.Field{Key: "pool", Value: name},
				observe.Field{Key: "error_rate", Value: snapshot.ErrorRate},
				observe.Field{Key: "threshold", Value: m.errorRateThreshold},
			)
		}
		if snapshot.Utilization >= m.utilizationThreshold {
			m.logger.Warn(ctx, "pool utilization above threshold",
				observe.Field{Key: "pool", Value: name},
				observe.Field{Key: "utilization", Value: snapshot.Utilization},
				observe.Field{Key: "threshold", Value: m.utilizationThreshold},
			)
		}
	}
}
