package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonwraymond/opsguard/health"
	"github.com/jonwraymond/opsguard/observe"
)

// HealthCheckerConfig configures the deep prober.
type HealthCheckerConfig struct {
	// Interval is how often every pool is probed. Keep it longer than the
	// pool sweep intervals so probes see settled state.
	// Default: 60 seconds
	Interval time.Duration

	// ProbeTimeout bounds each pool's probe.
	// Default: 5 seconds
	ProbeTimeout time.Duration

	// HistorySize bounds the rolling result history kept per pool.
	// Default: 32
	HistorySize int

	// FailureThreshold is the consecutive failure count that fires an
	// alert.
	// Default: 3
	FailureThreshold int

	// AlertInterval rate-limits alerts per pool.
	// Default: 1 hour
	AlertInterval time.Duration

	// OnAlert is invoked when a pool crosses FailureThreshold. Optional.
	OnAlert func(pool string, consecutive int, result health.Result)

	// Logger receives alert events. Optional.
	Logger observe.Logger
}

func (c *HealthCheckerConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 32
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.AlertInterval <= 0 {
		c.AlertInterval = time.Hour
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
}

// HealthChecker periodically deep-probes every pool in a Manager, keeps a
// rolling history of results, and alerts after repeated failures.
type HealthChecker struct {
	manager *Manager
	config  HealthCheckerConfig
	logger  observe.Logger

	mu          sync.Mutex
	history     map[string][]health.Result
	consecutive map[string]int
	lastAlert   map[string]time.Time
	started     bool
	closed      bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewHealthChecker creates a prober over the manager's pools. The loop does
// not run until Start.
func NewHealthChecker(m *Manager, cfg HealthCheckerConfig) *HealthChecker {
	cfg.applyDefaults()
	return &HealthChecker{
		manager:     m,
		config:      cfg,
		logger:      cfg.Logger,
		history:     make(map[string][]health.Result),
		consecutive: make(map[string]int),
		lastAlert:   make(map[string]time.Time),
		done:        make(chan struct{}),
	}
}

// Start launches the probe loop. Calling Start twice is a no-op.
func (hc *HealthChecker) Start() {
	hc.mu.Lock()
	if hc.started || hc.closed {
		hc.mu.Unlock()
		return
	}
	hc.started = true
	hc.mu.Unlock()

	hc.wg.Add(1)
	go hc.loop()
}

// Close stops the probe loop and waits for it. Idempotent.
func (hc *HealthChecker) Close() {
	hc.mu.Lock()
	if hc.closed {
		hc.mu.Unlock()
		return
	}
	hc.closed = true
	hc.mu.Unlock()

	close(hc.done)
	hc.wg.Wait()
}

// CheckNow probes every pool once, records the results, and returns them
// keyed by pool name.
func (hc *HealthChecker) CheckNow(ctx context.Context) map[string]health.Result {
	pools := hc.manager.Pools()
	out := make(map[string]health.Result, len(pools))
	for _, p := range pools {
		result := hc.probe(ctx, p)
		hc.record(p.Name(), result)
		out[p.Name()] = result
	}
	return out
}

// History returns a copy of the recorded results for one pool, oldest
// first.
func (hc *HealthChecker) History(name string) []health.Result {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hist := hc.history[name]
	out := make([]health.Result, len(hist))
	copy(out, hist)
	return out
}

// Consecutive returns the pool's current consecutive failure count.
func (hc *HealthChecker) Consecutive(name string) int {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.consecutive[name]
}

// Status returns the pool's last observed status, or StatusUnknown when it
// has never been probed.
func (hc *HealthChecker) Status(name string) health.Status {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hist := hc.history[name]
	if len(hist) == 0 {
		return health.StatusUnknown
	}
	return hist[len(hist)-1].Status
}

// Checker wraps the pool's last observed result as a health.Checker. Unlike
// Manager.Checker it never probes; a pool that was never probed reports
// unknown.
func (hc *HealthChecker) Checker(name string) health.Checker {
	return health.NewCheckerFunc(name, func(ctx context.Context) health.Result {
		hc.mu.Lock()
		defer hc.mu.Unlock()
		hist := hc.history[name]
		if len(hist) == 0 {
			return health.Unknown("pool not probed yet")
		}
		return hist[len(hist)-1]
	})
}

// PoolHealth is one pool's entry in a Summary.
type PoolHealth struct {
	Status              health.Status
	ConsecutiveFailures int
	LastCheck           time.Time
	LastMessage         string
}

// SummaryTotals counts pools by outcome.
type SummaryTotals struct {
	Pools     int
	Healthy   int
	Unhealthy int
}

// Summary is a point-in-time rollup across every pool.
type Summary struct {
	Overall health.Status
	Pools   map[string]PoolHealth
	Totals  SummaryTotals
}

// Summary rolls up the last observed result of every registered pool. The
// worst status wins; pools never probed count as unknown.
func (hc *HealthChecker) Summary() Summary {
	pools := hc.manager.Pools()

	hc.mu.Lock()
	defer hc.mu.Unlock()

	s := Summary{
		Overall: health.StatusHealthy,
		Pools:   make(map[string]PoolHealth, len(pools)),
	}
	for _, p := range pools {
		name := p.Name()
		ph := PoolHealth{
			Status:              health.StatusUnknown,
			ConsecutiveFailures: hc.consecutive[name],
		}
		if hist := hc.history[name]; len(hist) > 0 {
			last := hist[len(hist)-1]
			ph.Status = last.Status
			ph.LastCheck = last.Timestamp
			ph.LastMessage = last.Message
		}
		s.Pools[name] = ph

		if ph.Status.Worse(s.Overall) {
			s.Overall = ph.Status
		}
		s.Totals.Pools++
		switch ph.Status {
		case health.StatusHealthy:
			s.Totals.Healthy++
		case health.StatusUnhealthy:
			s.Totals.Unhealthy++
		}
	}
	return s
}

func (hc *HealthChecker) loop() {
	defer hc.wg.Done()

	ticker := time.NewTicker(hc.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hc.CheckNow(context.Background())
		case <-hc.done:
			return
		}
	}
}

// probe runs one pool's deep check and grades the outcome: a failed probe
// is unhealthy, a passing probe with a hot error rate or utilization is
// degraded.
func (hc *HealthChecker) probe(ctx context.Context, p Pool) health.Result {
	pctx, cancel := context.WithTimeout(ctx, hc.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := p.CheckHealth(pctx)
	elapsed := time.Since(start)

	snapshot := p.Metrics()
	details := map[string]any{
		"total":       snapshot.Total,
		"active":      snapshot.Active,
		"available":   snapshot.Available,
		"error_rate":  snapshot.ErrorRate,
		"utilization": snapshot.Utilization,
	}

	var result health.Result
	switch {
	case err != nil:
		result = health.Unhealthy("deep probe failed", err)
	case snapshot.Requests > 0 && snapshot.ErrorRate >= hc.manager.errorRateThreshold:
		result = health.Degraded(fmt.Sprintf("error rate at %.0f%%", snapshot.ErrorRate*100))
	case snapshot.Utilization >= hc.manager.utilizationThreshold:
		result = health.Degraded(fmt.Sprintf("utilization at %.0f%%", snapshot.Utilization*100))
	default:
		result = health.Healthy("probe succeeded")
	}
	return result.WithDetails(details).WithDuration(elapsed)
}

func (hc *HealthChecker) record(name string, result health.Result) {
	hc.mu.Lock()
	hist := append(hc.history[name], result)
	if len(hist) > hc.config.HistorySize {
		hist = hist[len(hist)-hc.config.HistorySize:]
	}
	hc.history[name] = hist

	if result.Status == health.StatusUnhealthy {
		hc.consecutive[name]++
	} else {
		hc.consecutive[name] = 0
	}
	consecutive := hc.consecutive[name]

	alert := false
	if consecutive >= hc.config.FailureThreshold &&
		time.Since(hc.lastAlert[name]) >= hc.config.AlertInterval {
		hc.lastAlert[name] = time.Now()
		alert = true
	}
	hc.mu.Unlock()

	if alert {
		hc.logger.Error(context.Background(), "pool failing health checks",
			observe.Field{Key: "pool", Value: name},
			observe.Field{Key: "consecutive_failures", Value: consecutive},
			observe.Field{Key: "message", Value: result.Message},
		)
		if hc.config.OnAlert != nil {
			hc.config.OnAlert(name, consecutive, result)
		}
	}
}
