package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/opsguard/observe"
)

// HTTPPoolConfig configures an HTTP connection pool.
type HTTPPoolConfig struct {
	// Name identifies the pool in the registry, logs, and metrics.
	Name string

	// Endpoint is the base URL all pooled clients talk to.
	Endpoint string

	// MaxConnections caps live connections, checked out or idle.
	// Default: 10
	MaxConnections int

	// MinIdle is the number of connections created up front.
	// Default: 0
	MinIdle int

	// MaxIdleTime retires a connection that sat unused this long.
	// Default: 90 seconds
	MaxIdleTime time.Duration

	// ConnTTL retires a connection this long after creation.
	// Default: 10 minutes
	ConnTTL time.Duration

	// AcquireTimeout bounds the wait for a free connection.
	// Default: 5 seconds
	AcquireTimeout time.Duration

	// SweepInterval is how often idle connections are revalidated.
	// Default: 30 seconds
	SweepInterval time.Duration

	// RequestTimeout bounds each request issued through a pooled client.
	// Default: 30 seconds
	RequestTimeout time.Duration

	// DialTimeout bounds connection establishment.
	// Default: 5 seconds
	DialTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	// Default: 5 seconds
	TLSHandshakeTimeout time.Duration

	// HealthPath is the path probed by CheckHealth, relative to Endpoint.
	// Default: "/"
	HealthPath string

	// Logger receives pool lifecycle events. Optional.
	Logger observe.Logger
}

// Validate checks the config for contradictions. Zero values are legal and
// filled with defaults at construction.
func (c HTTPPoolConfig) Validate() error {
	if c.Name == "" {
		return errors.New("pool: name is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("pool %q: endpoint is required", c.Name)
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("pool %q: invalid endpoint: %w", c.Name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("pool %q: endpoint scheme must be http or https", c.Name)
	}
	if u.Host == "" {
		return fmt.Errorf("pool %q: endpoint has no host", c.Name)
	}
	if c.MaxConnections < 0 || c.MinIdle < 0 {
		return fmt.Errorf("pool %q: connection counts must not be negative", c.Name)
	}
	if c.MaxConnections > 0 && c.MinIdle > c.MaxConnections {
		return fmt.Errorf("pool %q: min idle exceeds max connections", c.Name)
	}
	return nil
}

func (c *HTTPPoolConfig) applyDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	if c.MaxIdleTime <= 0 {
		c.MaxIdleTime = 90 * time.Second
	}
	if c.ConnTTL <= 0 {
		c.ConnTTL = 10 * time.Minute
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.TLSHandshakeTimeout <= 0 {
		c.TLSHandshakeTimeout = 5 * time.Second
	}
	if c.HealthPath == "" {
		c.HealthPath = "/"
	} else if !strings.HasPrefix(c.HealthPath, "/") {
		c.HealthPath = "/" + c.HealthPath
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
}

// HTTPConn is one pooled HTTP client with a dedicated transport.
type HTTPConn struct {
	client    *http.Client
	transport *http.Transport
	pool      *HTTPPool
	createdAt time.Time

	lastUsed  atomic.Int64 // unix nanos
	requests  atomic.Int64
	errorsSum atomic.Int64
	unhealthy atomic.Bool
}

// Do issues a request through the pooled client, counting it and stamping
// the last-used time.
func (c *HTTPConn) Do(req *http.Request) (*http.Response, error) {
	c.touch()
	c.requests.Add(1)
	c.pool.requests.Add(1)

	resp, err := c.client.Do(req)
	if err != nil {
		c.errorsSum.Add(1)
		c.pool.errors.Add(1)
	}
	c.touch()
	return resp, err
}

// CreatedAt returns when the connection was created.
func (c *HTTPConn) CreatedAt() time.Time {
	return c.createdAt
}

// LastUsed returns when the connection last carried a request.
func (c *HTTPConn) LastUsed() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

// Age returns how long ago the connection was created.
func (c *HTTPConn) Age() time.Duration {
	return time.Since(c.createdAt)
}

// IdleTime returns how long the connection has been unused.
func (c *HTTPConn) IdleTime() time.Duration {
	return time.Since(c.LastUsed())
}

// Requests returns the number of requests this connection carried.
func (c *HTTPConn) Requests() int64 {
	return c.requests.Load()
}

// Errors returns the number of failed requests on this connection.
func (c *HTTPConn) Errors() int64 {
	return c.errorsSum.Load()
}

// Healthy reports whether the connection may be reused.
func (c *HTTPConn) Healthy() bool {
	return !c.unhealthy.Load()
}

// MarkUnhealthy flags the connection so the pool destroys it instead of
// reusing it.
func (c *HTTPConn) MarkUnhealthy() {
	c.unhealthy.Store(true)
}

func (c *HTTPConn) touch() {
	c.lastUsed.Store(time.Now().UnixNano())
}

func (c *HTTPConn) close() {
	c.transport.CloseIdleConnections()
}

// HTTPPool owns a bounded set of HTTP clients for one endpoint. Connections
// are acquired exclusively, released exactly once, and retired when stale,
// unhealthy, or past their TTL.
type HTTPPool struct {
	config HTTPPoolConfig
	logger observe.Logger

	mu     sync.Mutex
	total  int
	closed bool

	available chan *HTTPConn
	done      chan struct{}
	wg        sync.WaitGroup

	requests        atomic.Int64
	errors          atomic.Int64
	created         atomic.Int64
	destroyed       atomic.Int64
	acquireTimeouts atomic.Int64
}

// NewHTTPPool creates an HTTP pool, pre-creates MinIdle connections, and
// starts the background sweep.
func NewHTTPPool(config HTTPPoolConfig) (*HTTPPool, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &HTTPPool{
		config:    config,
		logger:    config.Logger,
		available: make(chan *HTTPConn, config.MaxConnections),
		done:      make(chan struct{}),
	}

	for i := 0; i < config.MinIdle; i++ {
		conn := p.tryCreate()
		if conn == nil {
			break
		}
		p.available <- conn
	}

	p.wg.Add(1)
	go p.sweepLoop()

	return p, nil
}

// Name identifies the pool.
func (p *HTTPPool) Name() string {
	return p.config.Name
}

// Kind returns KindHTTP.
func (p *HTTPPool) Kind() Kind {
	return KindHTTP
}

// Acquire returns a healthy connection for exclusive use. It reuses an idle
// connection when one exists, grows the pool below the cap, and otherwise
// waits for a release until AcquireTimeout.
func (p *HTTPPool) Acquire(ctx context.Context) (*HTTPConn, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	deadline := time.NewTimer(p.config.AcquireTimeout)
	defer deadline.Stop()

	for {
		// Fast path: reuse an idle connection.
		select {
		case conn := <-p.available:
			if p.reusable(conn) {
				conn.touch()
				return conn, nil
			}
			p.destroy(conn)
			continue
		default:
		}

		// Grow below the cap.
		if conn := p.tryCreate(); conn != nil {
			return conn, nil
		}

		// At the cap: wait for a release.
		select {
		case conn := <-p.available:
			if p.reusable(conn) {
				conn.touch()
				return conn, nil
			}
			p.destroy(conn)
		case <-deadline.C:
			p.acquireTimeouts.Add(1)
			return nil, &AcquisitionError{Pool: p.config.Name, Err: ErrPoolExhausted}
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.done:
			return nil, ErrPoolClosed
		}
	}
}

// Release returns a connection to the pool. Healthy, in-bounds connections
// go back on the idle queue; everything else is destroyed. Must be called
// exactly once per successful Acquire.
func (p *HTTPPool) Release(conn *HTTPConn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	if p.closed || !p.reusable(conn) {
		p.mu.Unlock()
		p.destroy(conn)
		return
	}
	select {
	case p.available <- conn:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		p.destroy(conn)
	}
}

// Execute acquires a connection, runs fn with it, and releases it on every
// exit path.
func (p *HTTPPool) Execute(ctx context.Context, fn func(context.Context, *HTTPConn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)
	return fn(ctx, conn)
}

// CheckHealth acquires a real connection and issues a HEAD request against
// the configured health path.
func (p *HTTPPool) CheckHealth(ctx context.Context) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)

	probeURL := strings.TrimRight(p.config.Endpoint, "/") + p.config.HealthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
	if err != nil {
		return err
	}

	resp, err := conn.Do(req)
	if err != nil {
		conn.MarkUnhealthy()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("pool %q: health probe returned status %d", p.config.Name, resp.StatusCode)
	}
	return nil
}

// Metrics returns a snapshot of pool state and lifetime counters.
func (p *HTTPPool) Metrics() Metrics {
	p.mu.Lock()
	total := p.total
	available := len(p.available)
	p.mu.Unlock()

	active := total - available
	if active < 0 {
		active = 0
	}

	requests := p.requests.Load()
	errs := p.errors.Load()
	m := Metrics{
		Name:            p.config.Name,
		Kind:            KindHTTP,
		Total:           total,
		Active:          active,
		Available:       available,
		MaxConnections:  p.config.MaxConnections,
		Requests:        requests,
		Errors:          errs,
		Created:         p.created.Load(),
		Destroyed:       p.destroyed.Load(),
		AcquireTimeouts: p.acquireTimeouts.Load(),
		Utilization:     float64(active) / float64(p.config.MaxConnections),
	}
	if requests > 0 {
		m.ErrorRate = float64(errs) / float64(requests)
	}
	return m
}

// Close stops the sweep and destroys all idle connections. Checked-out
// connections are destroyed as they are released. Idempotent.
func (p *HTTPPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()

	for {
		select {
		case conn := <-p.available:
			p.destroy(conn)
		default:
			return nil
		}
	}
}

// tryCreate grows the pool by one connection, or returns nil at the cap.
func (p *HTTPPool) tryCreate() *HTTPConn {
	p.mu.Lock()
	if p.closed || p.total >= p.config.MaxConnections {
		p.mu.Unlock()
		return nil
	}
	p.total++
	p.mu.Unlock()

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: p.config.DialTimeout,
		}).DialContext,
		TLSHandshakeTimeout: p.config.TLSHandshakeTimeout,
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     p.config.MaxIdleTime,
	}
	conn := &HTTPConn{
		client: &http.Client{
			Transport: transport,
			Timeout:   p.config.RequestTimeout,
		},
		transport: transport,
		pool:      p,
		createdAt: time.Now(),
	}
	conn.touch()

	p.created.Add(1)
	p.logger.Debug(context.Background(), "connection created",
		observe.Field{Key: "pool", Value: p.config.Name},
	)
	return conn
}

func (p *HTTPPool) destroy(conn *HTTPConn) {
	p.mu.Lock()
	p.total--
	p.mu.Unlock()

	p.destroyed.Add(1)
	conn.close()
	p.logger.Debug(context.Background(), "connection destroyed",
		observe.Field{Key: "pool", Value: p.config.Name},
		observe.Field{Key: "age", Value: conn.Age().String()},
	)
}

// reusable reports whether a connection is healthy and within its idle and
// lifetime bounds.
func (p *HTTPPool) reusable(conn *HTTPConn) bool {
	return conn.Healthy() &&
		conn.IdleTime() < p.config.MaxIdleTime &&
		conn.Age() < p.config.ConnTTL
}

func (p *HTTPPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *HTTPPool) sweepLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.done:
			return
		}
	}
}

// sweep revalidates every idle connection, destroying the stale and
// unhealthy ones.
func (p *HTTPPool) sweep() {
	var keep []*HTTPConn
	swept := 0

	for {
		select {
		case conn := <-p.available:
			if p.reusable(conn) {
				keep = append(keep, conn)
			} else {
				p.destroy(conn)
				swept++
			}
			continue
		default:
		}
		break
	}

	for _, conn := range keep {
		p.available <- conn
	}

	if swept > 0 {
		p.logger.Debug(context.Background(), "sweep retired connections",
			observe.Field{Key: "pool", Value: p.config.Name},
			observe.Field{Key: "retired", Value: swept},
		)
	}
}
