package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/opsguard/observe"
)

// RedisPoolConfig configures a Redis connection pool.
type RedisPoolConfig struct {
	// Name identifies the pool in the registry, logs, and metrics.
	Name string

	// Addr is the host:port of the Redis server.
	Addr string

	// Password authenticates against the server. Optional.
	Password string

	// DB selects the logical database.
	DB int

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

	// DialTimeout bounds connection establishment.
	// Default: 5 seconds
	DialTimeout time.Duration

	// ReadTimeout bounds each read from the server.
	// Default: 3 seconds
	ReadTimeout time.Duration

	// WriteTimeout bounds each write to the server.
	// Default: 3 seconds
	WriteTimeout time.Duration

	// DisablePingOnAcquire skips the liveness ping when handing out a
	// connection. Connections still dial lazily on first command.
	DisablePingOnAcquire bool

	// Logger receives pool lifecycle events. Optional.
	Logger observe.Logger
}

// Validate checks the config for contradictions. Zero values are legal and
// filled with defaults at construction.
func (c RedisPoolConfig) Validate() error {
	if c.Name == "" {
		return errors.New("pool: name is required")
	}
	if c.Addr == "" {
		return fmt.Errorf("pool %q: addr is required", c.Name)
	}
	if c.DB < 0 {
		return fmt.Errorf("pool %q: db must not be negative", c.Name)
	}
	if c.MaxConnections < 0 || c.MinIdle < 0 {
		return fmt.Errorf("pool %q: connection counts must not be negative", c.Name)
	}
	if c.MaxConnections > 0 && c.MinIdle > c.MaxConnections {
		return fmt.Errorf("pool %q: min idle exceeds max connections", c.Name)
	}
	return nil
}

func (c *RedisPoolConfig) applyDefaults() {
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
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
}

// RedisConn is one pooled Redis connection.
type RedisConn struct {
	conn      *redis.Conn
	pool      *RedisPool
	createdAt time.Time

	lastUsed  atomic.Int64 // unix nanos
	commands  atomic.Int64
	errorsSum atomic.Int64
	unhealthy atomic.Bool
}

// Do runs an arbitrary command, counting it and stamping the last-used
// time. A missing key (redis.Nil) is returned but not counted as an error.
func (c *RedisConn) Do(ctx context.Context, args ...any) (any, error) {
	c.touch()
	c.commands.Add(1)
	c.pool.requests.Add(1)

	cmd := c.conn.Do(ctx, args...)
	err := cmd.Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.errorsSum.Add(1)
		c.pool.errors.Add(1)
	}
	c.touch()
	return cmd.Val(), err
}

// Ping checks server liveness over this connection. Counted as a command.
func (c *RedisConn) Ping(ctx context.Context) error {
	c.touch()
	c.commands.Add(1)
	c.pool.requests.Add(1)

	err := c.conn.Ping(ctx).Err()
	if err != nil {
		c.errorsSum.Add(1)
		c.pool.errors.Add(1)
	}
	c.touch()
	return err
}

// Conn exposes the underlying go-redis connection for typed commands.
// Commands issued through it bypass the pool's counters.
func (c *RedisConn) Conn() *redis.Conn {
	c.touch()
	return c.conn
}

// CreatedAt returns when the connection was created.
func (c *RedisConn) CreatedAt() time.Time {
	return c.createdAt
}

// LastUsed returns when the connection last carried a command.
func (c *RedisConn) LastUsed() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

// Age returns how long ago the connection was created.
func (c *RedisConn) Age() time.Duration {
	return time.Since(c.createdAt)
}

// IdleTime returns how long the connection has been unused.
func (c *RedisConn) IdleTime() time.Duration {
	return time.Since(c.LastUsed())
}

// Commands returns the number of commands this connection carried.
func (c *RedisConn) Commands() int64 {
	return c.commands.Load()
}

// Errors returns the number of failed commands on this connection.
func (c *RedisConn) Errors() int64 {
	return c.errorsSum.Load()
}

// Healthy reports whether the connection may be reused.
func (c *RedisConn) Healthy() bool {
	return !c.unhealthy.Load()
}

// MarkUnhealthy flags the connection so the pool destroys it instead of
// reusing it.
func (c *RedisConn) MarkUnhealthy() {
	c.unhealthy.Store(true)
}

func (c *RedisConn) touch() {
	c.lastUsed.Store(time.Now().UnixNano())
}

func (c *RedisConn) close() {
	_ = c.conn.Close()
}

// RedisPool owns a bounded set of Redis connections carved out of one
// client. Connections are acquired exclusively, pinged on checkout unless
// disabled, and retired when stale, unhealthy, or past their TTL.
type RedisPool struct {
	config RedisPoolConfig
	logger observe.Logger
	client *redis.Client

	mu     sync.Mutex
	total  int
	closed bool

	available chan *RedisConn
	done      chan struct{}
	wg        sync.WaitGroup

	requests        atomic.Int64
	errors          atomic.Int64
	created         atomic.Int64
	destroyed       atomic.Int64
	acquireTimeouts atomic.Int64
}

// NewRedisPool creates a Redis pool, pre-creates MinIdle connections, and
// starts the background sweep. Connections dial lazily, so construction
// succeeds even when the server is unreachable.
func NewRedisPool(config RedisPoolConfig) (*RedisPool, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolSize:     config.MaxConnections,
	})

	p := &RedisPool{
		config:    config,
		logger:    config.Logger,
		client:    client,
		available: make(chan *RedisConn, config.MaxConnections),
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
func (p *RedisPool) Name() string {
	return p.config.Name
}

// Kind returns KindRedis.
func (p *RedisPool) Kind() Kind {
	return KindRedis
}

// Acquire returns a healthy connection for exclusive use. It reuses an idle
// connection when one exists, grows the pool below the cap, and otherwise
// waits for a release until AcquireTimeout.
func (p *RedisPool) Acquire(ctx context.Context) (*RedisConn, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	deadline := time.NewTimer(p.config.AcquireTimeout)
	defer deadline.Stop()

	for {
		// Fast path: reuse an idle connection.
		select {
		case conn := <-p.available:
			if p.claim(ctx, conn) {
				return conn, nil
			}
			continue
		default:
		}

		// Grow below the cap.
		if conn := p.tryCreate(); conn != nil {
			if err := p.validate(ctx, conn); err != nil {
				p.destroy(conn)
				return nil, &AcquisitionError{
					Pool: p.config.Name,
					Err:  fmt.Errorf("%w: %w", ErrConnUnhealthy, err),
				}
			}
			return conn, nil
		}

		// At the cap: wait for a release.
		select {
		case conn := <-p.available:
			if p.claim(ctx, conn) {
				return conn, nil
			}
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
func (p *RedisPool) Release(conn *RedisConn) {
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
func (p *RedisPool) Execute(ctx context.Context, fn func(context.Context, *RedisConn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)
	return fn(ctx, conn)
}

// CheckHealth acquires a real connection and pings the server over it.
func (p *RedisPool) CheckHealth(ctx context.Context) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)

	if err := conn.Ping(ctx); err != nil {
		conn.MarkUnhealthy()
		return fmt.Errorf("pool %q: ping: %w", p.config.Name, err)
	}
	return nil
}

// Metrics returns a snapshot of pool state and lifetime counters.
func (p *RedisPool) Metrics() Metrics {
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
		Kind:            KindRedis,
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

// Close stops the sweep, destroys all idle connections, and closes the
// underlying client. Checked-out connections are destroyed as they are
// released. Idempotent.
func (p *RedisPool) Close(ctx context.Context) error {
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
			continue
		default:
		}
		break
	}

	return p.client.Close()
}

// claim validates a previously idle connection for reuse. It returns false
// after destroying a connection that is stale or fails its ping.
func (p *RedisPool) claim(ctx context.Context, conn *RedisConn) bool {
	if !p.reusable(conn) {
		p.destroy(conn)
		return false
	}
	if err := p.validate(ctx, conn); err != nil {
		p.destroy(conn)
		return false
	}
	conn.touch()
	return true
}

// validate pings the server over the connection unless acquire pings are
// disabled.
func (p *RedisPool) validate(ctx context.Context, conn *RedisConn) error {
	if p.config.DisablePingOnAcquire {
		return nil
	}
	return conn.Ping(ctx)
}

// tryCreate grows the pool by one connection, or returns nil at the cap.
func (p *RedisPool) tryCreate() *RedisConn {
	p.mu.Lock()
	if p.closed || p.total >= p.config.MaxConnections {
		p.mu.Unlock()
		return nil
	}
	p.total++
	p.mu.Unlock()

	conn := &RedisConn{
		conn:      p.client.Conn(),
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

func (p *RedisPool) destroy(conn *RedisConn) {
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
func (p *RedisPool) reusable(conn *RedisConn) bool {
	return conn.Healthy() &&
		conn.IdleTime() < p.config.MaxIdleTime &&
		conn.Age() < p.config.ConnTTL
}

func (p *RedisPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *RedisPool) sweepLoop() {
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

// sweep revalidates every idle connection, pinging the ones still within
// bounds and destroying the rest.
func (p *RedisPool) sweep() {
	var candidates []*RedisConn
	swept := 0

	for {
		select {
		case conn := <-p.available:
			candidates = append(candidates, conn)
			continue
		default:
		}
		break
	}

	for _, conn := range candidates {
		if !p.reusable(conn) {
			p.destroy(conn)
			swept++
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.config.ReadTimeout)
		err := conn.Ping(ctx)
		cancel()
		if err != nil {
			p.destroy(conn)
			swept++
			continue
		}
		p.available <- conn
	}

	if swept > 0 {
		p.logger.Debug(context.Background(), "sweep retired connections",
			observe.Field{Key: "pool", Value: p.config.Name},
			observe.Field{Key: "retired", Value: swept},
		)
	}
}
