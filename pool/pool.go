package pool

import "context"

// Kind identifies the protocol a pool speaks.
type Kind int

const (
	// KindHTTP is a pool of HTTP clients bound to one endpoint.
	KindHTTP Kind = iota
	// KindRedis is a pool of dedicated Redis connections.
	KindRedis
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindRedis:
		return "redis"
	default:
		return "unknown"
	}
}

// Metrics is a point-in-time snapshot of one pool's state and lifetime
// counters.
type Metrics struct {
	// Name identifies the pool.
	Name string

	// Kind is the pool's protocol.
	Kind Kind

	// Total is the number of live connections, checked out or idle.
	Total int

	// Active is the number of connections currently checked out.
	Active int

	// Available is the number of idle connections ready to acquire.
	Available int

	// MaxConnections is the configured connection cap.
	MaxConnections int

	// Requests counts operations issued through pooled connections.
	Requests int64

	// Errors counts operations that failed.
	Errors int64

	// ErrorRate is Errors divided by Requests, zero before any request.
	ErrorRate float64

	// Created counts connections opened over the pool's lifetime.
	Created int64

	// Destroyed counts connections retired over the pool's lifetime.
	Destroyed int64

	// AcquireTimeouts counts acquisitions that gave up waiting.
	AcquireTimeouts int64

	// Utilization is Active divided by MaxConnections.
	Utilization float64
}

// Pool is the common surface of the HTTP and Redis pools. The Manager
// registry and the HealthChecker operate on it.
type Pool interface {
	// Name identifies the pool in the registry, logs, and metrics.
	Name() string

	// Kind is the pool's protocol.
	Kind() Kind

	// Metrics returns a snapshot of pool state and lifetime counters.
	Metrics() Metrics

	// CheckHealth performs a deep probe over a real connection.
	CheckHealth(ctx context.Context) error

	// Close retires all idle connections and stops background work.
	// Checked-out connections are destroyed as they are released.
	Close(ctx context.Context) error
}
