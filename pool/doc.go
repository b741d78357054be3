// Package pool provides bounded connection pools for HTTP and Redis
// backends, a name-keyed pool registry, and a deep health prober.
//
// Pools hand out connections for exclusive use: a checked-out connection is
// never shared, and every Acquire is paired with exactly one Release. Each
// pool enforces a hard cap on live connections, retires connections that
// sit idle too long or outlive their TTL, and revalidates the idle set on a
// background sweep.
//
// # Pools
//
// An HTTP pool owns dedicated clients for one endpoint:
//
//	hp, err := pool.NewHTTPPool(pool.HTTPPoolConfig{
//	    Name:           "billing",
//	    Endpoint:       "https://billing.internal:8443",
//	    MaxConnections: 20,
//	    MinIdle:        2,
//	})
//	if err != nil {
//	    return err
//	}
//	defer hp.Close(ctx)
//
//	err = hp.Execute(ctx, func(ctx context.Context, conn *pool.HTTPConn) error {
//	    req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
//	    if err != nil {
//	        return err
//	    }
//	    resp, err := conn.Do(req)
//	    if err != nil {
//	        return err
//	    }
//	    defer resp.Body.Close()
//	    return decode(resp)
//	})
//
// A Redis pool carves dedicated connections out of one go-redis client and
// pings them on checkout:
//
//	rp, err := pool.NewRedisPool(pool.RedisPoolConfig{
//	    Name: "sessions",
//	    Addr: "localhost:6379",
//	})
//
// When a pool is exhausted, Acquire waits up to AcquireTimeout and then
// returns an AcquisitionError wrapping ErrPoolExhausted.
//
// # Manager
//
// The Manager owns a set of named pools, builds them from config, creates
// them lazily through EnsureHTTPPool and EnsureRedisPool, and warns when a
// pool's error rate or utilization crosses a threshold:
//
//	mgr, err := pool.NewManager(ctx, pool.Config{
//	    HTTP: []pool.HTTPPoolConfig{
//	        {Name: "billing", Endpoint: "https://billing.internal:8443"},
//	    },
//	    Redis: []pool.RedisPoolConfig{
//	        {Name: "sessions", Addr: "localhost:6379"},
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close(ctx)
//
//	hp, err := mgr.HTTPPool("billing")
//
// # Health
//
// The HealthChecker deep-probes every managed pool on an interval, keeps a
// rolling history per pool, and alerts after consecutive failures:
//
//	hc := pool.NewHealthChecker(mgr, pool.HealthCheckerConfig{})
//	hc.Start()
//	defer hc.Close()
//
// Manager.Checker and HealthChecker.Checker adapt pool health to the health
// package so pools can join an aggregator alongside other checks.
package pool
