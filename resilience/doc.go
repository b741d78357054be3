// Package resilience provides resilience patterns for calls to external
// dependencies.
//
// This package implements common resilience patterns that help services
// handle dependency failures gracefully. The patterns can be composed
// together to build robust execution pipelines.
//
// # Patterns
//
// The package provides the following resilience patterns:
//
//   - Circuit Breaker: Prevents cascading failures by stopping requests to
//     failing dependencies after a threshold is reached.
//
//   - Retry: Automatically retries failed operations with configurable
//     backoff strategies (exponential, linear, constant) and jitter.
//
//   - Rate Limiter: Controls the rate of operations to prevent overwhelming
//     downstream services.
//
//   - Bulkhead: Limits concurrent operations to prevent resource exhaustion.
//
//   - Worker Pool: Runs operations on a fixed set of workers with a bounded
//     queue, isolating slow dependencies from callers.
//
//   - Timeout: Ensures operations complete within a time limit, with
//     per-class defaults and a registry of in-flight operations.
//
// # Usage
//
// Each pattern can be used independently or composed together:
//
//	// Create a circuit breaker
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    MaxFailures:  5,
//	    ResetTimeout: time.Minute,
//	})
//
//	// Create a retry policy
//	retry := resilience.NewRetry(resilience.RetryConfig{
//	    MaxAttempts:  3,
//	    InitialDelay: 100 * time.Millisecond,
//	    MaxDelay:     5 * time.Second,
//	    Multiplier:   2.0,
//	})
//
//	// Create a rate limiter
//	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{
//	    Rate:  100, // requests per second
//	    Burst: 10,
//	})
//
//	// Compose patterns
//	executor := resilience.NewExecutor(
//	    resilience.WithRateLimiter(rl),
//	    resilience.WithTimeout(5*time.Second),
//	    resilience.WithCircuitBreaker(cb),
//	    resilience.WithRetry(retry),
//	)
//
//	err := executor.Execute(ctx, func(ctx context.Context) error {
//	    return callExternalService(ctx)
//	})
//
// The executor applies patterns in a fixed order regardless of option
// order: rate limiter, timeout, circuit breaker, bulkhead, retry. Retry
// sits innermost so a composed call consumes one circuit breaker verdict
// and one bulkhead slot no matter how many attempts run.
//
// # Manager
//
// Most services should not assemble executors by hand. The Manager creates
// and owns per-dependency components, selecting their configuration from
// named strategies:
//
//	mgr, err := resilience.NewManager(resilience.ManagerConfig{
//	    Strategies: map[string]resilience.Strategy{
//	        "billing-api": resilience.StrategyExternalService,
//	        "orders-db":   resilience.StrategyDatabase,
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
//	invoice, err := mgr.ExecuteResilient(ctx, "billing-api", func(ctx context.Context) (any, error) {
//	    return billing.FetchInvoice(ctx, id)
//	})
//
// Failures are classified into kinds (timeout, circuit open, bulkhead
// rejected, rate limited, connection, canceled) via KindOf, which drives
// both retry decisions and the manager's aggregate metrics.
package resilience
