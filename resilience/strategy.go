package resilience

import "time"

// Strategy names a preset bundle of resilience defaults for a class of
// dependency.
type Strategy string

const (
	// StrategyInternalService suits services inside the same deployment:
	// moderate timeout, moderate concurrency, standard breaker.
	StrategyInternalService Strategy = "internal_service"

	// StrategyExternalService suits third-party APIs: longer timeout, a
	// lower concurrency cap, and a stricter breaker threshold.
	StrategyExternalService Strategy = "external_service"

	// StrategyDatabase suits database calls: short timeout and a high
	// concurrency cap.
	StrategyDatabase Strategy = "database"

	// StrategyCache suits cache lookups: very short timeout, minimal
	// retries, fail-fast concurrency.
	StrategyCache Strategy = "cache"
)

// StrategyProfile bundles the per-component configuration applied to
// dependencies executed under a strategy.
type StrategyProfile struct {
	// Timeout bounds the whole composed call.
	Timeout time.Duration

	// Class is the dependency class the timeout derives from.
	Class DependencyClass

	// CircuitBreaker, Bulkhead, and Retry configure the per-dependency
	// components. Name fields are filled in per dependency.
	CircuitBreaker CircuitBreakerConfig
	Bulkhead       BulkheadConfig
	Retry          RetryConfig

	// RateLimit enables an outermost token-bucket gate.
	RateLimit   bool
	RateLimiter RateLimiterConfig
}

// Profile returns the built-in profile for a strategy. Unknown strategies
// get the internal-service profile.
func Profile(s Strategy) StrategyProfile {
	switch s {
	case StrategyDatabase:
		return StrategyProfile{
			Timeout: defaultDatabaseTimeout,
			Class:   ClassDatabase,
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures:      5,
				SuccessThreshold: 2,
				ResetTimeout:     30 * time.Second,
			},
			Bulkhead: BulkheadConfig{
				MaxConcurrent: 50,
				MaxWait:       time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 50 * time.Millisecond,
				MaxDelay:     time.Second,
				Multiplier:   2.0,
				Jitter:       true,
			},
		}

	case StrategyExternalService:
		return StrategyProfile{
			Timeout: defaultAPITimeout,
			Class:   ClassAPI,
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures:      3,
				SuccessThreshold: 2,
				ResetTimeout:     time.Minute,
			},
			Bulkhead: BulkheadConfig{
				MaxConcurrent: 10,
				MaxWait:       500 * time.Millisecond,
			},
			Retry: RetryConfig{
				MaxAttempts:  4,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     5 * time.Second,
				Multiplier:   2.0,
				Jitter:       true,
			},
		}

	case StrategyCache:
		return StrategyProfile{
			Timeout: defaultCacheTimeout,
			Class:   ClassCache,
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures:      10,
				SuccessThreshold: 1,
				ResetTimeout:     15 * time.Second,
			},
			Bulkhead: BulkheadConfig{
				MaxConcurrent: 100,
				// Cache callers fall back rather than queue.
				MaxWait: 0,
			},
			Retry: RetryConfig{
				MaxAttempts:  2,
				InitialDelay: 10 * time.Millisecond,
				MaxDelay:     100 * time.Millisecond,
				Multiplier:   2.0,
				Jitter:       true,
			},
		}

	default: // StrategyInternalService
		return StrategyProfile{
			Timeout: 15 * time.Second,
			Class:   ClassAPI,
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures:      5,
				SuccessThreshold: 1,
				ResetTimeout:     30 * time.Second,
			},
			Bulkhead: BulkheadConfig{
				MaxConcurrent: 25,
				MaxWait:       time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     2 * time.Second,
				Multiplier:   2.0,
				Jitter:       true,
			},
		}
	}
}
