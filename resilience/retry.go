package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines how delays increase between retries.
type BackoffStrategy int

const (
	// BackoffExponential doubles the delay each attempt with jitter.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear increases delay linearly.
	BackoffLinear
	// BackoffConstant uses the same delay for all retries.
	BackoffConstant
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps the maximum delay between retries.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier for exponential backoff.
	// Default: 2.0
	Multiplier float64

	// Strategy is the backoff strategy.
	// Default: BackoffExponential
	Strategy BackoffStrategy

	// Jitter perturbs each delay by ±20% to prevent thundering herd.
	Jitter bool

	// RetryIf determines if an error should trigger a retry.
	// Default: DefaultRetryable (fail-fast rejections and cancellation
	// are final, everything else retries).
	RetryIf func(err error) bool

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Result reports the outcome of a retried operation so callers can branch
// without re-classifying the error.
type Result struct {
	// Success is true when some attempt returned without error.
	Success bool

	// Value is the value returned by the successful attempt.
	Value any

	// Attempts is the number of attempts made.
	Attempts int

	// Err is the final error: nil on success, the original error when it
	// was non-retryable, or a *RetryExhaustedError when the attempt budget
	// ran out.
	Err error
}

// Retry implements retry with backoff.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	// Apply defaults
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = DefaultRetryable
	}

	return &Retry{config: config}
}

// Do runs the operation with retry logic and reports a structured Result.
func (r *Retry) Do(ctx context.Context, op func(context.Context) (any, error)) Result {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		value, err := op(ctx)

		if err == nil {
			return Result{Success: true, Value: value, Attempts: attempt}
		}

		lastErr = err

		// Check if we should retry
		if !r.config.RetryIf(err) {
			return Result{Attempts: attempt, Err: err}
		}

		// Don't retry if this was the last attempt
		if attempt >= r.config.MaxAttempts {
			break
		}

		// Calculate delay
		delay := r.calculateDelay(attempt)

		// Callback before retry
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		// Wait for delay or context cancellation
		select {
		case <-ctx.Done():
			return Result{Attempts: attempt, Err: ctx.Err()}
		case <-time.After(delay):
			// Continue to next attempt
		}
	}

	return Result{
		Attempts: r.config.MaxAttempts,
		Err:      &RetryExhaustedError{Attempts: r.config.MaxAttempts, Err: lastErr},
	}
}

// Execute runs the operation with retry logic. On exhaustion the last error
// is returned wrapped in a *RetryExhaustedError carrying the attempt count.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	result := r.Do(ctx, func(ctx context.Context) (any, error) {
		return nil, op(ctx)
	})
	return result.Err
}

func (r *Retry) calculateDelay(attempt int) time.Duration {
	var delay time.Duration

	switch r.config.Strategy {
	case BackoffConstant:
		delay = r.config.InitialDelay

	case BackoffLinear:
		delay = r.config.InitialDelay * time.Duration(attempt)

	case BackoffExponential:
		multiplier := math.Pow(r.config.Multiplier, float64(attempt-1))
		delay = time.Duration(float64(r.config.InitialDelay) * multiplier)
	}

	// Cap at max delay
	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}

	// Add jitter if enabled
	if r.config.Jitter && delay > 0 {
		// Uniform ±20% perturbation.
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		factor := 0.8 + 0.4*rand.Float64()
		delay = time.Duration(float64(delay) * factor)
	}

	return delay
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}
