package resilience

import (
	"context"
	"errors"
	"net"
)

// Kind classifies an error for retry and circuit-breaker decisions. Policies
// match on kinds instead of concrete error types, so classification stays in
// one place.
type Kind int

const (
	// KindNone means no error.
	KindNone Kind = iota
	// KindTimeout covers deadline expiry, ours or the transport's.
	KindTimeout
	// KindCircuitOpen covers rejections by an open circuit breaker.
	KindCircuitOpen
	// KindBulkheadRejected covers rejections by a full bulkhead.
	KindBulkheadRejected
	// KindRateLimited covers rate-limit rejections.
	KindRateLimited
	// KindRetriesExhausted covers exhausted retry budgets.
	KindRetriesExhausted
	// KindConnection covers network-level failures (refused, reset, DNS).
	KindConnection
	// KindCanceled covers cancellation by the caller.
	KindCanceled
	// KindUnknown covers everything else.
	KindUnknown
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTimeout:
		return "timeout"
	case KindCircuitOpen:
		return "circuit_open"
	case KindBulkheadRejected:
		return "bulkhead_rejected"
	case KindRateLimited:
		return "rate_limited"
	case KindRetriesExhausted:
		return "retries_exhausted"
	case KindConnection:
		return "connection"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// KindOf maps an error onto its Kind. Sentinels and typed errors from this
// package are recognized first, then context and net errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrBulkheadFull), errors.Is(err, ErrWorkerPoolClosed):
		return KindBulkheadRejected
	case errors.Is(err, ErrRateLimitExceeded):
		return KindRateLimited
	case errors.Is(err, ErrMaxRetriesExceeded):
		return KindRetriesExhausted
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	// net.Error covers *net.OpError, *url.Error, DNS errors, and friends.
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnection
	}

	return KindUnknown
}

// RetryOn builds a retry classifier from explicit kind sets. An error is
// retried only when its kind is in retryable and never when it is in
// nonRetryable; nonRetryable wins on overlap.
func RetryOn(retryable, nonRetryable []Kind) func(error) bool {
	retry := make(map[Kind]bool, len(retryable))
	for _, k := range retryable {
		retry[k] = true
	}
	never := make(map[Kind]bool, len(nonRetryable))
	for _, k := range nonRetryable {
		never[k] = true
	}

	return func(err error) bool {
		if err == nil {
			return false
		}
		kind := KindOf(err)
		if never[kind] {
			return false
		}
		return retry[kind]
	}
}

// DefaultRetryable is the default retry classifier. Fail-fast rejections
// (circuit open, bulkhead full, rate limited), exhausted budgets, and caller
// cancellation are final; everything else retries.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindCircuitOpen, KindBulkheadRejected, KindRateLimited, KindRetriesExhausted, KindCanceled:
		return false
	default:
		return true
	}
}

// DefaultIsFailure is the default circuit-breaker classifier. Cancellation
// reflects the caller giving up, not the dependency failing, so it is never
// counted.
func DefaultIsFailure(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindCanceled
}
