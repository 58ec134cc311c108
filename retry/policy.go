// Package retry implements the pure backoff and outcome-classification
// policy for webhook deliveries. Nothing here touches a clock, a store, or
// the network: callers pass "now" in, which keeps every function unit-testable.
package retry

import (
	"math/rand/v2"
	"time"
)

// Defaults for the delivery retry policy.
const (
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 1 * time.Hour
	DefaultMaxAttempts  = 10
	DefaultJitter       = 0.25
)

// Outcome classifies the result of a single delivery attempt.
type Outcome int

const (
	// Success means the endpoint accepted the delivery (2xx).
	Success Outcome = iota

	// RetryableFailure means a later attempt may succeed (timeouts,
	// connection errors, 408, 429, 5xx).
	RetryableFailure

	// PermanentFailure means retrying is known to be futile (other 4xx:
	// the recipient rejected the request itself).
	PermanentFailure
)

// Classify maps an HTTP status code to an attempt outcome. A status of 0
// denotes a transport-level error (connection refused, timeout, abort) and
// is always retryable.
func Classify(httpStatus int) Outcome {
	switch {
	case httpStatus >= 200 && httpStatus < 300:
		return Success
	case httpStatus == 408 || httpStatus == 429:
		return RetryableFailure
	case httpStatus >= 400 && httpStatus < 500:
		return PermanentFailure
	default:
		return RetryableFailure
	}
}

// State is the retry-relevant slice of a delivery record.
type State struct {
	Attempts      int
	Delivered     bool
	Failed        bool
	NextAttemptAt *time.Time
}

// Policy computes backoff delays and retry eligibility.
type Policy struct {
	// InitialDelay is the un-jittered delay after the first failed attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// MaxAttempts is the number of attempts after which a delivery is
	// declared permanently failed.
	MaxAttempts int

	// Jitter is the relative size of the uniform perturbation applied to each
	// delay (0.25 means ±25%). Zero disables jitter.
	Jitter float64

	// Rand supplies uniform values in [0,1) for jitter. Injectable for
	// deterministic tests; nil falls back to math/rand/v2.
	Rand func() float64
}

// DefaultPolicy returns the policy used when the host application does not
// override it.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		MaxAttempts:  DefaultMaxAttempts,
		Jitter:       DefaultJitter,
	}
}

// NextAttemptDelay returns the delay before the attempt following the given
// number of completed attempts: min(initial * 2^attempts, max), jittered by
// ±Jitter uniformly, floored at zero.
func (p Policy) NextAttemptDelay(attempts int) time.Duration {
	delay := p.InitialDelay
	for range attempts {
		if delay >= p.MaxDelay {
			break
		}
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter > 0 {
		rnd := p.Rand
		if rnd == nil {
			rnd = rand.Float64
		}
		factor := 1 + p.Jitter*(2*rnd()-1)
		delay = time.Duration(float64(delay) * factor)
	}

	if delay < 0 {
		delay = 0
	}
	return delay
}

// IsRetryable reports whether a delivery in the given state is eligible for
// another attempt at time now. Terminal states and exhausted attempt budgets
// are never retryable; a future NextAttemptAt means "not yet".
func (p Policy) IsRetryable(st State, now time.Time) bool {
	if st.Delivered || st.Failed {
		return false
	}
	if st.Attempts >= p.MaxAttempts {
		return false
	}
	if st.NextAttemptAt != nil && st.NextAttemptAt.After(now) {
		return false
	}
	return true
}
