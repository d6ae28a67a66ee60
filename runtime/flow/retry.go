package flow

import (
	"time"

	"go.temporal.io/sdk/temporal"
)

// RetryPolicy mirrors the engine retry policy fields the SDK exposes. The
// zero value means "engine defaults".
type RetryPolicy struct {
	// MaxAttempts bounds the number of attempts including the first. 1
	// disables retries.
	MaxAttempts int
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// BackoffCoefficient multiplies the interval after each retry.
	BackoffCoefficient float64
	// MaximumInterval caps the delay between retries.
	MaximumInterval time.Duration
}

// SingleAttempt is the task-workflow default: the engine never re-runs a
// human-facing task on failure.
func SingleAttempt() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// ToTemporal converts the policy into the engine representation, returning
// nil for the zero value so engine defaults apply.
func (p RetryPolicy) ToTemporal() *temporal.RetryPolicy {
	if p.MaxAttempts == 0 && p.InitialInterval == 0 && p.BackoffCoefficient == 0 && p.MaximumInterval == 0 {
		return nil
	}
	policy := &temporal.RetryPolicy{}
	if p.MaxAttempts > 0 {
		policy.MaximumAttempts = int32(p.MaxAttempts) //nolint:gosec // attempts are small SDK-configured values
	}
	if p.InitialInterval > 0 {
		policy.InitialInterval = p.InitialInterval
	}
	if p.BackoffCoefficient > 0 {
		policy.BackoffCoefficient = p.BackoffCoefficient
	}
	if p.MaximumInterval > 0 {
		policy.MaximumInterval = p.MaximumInterval
	}
	return policy
}
