package usecase

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mongomirror/internal/shared/errors"
)

// RetryPolicy retries transient failures with exponential backoff. Validation
// errors are permanent and short-circuit immediately; everything else is
// retried up to MaxAttempts total attempts with strictly increasing delay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// NewRetryPolicy builds a policy from the configured reliability settings.
func NewRetryPolicy(maxAttempts int, baseDelay time.Duration, multiplier float64, maxDelay time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if multiplier <= 1 {
		multiplier = 2
	}
	if maxDelay <= 0 {
		maxDelay = time.Minute
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Multiplier:  multiplier,
		MaxDelay:    maxDelay,
	}
}

// Do runs op under the policy. On exhaustion the last attempt's error is
// returned with its classification intact so callers can still inspect it.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	wrapped := func() (struct{}, error) {
		err := op()
		if err == nil {
			return struct{}{}, nil
		}
		if errors.IsValidation(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.BaseDelay
	expo.Multiplier = p.Multiplier
	expo.MaxInterval = p.MaxDelay
	expo.RandomizationFactor = 0

	_, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	)
	return err
}

// Delay returns the backoff delay before the given restart attempt, used by
// capture workers between ERROR and re-INIT.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}
