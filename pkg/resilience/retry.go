// SPDX-License-Identifier: Apache-2.0
// Package resilience provides retry and circuit breaker patterns for Helmsman.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"helmsman/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (must be >= 1).
	MaxAttempts int

	// BaseDelay is the initial backoff delay.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// Jitter perturbs the delay multiplicatively. Value between 0 and 1;
	// 0.1 means ±10% uniform noise. The result is clamped to >= 0.
	Jitter float64

	// IsRetryable determines if an error should be retried.
	// If nil, Retryable is used.
	IsRetryable func(error) bool
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.1,
		IsRetryable: Retryable,
	}
}

// WithMaxAttempts returns a new config with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithBaseDelay returns a new config with BaseDelay set.
func (rc RetryConfig) WithBaseDelay(d time.Duration) RetryConfig {
	rc.BaseDelay = d
	return rc
}

// WithJitter returns a new config with Jitter set.
func (rc RetryConfig) WithJitter(j float64) RetryConfig {
	rc.Jitter = j
	return rc
}

// WithIsRetryable returns a new config with IsRetryable set.
func (rc RetryConfig) WithIsRetryable(fn func(error) bool) RetryConfig {
	rc.IsRetryable = fn
	return rc
}

// Do executes fn with retry logic, returning the last error if all attempts
// fail. Non-retryable errors propagate immediately.
func (rc RetryConfig) Do(ctx context.Context, fn func() error) error {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.IsRetryable == nil {
		rc.IsRetryable = Retryable
	}

	var lastErr error
	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := rc.Backoff(attempt - 1)
			select {
			case <-ctx.Done():
				return errors.New(errors.CodeTimeout, "context canceled during retry", ctx.Err()).
					WithContext("attempt", attempt).
					WithContext("max_attempts", rc.MaxAttempts)
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !rc.IsRetryable(err) {
			return err
		}
	}

	return lastErr
}

// DoWithResult executes fn with retry logic, returning both result and error.
func (rc RetryConfig) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var result any
	err := rc.Do(ctx, func() error {
		var fnErr error
		result, fnErr = fn()
		return fnErr
	})
	return result, err
}

// Backoff computes the delay before retry attempt n (0-indexed):
// min(BaseDelay * 2^n, MaxDelay), perturbed by ±Jitter and clamped to >= 0.
func (rc RetryConfig) Backoff(attempt int) time.Duration {
	delay := time.Duration(float64(rc.BaseDelay) * math.Pow(2, float64(attempt)))
	if rc.MaxDelay > 0 && delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}

	if rc.Jitter > 0 {
		noise := 2 * rc.Jitter * (rand.Float64() - 0.5)
		delay = time.Duration(float64(delay) * (1 + noise))
		if delay < 0 {
			delay = 0
		}
	}

	return delay
}
