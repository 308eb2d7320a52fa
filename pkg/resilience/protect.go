// SPDX-License-Identifier: Apache-2.0

package resilience

import "context"

// Protect composes the circuit breaker with retry: every retry attempt is a
// fresh circuit check, so a breaker that opens mid-sequence fails the next
// attempt fast and, circuit-open being non-retryable, stops the sequence
// early. The two state machines stay independently testable.
func Protect(ctx context.Context, cb *CircuitBreaker, rc RetryConfig, fn func() error) error {
	if cb == nil {
		return rc.Do(ctx, fn)
	}
	return rc.Do(ctx, func() error {
		return cb.Execute(fn)
	})
}

// ProtectWithResult is Protect for functions that return a value.
func ProtectWithResult(ctx context.Context, cb *CircuitBreaker, rc RetryConfig, fn func() (any, error)) (any, error) {
	var result any
	err := Protect(ctx, cb, rc, func() error {
		var fnErr error
		result, fnErr = fn()
		return fnErr
	})
	return result, err
}
