// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"

	"helmsman/pkg/errors"
)

// FallbackStrategy defines a fallback behavior when a primary operation
// fails. The loop controller uses one to surface a degraded result when a
// non-critical dependency is down instead of terminating the session.
type FallbackStrategy interface {
	// Execute runs the fallback operation.
	Execute(ctx context.Context, primaryErr error) (any, error)
}

// FallbackFunc wraps a function as a FallbackStrategy.
type FallbackFunc func(ctx context.Context, primaryErr error) (any, error)

// Execute implements FallbackStrategy.
func (f FallbackFunc) Execute(ctx context.Context, err error) (any, error) {
	return f(ctx, err)
}

// StaticFallback returns a static value on failure.
type StaticFallback struct {
	Value any
}

// Execute implements FallbackStrategy.
func (s *StaticFallback) Execute(_ context.Context, _ error) (any, error) {
	return s.Value, nil
}

// ErrorFallback returns an error with additional context.
type ErrorFallback struct {
	Message string
}

// Execute implements FallbackStrategy.
func (e *ErrorFallback) Execute(_ context.Context, primaryErr error) (any, error) {
	return nil, errors.New(errors.CodeInternal, e.Message, primaryErr).
		WithRecoverable(false)
}

// WithFallback executes fn, and on error, uses the fallback strategy.
func WithFallback(ctx context.Context, fn func() (any, error), fallback FallbackStrategy) (any, error) {
	value, err := fn()
	if err == nil {
		return value, nil
	}

	return fallback.Execute(ctx, err)
}
