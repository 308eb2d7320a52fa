// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	herrors "helmsman/pkg/errors"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		IsRetryable: Retryable,
	}
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := fastRetry().WithMaxAttempts(2).Do(context.Background(), func() error {
		attempts++
		return herrors.New(herrors.CodeUnavailable, "still down", nil)
	})

	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRetryablePropagatesImmediately(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func() error {
		attempts++
		return herrors.New(herrors.CodeValidation, "malformed", nil)
	})

	if err == nil {
		t.Errorf("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := fastRetry().WithBaseDelay(100 * time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := config.Do(ctx, func() error {
		attempts++
		return errors.New("timeout")
	})

	if !herrors.IsCode(err, herrors.CodeTimeout) {
		t.Errorf("expected timeout-coded context error, got %v", err)
	}
	if attempts < 1 {
		t.Errorf("expected at least 1 attempt, got %d", attempts)
	}
}

func TestBackoffSchedule(t *testing.T) {
	config := RetryConfig{
		BaseDelay: 1000 * time.Millisecond,
		MaxDelay:  30000 * time.Millisecond,
		Jitter:    0,
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond, // capped
	}
	for attempt, expected := range want {
		if got := config.Backoff(attempt); got != expected {
			t.Errorf("attempt %d: delay %v, want %v", attempt, got, expected)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	config := RetryConfig{
		BaseDelay: 1000 * time.Millisecond,
		MaxDelay:  30000 * time.Millisecond,
		Jitter:    0.5,
	}

	for i := 0; i < 100; i++ {
		d := config.Backoff(0)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±50%% of base", d)
		}
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout code", herrors.New(herrors.CodeTimeout, "slow", nil), true},
		{"rate limit code", herrors.New(herrors.CodeRateLimit, "429", nil), true},
		{"unavailable code", herrors.New(herrors.CodeUnavailable, "503", nil), true},
		{"circuit open never retried", herrors.New(herrors.CodeCircuitOpen, "open", nil), false},
		{"validation not transient", herrors.New(herrors.CodeValidation, "bad", nil), false},
		{"untyped timeout signal", errors.New("request timed out"), true},
		{"untyped connection reset", errors.New("read: connection reset by peer"), true},
		{"untyped overloaded", errors.New("server overloaded, try later"), true},
		{"untyped 503", errors.New("unexpected status 503"), true},
		{"untyped unrelated", errors.New("file not found"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		Name:             "test",
	})

	if cb.State() != StateClosed {
		t.Fatalf("expected initial state closed")
	}

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("failure") })
	}
	if cb.State() != StateOpen {
		t.Errorf("expected open after 3 consecutive failures, got %s", cb.State())
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		Name:             "test",
	})

	_ = cb.Execute(func() error { return errors.New("fail") })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errors.New("fail") })

	if cb.State() != StateClosed {
		t.Errorf("expected closed: success reset the failure count")
	}
}

func TestCircuitBreakerFailsFastWithoutInvoking(t *testing.T) {
	clock := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenDuration:     100 * time.Millisecond,
		Name:             "test",
	})
	cb.now = func() time.Time { return clock }

	_ = cb.Execute(func() error { return errors.New("fail") })
	if cb.State() != StateOpen {
		t.Fatalf("expected open")
	}

	// Before OpenDuration elapses the wrapped function must not run.
	clock = clock.Add(50 * time.Millisecond)
	err := cb.Execute(func() error {
		t.Fatalf("should not execute while open")
		return nil
	})
	if !herrors.IsCode(err, herrors.CodeCircuitOpen) {
		t.Errorf("expected circuit open error, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	clock := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenDuration:     100 * time.Millisecond,
		Name:             "test",
	})
	cb.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("fail") })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open")
	}

	// After OpenDuration the next call transitions to half-open and is attempted.
	clock = clock.Add(100 * time.Millisecond)
	invoked := false
	_ = cb.Execute(func() error { invoked = true; return nil })
	if !invoked {
		t.Errorf("expected half-open probe to be attempted")
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("expected half-open after first probe success, got %s", cb.State())
	}

	_ = cb.Execute(func() error { return nil })
	if cb.State() != StateClosed {
		t.Errorf("expected closed after 2 successes in half-open, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OpenDuration:     100 * time.Millisecond,
		Name:             "test",
	})
	cb.now = func() time.Time { return clock }

	_ = cb.Execute(func() error { return errors.New("fail") })
	clock = clock.Add(100 * time.Millisecond)

	_ = cb.Execute(func() error { return errors.New("fail again") })
	if cb.State() != StateOpen {
		t.Errorf("expected any half-open failure to reopen, got %s", cb.State())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Name:             "test",
	})

	_ = cb.Execute(func() error { return errors.New("fail") })
	if cb.State() != StateOpen {
		t.Fatalf("expected open")
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("expected closed after reset")
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("call failed after reset: %v", err)
	}
}

func TestProtectStopsWhenBreakerOpensMidSequence(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		OpenDuration:     time.Minute,
		Name:             "test",
	})

	invocations := 0
	err := Protect(context.Background(), cb, fastRetry().WithMaxAttempts(5), func() error {
		invocations++
		return herrors.New(herrors.CodeUnavailable, "down", nil)
	})

	// Two failures open the breaker; the third attempt fails fast and,
	// being non-retryable, ends the sequence.
	if invocations != 2 {
		t.Errorf("expected 2 invocations before breaker opened, got %d", invocations)
	}
	if !herrors.IsCode(err, herrors.CodeCircuitOpen) {
		t.Errorf("expected circuit open error, got %v", err)
	}
}

func TestProtectWithoutBreaker(t *testing.T) {
	attempts := 0
	err := Protect(context.Background(), nil, fastRetry(), func() error {
		attempts++
		if attempts < 2 {
			return herrors.New(herrors.CodeTimeout, "slow", nil)
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, func() error {
		time.Sleep(time.Second)
		return nil
	})
	if !herrors.IsCode(err, herrors.CodeTimeout) {
		t.Errorf("expected timeout error, got %v", err)
	}

	err = WithTimeout(context.Background(), time.Second, func() error { return nil })
	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
}

func TestWithFallback(t *testing.T) {
	value, err := WithFallback(context.Background(), func() (any, error) {
		return nil, errors.New("primary down")
	}, &StaticFallback{Value: "cached answer"})

	if err != nil {
		t.Errorf("expected fallback success, got %v", err)
	}
	if value != "cached answer" {
		t.Errorf("expected fallback value, got %v", value)
	}
}
