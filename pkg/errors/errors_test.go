// SPDX-License-Identifier: Apache-2.0

package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := New(CodeValidation, "bad action", nil)
	if !strings.Contains(err.Error(), "VALIDATION_ERROR") {
		t.Errorf("expected code in message, got %q", err.Error())
	}

	cause := stderrors.New("boom")
	wrapped := New(CodeUnavailable, "dependency failed", cause)
	if !strings.Contains(wrapped.Error(), "boom") {
		t.Errorf("expected cause in message, got %q", wrapped.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := New(CodeInternal, "wrapper", cause)

	if !stderrors.Is(err, cause) {
		t.Errorf("expected errors.Is to find the cause")
	}
}

func TestWithContextChaining(t *testing.T) {
	err := New(CodeTimeout, "timed out", nil).
		WithContext("attempt", 3).
		WithRecoverable(true)

	if err.Context["attempt"] != 3 {
		t.Errorf("expected context value, got %v", err.Context["attempt"])
	}
	if !err.Recoverable {
		t.Errorf("expected recoverable")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != "" {
		t.Errorf("expected empty code for nil")
	}
	if CodeOf(stderrors.New("plain")) != CodeInternal {
		t.Errorf("expected internal code for untyped error")
	}
	if CodeOf(New(CodeCircuitOpen, "open", nil)) != CodeCircuitOpen {
		t.Errorf("expected circuit open code")
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeBudgetExhausted, "out of budget", nil)
	if !IsCode(err, CodeBudgetExhausted) {
		t.Errorf("expected IsCode to match")
	}
	if IsCode(err, CodeTimeout) {
		t.Errorf("expected IsCode to reject wrong code")
	}
	if IsCode(stderrors.New("plain"), CodeInternal) {
		t.Errorf("expected IsCode to reject untyped errors")
	}
}

func TestAsHelmsmanError(t *testing.T) {
	plain := stderrors.New("plain")
	wrapped := AsHelmsmanError(plain)
	if wrapped.Code != CodeInternal {
		t.Errorf("expected internal wrap, got %s", wrapped.Code)
	}

	typed := New(CodeRateLimit, "slow down", nil)
	if AsHelmsmanError(typed) != typed {
		t.Errorf("expected typed error returned as-is")
	}
}
