// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Helmsman.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Helmsman errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeValidation indicates a malformed action. Recoverable: the
	// rejection reason is fed back to the decision source.
	CodeValidation ErrorCode = "VALIDATION_ERROR"

	// CodePolicyDenied indicates a guard rejected the action.
	CodePolicyDenied ErrorCode = "POLICY_DENIED"

	// CodeBudgetExhausted indicates a session resource ledger ran out.
	// Terminal for the session.
	CodeBudgetExhausted ErrorCode = "BUDGET_EXHAUSTED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeUnavailable indicates a dependency returned a server-side or
	// connection-level failure (5xx class, connection reset, overloaded).
	CodeUnavailable ErrorCode = "UNAVAILABLE"

	// CodeCircuitOpen indicates the circuit breaker rejected the call
	// without invoking the dependency.
	CodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"

	// CodeLogCorrupt indicates a persisted event failed to parse on load.
	// Fatal: replaying a partial log would produce a state that never existed.
	CodeLogCorrupt ErrorCode = "LOG_CORRUPT"

	// CodeDecision indicates a decision source error.
	CodeDecision ErrorCode = "DECISION_ERROR"
)

// HelmsmanError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type HelmsmanError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *HelmsmanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *HelmsmanError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *HelmsmanError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Context:     e.Context,
		Recoverable: e.Recoverable,
	})
}

// New creates a new HelmsmanError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *HelmsmanError {
	return &HelmsmanError{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *HelmsmanError) WithContext(key string, value interface{}) *HelmsmanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *HelmsmanError) WithRecoverable(recoverable bool) *HelmsmanError {
	e.Recoverable = recoverable
	return e
}

// AsHelmsmanError attempts to convert an error to a HelmsmanError.
// Returns the error as HelmsmanError if it is one, or wraps it otherwise.
func AsHelmsmanError(err error) *HelmsmanError {
	if err == nil {
		return nil
	}
	if he, ok := err.(*HelmsmanError); ok {
		return he
	}
	// Wrap unknown error as internal
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the error code, or CodeInternal for untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if he, ok := err.(*HelmsmanError); ok {
		return he.Code
	}
	return CodeInternal
}

// IsCode reports whether err is a HelmsmanError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	he, ok := err.(*HelmsmanError)
	return ok && he.Code == code
}
