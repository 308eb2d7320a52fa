// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"strings"

	"helmsman/pkg/errors"
)

// transientSignals are message fragments that mark an untyped error as
// transient.
var transientSignals = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"rate limit",
	"overloaded",
	"status 500",
	"status 502",
	"status 503",
	"status 529",
	"temporarily unavailable",
}

// Retryable classifies an error as transient. Typed errors are classified
// by code; untyped errors by their message signal. Errors outside the
// classification propagate immediately without consuming further attempts.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	if he, ok := err.(*errors.HelmsmanError); ok {
		switch he.Code {
		case errors.CodeTimeout, errors.CodeRateLimit, errors.CodeUnavailable:
			return true
		case errors.CodeCircuitOpen:
			// A known-down dependency must not consume retry budget.
			return false
		default:
			return he.Recoverable
		}
	}

	msg := strings.ToLower(err.Error())
	for _, signal := range transientSignals {
		if strings.Contains(msg, signal) {
			return true
		}
	}
	return false
}
