// SPDX-License-Identifier: Apache-2.0

package core

import "time"

// Budget is the mutable resource ledger for one loop session. It is owned
// exclusively by the controller that created it and is never shared across
// concurrent workers; the orchestrator sizes a fresh Budget per worker at
// delegation time.
type Budget struct {
	MaxTokens   int
	MaxAPICalls int
	MaxDuration time.Duration

	UsedTokens   int
	UsedAPICalls int
	StartTime    time.Time
}

// NewBudget creates a budget ledger with the clock started.
func NewBudget(maxTokens, maxAPICalls int, maxDuration time.Duration) *Budget {
	return &Budget{
		MaxTokens:   maxTokens,
		MaxAPICalls: maxAPICalls,
		MaxDuration: maxDuration,
		StartTime:   time.Now().UTC(),
	}
}

// Elapsed returns the wall-clock time consumed since the session started.
func (b *Budget) Elapsed() time.Duration {
	return time.Since(b.StartTime)
}

// Charge records consumption for one completed iteration.
func (b *Budget) Charge(tokens, apiCalls int) {
	b.UsedTokens += tokens
	b.UsedAPICalls += apiCalls
}

// Exhausted reports whether any ledger limit has been reached, with the
// reason for the first exhausted dimension. Limits set to zero are unbounded.
func (b *Budget) Exhausted() (bool, string) {
	if b.MaxAPICalls > 0 && b.UsedAPICalls >= b.MaxAPICalls {
		return true, "api call budget exhausted"
	}
	if b.MaxTokens > 0 && b.UsedTokens >= b.MaxTokens {
		return true, "token budget exhausted"
	}
	if b.MaxDuration > 0 && b.Elapsed() >= b.MaxDuration {
		return true, "time budget exhausted"
	}
	return false, ""
}
