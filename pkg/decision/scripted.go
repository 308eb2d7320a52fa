// SPDX-License-Identifier: Apache-2.0

package decision

import (
	"context"
	"errors"
	"sync"

	"helmsman/pkg/core"
	"helmsman/pkg/memory"
)

// ScriptedSource returns a pre-defined sequence of decisions. Useful for
// testing multi-turn sessions without a live decision source.
type ScriptedSource struct {
	mu        sync.Mutex
	Decisions []Decision
	Err       error
	// CallCount tracks how many times Decide has been called.
	CallCount int
	// Repeat replays the last decision once the script is exhausted.
	Repeat bool

	last    Decision
	hasLast bool
}

// NewScriptedSource creates a source that plays back the given decisions.
func NewScriptedSource(decisions ...Decision) *ScriptedSource {
	return &ScriptedSource{Decisions: decisions}
}

// Decide pops the next scripted decision or returns the configured error.
func (s *ScriptedSource) Decide(_ context.Context, _ []memory.Message, _ []core.ActionSpec) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++

	if s.Err != nil {
		return Decision{}, s.Err
	}

	if len(s.Decisions) == 0 {
		if s.Repeat && s.hasLast {
			return s.last, nil
		}
		return Decision{}, errors.New("scripted source: no more decisions available")
	}

	d := s.Decisions[0]
	s.Decisions = s.Decisions[1:]
	s.last = d
	s.hasLast = true
	return d, nil
}

// AddDecision appends a decision to the script.
func (s *ScriptedSource) AddDecision(d Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Decisions = append(s.Decisions, d)
}
