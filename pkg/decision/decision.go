// SPDX-License-Identifier: Apache-2.0

// Package decision defines the contract with the external decision source:
// the opaque, non-deterministic capability that proposes the next action or
// signals completion.
package decision

import (
	"context"

	"helmsman/pkg/core"
	"helmsman/pkg/memory"
)

// Decision is one answer from the decision source. Completion is an
// explicit signal distinct from "no action proposed"; treating silence as
// completion causes premature termination.
type Decision struct {
	// Action is the proposed next action. Nil only when Done.
	Action *core.Action

	// Done signals explicit completion.
	Done bool

	// Result carries the final result when Done.
	Result string

	// TokensUsed is the token cost of producing this decision, charged to
	// the session budget.
	TokensUsed int
}

// Source produces the next decision given accumulated context and the
// catalog of available actions. Implementations must be idempotent-safe to
// retry: the resilience wrapper may invoke Decide more than once per
// logical decision on transient failure.
type Source interface {
	Decide(ctx context.Context, messages []memory.Message, catalog []core.ActionSpec) (Decision, error)
}
