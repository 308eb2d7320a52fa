// SPDX-License-Identifier: Apache-2.0

// Package guard implements layered, priority-ordered admission control for
// proposed actions. Guards are pure predicates over (action, read-only
// context); mutation of budgets or event state happens only after a final
// approval, in the loop controller.
package guard

import (
	"context"
	"sort"

	"helmsman/pkg/core"
)

// Result captures the outcome of one guard evaluation.
type Result struct {
	// Allowed reports whether the action may proceed.
	Allowed bool

	// Reason is present when the action is rejected or when confirmation
	// is required. It is phrased so it can be fed back to the decision
	// source verbatim.
	Reason string

	// Override stops further guard evaluation regardless of Allowed.
	// An allowed override is a hard allow-rule that must not be
	// second-guessed by lower layers.
	Override bool

	// RequiresConfirmation flags the approval as pending human sign-off.
	// The caller must not execute until confirmation is externally granted.
	RequiresConfirmation bool

	// Guard names the layer that produced a rejection or override. Filled
	// in by the pipeline for observability.
	Guard string
}

// Allow is the default permissive result.
func Allow() Result { return Result{Allowed: true} }

// Deny rejects the action with a reason.
func Deny(reason string) Result { return Result{Allowed: false, Reason: reason} }

// CheckFunc evaluates one action. It must not mutate shared state.
type CheckFunc func(ctx context.Context, action core.Action) Result

// Guard pairs a check with its authority level. Lower priority numbers
// carry higher authority.
type Guard struct {
	Name     string
	Priority int
	Check    CheckFunc
}

// Canonical layer priorities. Safety is hard-coded and never configurable;
// task constraints sit at the bottom of the authority order.
const (
	PrioritySafety = 0
	PriorityBudget = 1
	PriorityPolicy = 2
	PriorityTask   = 3
)

// Pipeline evaluates guards in ascending priority order with subsumption:
// a more authoritative layer's rejection is returned verbatim and no lower
// layer is consulted.
type Pipeline struct {
	guards []Guard
}

// NewPipeline creates a pipeline from the given guards. Guards with equal
// priority keep their registration order.
func NewPipeline(guards ...Guard) *Pipeline {
	sorted := append([]Guard(nil), guards...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return &Pipeline{guards: sorted}
}

// Guards returns the guards in evaluation order.
func (p *Pipeline) Guards() []Guard {
	return append([]Guard(nil), p.guards...)
}

// Evaluate runs the guards in priority order and short-circuits on the
// first rejection or on an allowed override. If every guard allows and any
// flagged RequiresConfirmation, the overall approval carries that flag.
// With no guards configured the default is allow.
func (p *Pipeline) Evaluate(ctx context.Context, action core.Action) Result {
	var confirm bool
	var confirmReason string
	for _, g := range p.guards {
		r := g.Check(ctx, action)
		if !r.Allowed || r.Override {
			r.Guard = g.Name
			return r
		}
		if r.RequiresConfirmation && !confirm {
			confirm = true
			confirmReason = r.Reason
		}
	}
	return Result{Allowed: true, RequiresConfirmation: confirm, Reason: confirmReason}
}
