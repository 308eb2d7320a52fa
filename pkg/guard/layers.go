// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"context"
	"fmt"
	"path"
	"strings"

	"helmsman/pkg/core"
)

// destructivePatterns are hard-coded fragments that block an action
// unconditionally when found in its target or string parameters. Not
// configurable on purpose.
var destructivePatterns = []string{
	"rm -rf /",
	"rm -fr /",
	"mkfs",
	"dd if=",
	":(){",
	"> /dev/sd",
	"DROP TABLE",
	"DROP DATABASE",
	"TRUNCATE TABLE",
}

// protectedTargets are target globs the safety layer never lets an action
// touch.
var protectedTargets = []string{
	"/etc/*",
	"/boot/*",
	"/dev/*",
	"/proc/*",
	"/sys/*",
}

// Structural returns the validation guard. A malformed action is rejected
// with a reason the decision source can act on; this fails one iteration,
// not the session.
func Structural() Guard {
	return Guard{
		Name:     "structural",
		Priority: PrioritySafety,
		Check: func(_ context.Context, action core.Action) Result {
			if strings.TrimSpace(action.Type) == "" {
				return Deny("action is missing required field 'type'")
			}
			return Allow()
		},
	}
}

// Safety returns the hard-coded safety guard that blocks destructive
// patterns and protected targets unconditionally.
func Safety() Guard {
	return Guard{
		Name:     "safety",
		Priority: PrioritySafety,
		Check: func(_ context.Context, action core.Action) Result {
			haystacks := []string{action.Target}
			for _, v := range action.Parameters {
				if s, ok := v.(string); ok {
					haystacks = append(haystacks, s)
				}
			}
			for _, h := range haystacks {
				for _, pattern := range destructivePatterns {
					if strings.Contains(strings.ToLower(h), strings.ToLower(pattern)) {
						return Deny(fmt.Sprintf("blocked destructive pattern %q", pattern))
					}
				}
			}
			if action.Target != "" {
				for _, pattern := range protectedTargets {
					if ok, err := path.Match(pattern, action.Target); err == nil && ok {
						return Deny(fmt.Sprintf("target %q is protected", action.Target))
					}
				}
			}
			return Allow()
		},
	}
}

// Trusted returns a safety allow-rule: actions of the listed types are
// approved with override so no lower layer can second-guess them.
func Trusted(actionTypes ...string) Guard {
	allowed := make(map[string]bool, len(actionTypes))
	for _, t := range actionTypes {
		allowed[strings.TrimSpace(t)] = true
	}
	return Guard{
		Name:     "trusted",
		Priority: PrioritySafety,
		Check: func(_ context.Context, action core.Action) Result {
			if allowed[action.Type] {
				return Result{Allowed: true, Override: true}
			}
			return Allow()
		},
	}
}

// BudgetGuard rejects when any ledger dimension is exhausted. The rejection
// carries Override because budget exhaustion is terminal for the session,
// unlike ordinary policy rejections that are fed back to the decision source.
func BudgetGuard(budget *core.Budget) Guard {
	return Guard{
		Name:     "budget",
		Priority: PriorityBudget,
		Check: func(_ context.Context, _ core.Action) Result {
			if exhausted, reason := budget.Exhausted(); exhausted {
				return Result{Allowed: false, Override: true, Reason: reason}
			}
			return Allow()
		},
	}
}

// TaskConstraint wraps an arbitrary check at the task-constraint layer.
func TaskConstraint(name string, check CheckFunc) Guard {
	return Guard{Name: name, Priority: PriorityTask, Check: check}
}
