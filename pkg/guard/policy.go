// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"context"
	"path"
	"strings"

	"helmsman/pkg/core"
)

// Rule defines a single policy rule. Rules are evaluated in order and the
// first match wins.
type Rule struct {
	ID     string
	Effect string // allow, deny, or confirm
	Type   string // glob over the action type, optional
	Target string // glob over the action target, optional
	// ArgPattern matches against string parameter values, optional.
	ArgPattern string
	Reason     string
}

// RuleSet evaluates policy rules in order.
type RuleSet struct {
	Rules []Rule
}

// NewRuleSet creates a rule set. A nil or empty rule list allows everything.
func NewRuleSet(rules []Rule) *RuleSet {
	return &RuleSet{Rules: append([]Rule(nil), rules...)}
}

// Evaluate returns the decision of the first matching rule, or a default
// allow when nothing matches.
func (r *RuleSet) Evaluate(action core.Action) Result {
	for _, rule := range r.Rules {
		if !rule.matches(action) {
			continue
		}
		switch strings.ToLower(rule.Effect) {
		case "deny":
			reason := rule.Reason
			if reason == "" {
				reason = "denied by policy rule " + rule.ID
			}
			return Deny(reason)
		case "confirm":
			reason := rule.Reason
			if reason == "" {
				reason = "confirmation required by policy rule " + rule.ID
			}
			return Result{Allowed: true, RequiresConfirmation: true, Reason: reason}
		default:
			return Allow()
		}
	}
	return Allow()
}

func (rule Rule) matches(action core.Action) bool {
	if rule.Type != "" && !matchPattern(rule.Type, action.Type) {
		return false
	}
	if rule.Target != "" && !matchPattern(rule.Target, action.Target) {
		return false
	}
	if rule.ArgPattern != "" {
		found := false
		for _, v := range action.Parameters {
			s, ok := v.(string)
			if ok && strings.Contains(s, rule.ArgPattern) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchPattern(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, value)
	if err == nil && ok {
		return true
	}
	return pattern == value
}

// Policy returns the policy guard backed by the rule set.
func Policy(rules *RuleSet) Guard {
	return Guard{
		Name:     "policy",
		Priority: PriorityPolicy,
		Check: func(_ context.Context, action core.Action) Result {
			return rules.Evaluate(action)
		},
	}
}
