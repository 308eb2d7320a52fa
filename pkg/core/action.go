// SPDX-License-Identifier: Apache-2.0

// Package core holds the shared vocabulary of the Helmsman runtime: actions,
// results, budgets, and the task entities exchanged with the orchestrator.
package core

// Action is a proposed unit of work produced by the decision source.
// Immutable once created.
type Action struct {
	// Type identifies the capability requested (e.g. "file.read", "shell").
	Type string `json:"type"`

	// Target is an optional resource locator for the action.
	Target string `json:"target,omitempty"`

	// Parameters is the opaque key/value payload for the capability.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ActionSpec describes one capability available to a decision source.
// Worker catalogs never include the delegation capability; the one-level
// bound is enforced by omission, not by a runtime depth counter.
type ActionSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ExecResult is the outcome of executing one approved action. Executors
// return failures as data so the loop can feed them back into context
// instead of crashing the session.
type ExecResult struct {
	Output string `json:"output"`
	Failed bool   `json:"failed,omitempty"`
}
