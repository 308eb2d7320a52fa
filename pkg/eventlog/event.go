// SPDX-License-Identifier: Apache-2.0

// Package eventlog provides the append-only session record and the pure
// projection that derives live state from it. The log is never mutated or
// pruned; full replay is the only recovery path.
package eventlog

import (
	"time"

	"helmsman/pkg/core"
)

// EventType discriminates the event variants.
type EventType string

const (
	EventActionInvoked EventType = "action_invoked"
	EventActionResult  EventType = "action_result"
	EventStateChanged  EventType = "state_changed"
	EventErrorOccurred EventType = "error_occurred"
	EventGuardRejected EventType = "guard_rejected"
)

// Event is an immutable record of one thing that happened. Total ordering
// is by Sequence; timestamps alone cannot break ties between events
// appended within the same clock tick.
type Event struct {
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`

	// Variant payloads. Each variant carries the minimal fields needed to
	// reconstruct that fact.
	Action *core.Action `json:"action,omitempty"`
	Output string       `json:"output,omitempty"`
	Failed bool         `json:"failed,omitempty"`
	Reason string       `json:"reason,omitempty"`
	Error  string       `json:"error,omitempty"`
	From   string       `json:"from,omitempty"`
	To     string       `json:"to,omitempty"`
}

// ActionInvoked builds an action_invoked event payload.
func ActionInvoked(sessionID string, action core.Action) Event {
	return Event{Type: EventActionInvoked, SessionID: sessionID, Action: &action}
}

// ActionResult builds an action_result event payload.
func ActionResult(sessionID string, action core.Action, output string, failed bool) Event {
	return Event{Type: EventActionResult, SessionID: sessionID, Action: &action, Output: output, Failed: failed}
}

// StateChanged builds a state_changed event payload.
func StateChanged(sessionID, from, to string) Event {
	return Event{Type: EventStateChanged, SessionID: sessionID, From: from, To: to}
}

// ErrorOccurred builds an error_occurred event payload.
func ErrorOccurred(sessionID string, err error) Event {
	return Event{Type: EventErrorOccurred, SessionID: sessionID, Error: err.Error()}
}

// GuardRejected builds a guard_rejected event payload.
func GuardRejected(sessionID string, action core.Action, reason string) Event {
	return Event{Type: EventGuardRejected, SessionID: sessionID, Action: &action, Reason: reason}
}
