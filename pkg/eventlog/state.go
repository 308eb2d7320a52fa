// SPDX-License-Identifier: Apache-2.0

package eventlog

import "time"

// DerivedState is a pure projection over the event sequence. It is never
// stored independently of the log; any cached copy must equal a full replay.
type DerivedState struct {
	Invocations int
	Successes   int
	Failures    int
	Rejections  int

	// LastTouched maps an action target to the sequence number of the last
	// event that touched it.
	LastTouched map[string]int64

	Errors       []string
	LastActivity time.Time
}

// DeriveState folds the event sequence from the empty initial state. It is
// a pure function: no side effects, and identical input yields identical
// output.
func DeriveState(events []Event) DerivedState {
	state := DerivedState{LastTouched: make(map[string]int64)}
	for _, e := range events {
		switch e.Type {
		case EventActionInvoked:
			state.Invocations++
		case EventActionResult:
			if e.Failed {
				state.Failures++
			} else {
				state.Successes++
			}
		case EventGuardRejected:
			state.Rejections++
		case EventErrorOccurred:
			state.Errors = append(state.Errors, e.Error)
		}
		if e.Action != nil && e.Action.Target != "" {
			state.LastTouched[e.Action.Target] = e.Sequence
		}
		if e.Timestamp.After(state.LastActivity) {
			state.LastActivity = e.Timestamp
		}
	}
	return state
}
