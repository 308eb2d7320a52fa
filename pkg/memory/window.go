// SPDX-License-Identifier: Apache-2.0

package memory

import "time"

// TruncationStrategy defines how to manage context-window length.
type TruncationStrategy interface {
	// Truncate reduces messages while preserving context.
	Truncate(messages []Message) []Message
}

// WindowStrategy keeps only the last N messages. System messages can be
// preserved regardless of the window.
type WindowStrategy struct {
	MaxMessages int
	// KeepSystemMessages preserves system messages regardless of window.
	KeepSystemMessages bool
}

// Truncate implements TruncationStrategy.
func (w *WindowStrategy) Truncate(messages []Message) []Message {
	if len(messages) <= w.MaxMessages {
		return messages
	}

	if !w.KeepSystemMessages {
		return messages[len(messages)-w.MaxMessages:]
	}

	var systemMsgs []Message
	var otherMsgs []Message
	for _, msg := range messages {
		if msg.Role == "system" {
			systemMsgs = append(systemMsgs, msg)
		} else {
			otherMsgs = append(otherMsgs, msg)
		}
	}

	available := w.MaxMessages - len(systemMsgs)
	if available < 0 {
		available = 0
	}
	if len(otherMsgs) > available {
		otherMsgs = otherMsgs[len(otherMsgs)-available:]
	}

	result := make([]Message, 0, len(systemMsgs)+len(otherMsgs))
	result = append(result, systemMsgs...)
	result = append(result, otherMsgs...)
	return result
}

// EphemeralStrategy applies PruneEphemeral as a TruncationStrategy.
type EphemeralStrategy struct {
	Config PruneConfig
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Truncate implements TruncationStrategy.
func (e *EphemeralStrategy) Truncate(messages []Message) []Message {
	now := time.Now().UTC()
	if e.Now != nil {
		now = e.Now()
	}
	return PruneEphemeral(messages, e.Config, now)
}
