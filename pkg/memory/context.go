// SPDX-License-Identifier: Apache-2.0

// Package memory manages the in-memory context window fed to the decision
// source. Pruning here is context hygiene only; the event log is never
// pruned.
package memory

import "time"

// Message is one unit of context-window content.
type Message struct {
	Role      string    `json:"role"` // system, goal, observation, feedback
	Content   string    `json:"content"`
	Ephemeral bool      `json:"ephemeral,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage builds a timestamped message.
func NewMessage(role, content string, ephemeral bool) Message {
	return Message{
		Role:      role,
		Content:   content,
		Ephemeral: ephemeral,
		CreatedAt: time.Now().UTC(),
	}
}

// PruneConfig controls ephemeral pruning.
type PruneConfig struct {
	// KeepLast is how many of the newest surviving ephemeral messages to
	// retain.
	KeepLast int

	// MaxAge, when set, drops ephemeral messages older than this before
	// the KeepLast window is applied.
	MaxAge time.Duration
}

// PruneEphemeral partitions messages into permanent and ephemeral, drops
// ephemeral ones older than MaxAge, retains the most recent KeepLast of the
// remainder, and reassembles preserving the original relative order of all
// retained messages. Permanent messages are never reordered or dropped.
// The operation is idempotent.
func PruneEphemeral(messages []Message, cfg PruneConfig, now time.Time) []Message {
	// Decide survival per ephemeral message, oldest first.
	var survivors []int
	for i, msg := range messages {
		if !msg.Ephemeral {
			continue
		}
		if cfg.MaxAge > 0 && now.Sub(msg.CreatedAt) > cfg.MaxAge {
			continue
		}
		survivors = append(survivors, i)
	}
	if cfg.KeepLast >= 0 && len(survivors) > cfg.KeepLast {
		survivors = survivors[len(survivors)-cfg.KeepLast:]
	}

	keep := make(map[int]bool, len(survivors))
	for _, i := range survivors {
		keep[i] = true
	}

	result := make([]Message, 0, len(messages))
	for i, msg := range messages {
		if !msg.Ephemeral || keep[i] {
			result = append(result, msg)
		}
	}
	return result
}
