// SPDX-License-Identifier: Apache-2.0

package core

import (
	"time"

	"github.com/google/uuid"
)

// Task is the root unit of work handed to the orchestrator.
type Task struct {
	ID          string
	Description string
	CreatedAt   time.Time
	Metadata    map[string]string
}

// NewTask creates a task with a generated ID.
func NewTask(description string) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
}

// Subtask is one delegable slice of a task, produced by decomposition.
// A subtask is consumed by exactly one worker and discarded once its
// WorkerResult is recorded; it is never retried by spawning sub-subtasks.
type Subtask struct {
	ID          string
	ParentID    string
	Type        string
	Description string
}

// NewSubtask creates a subtask bound to its parent task.
func NewSubtask(parentID, subtaskType, description string) Subtask {
	return Subtask{
		ID:          uuid.NewString(),
		ParentID:    parentID,
		Type:        subtaskType,
		Description: description,
	}
}

// WorkerMetrics carries the resource consumption of one worker session.
type WorkerMetrics struct {
	Iterations int
	APICalls   int
	Tokens     int
	Duration   time.Duration
}

// WorkerResult is the terminal result a worker reports back to the
// orchestrator. Cancelled workers still emit one with Success false so
// aggregation stays complete.
type WorkerResult struct {
	SubtaskID string
	Success   bool
	Output    string
	Metrics   WorkerMetrics
}
