// Package taskqueue delivers activity-execution requests from the
// orchestration engine to workers.
package taskqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task is one activity-execution request. It is owned by the instance
// that issued it; the engine never enqueues a duplicate for the same
// (instance, activity, attempt).
type Task struct {
	ID         string
	InstanceID string
	Activity   string
	Attempt    int

	// Input is the payload the activity runs with.
	Input map[string]any

	// Timeout bounds the attempt. Zero means the activity's default.
	Timeout time.Duration

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible for
	// processing; used for retry backoff. Zero means immediately.
	NotBefore time.Time
}

// NewTask builds a Task with a fresh id and enqueue timestamp.
func NewTask(instanceID, activity string, attempt int, input map[string]any) Task {
	return Task{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		Activity:   activity,
		Attempt:    attempt,
		Input:      input,
		EnqueuedAt: time.Now(),
	}
}

// Queue is the task queue contract.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking
	// until one is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
