package api

import "context"

// Engine is the orchestration facade. Start, Status and the control
// operations are the client-facing surface; CompleteActivity and
// FailActivity are the worker-facing completion channel.
//
// All operations on a single instance are serialized by the engine, so
// a caller racing a control command against a completion observes one
// consistent state, never a torn one.
type Engine interface {
	// Start creates a new instance with the given id and input and
	// dispatches the first stage. It is idempotent on id: starting an
	// instance that already exists returns the existing instance
	// without dispatching anything.
	Start(ctx context.Context, id string, input map[string]any) (*WorkflowInstance, error)

	// Status returns the last successfully persisted state of an
	// instance. Returns ErrInstanceNotFound for unknown ids.
	Status(ctx context.Context, id string) (*WorkflowInstance, error)

	// Pause stops the engine from issuing new activity calls or
	// advancing the stage. In-flight completions are still recorded.
	// A no-op on already-paused or terminal instances.
	Pause(ctx context.Context, id string) (*WorkflowInstance, error)

	// Resume lifts a pause and immediately re-evaluates stage
	// advancement, dispatching whatever became due while paused.
	Resume(ctx context.Context, id string) (*WorkflowInstance, error)

	// Terminate moves a non-terminal instance to TERMINATED
	// unconditionally. Work already handed to workers is not cancelled;
	// late completions are recorded in history for audit only.
	Terminate(ctx context.Context, id string) (*WorkflowInstance, error)

	// History returns the instance's full event log in order.
	History(ctx context.Context, id string) ([]HistoryEvent, error)

	// CompleteActivity records a successful activity attempt and
	// advances the instance.
	CompleteActivity(ctx context.Context, id, activity string, attempt int, result map[string]any) error

	// FailActivity records a failed activity attempt. The engine either
	// schedules a retry per the activity's policy or drives the
	// instance to FAILED.
	FailActivity(ctx context.Context, id, activity string, attempt int, failure Failure) error

	// Recover re-dispatches activity calls that were persisted as
	// scheduled but have no recorded outcome, for every RUNNING
	// instance. Intended to run on process startup before workers
	// accept new work. Returns the number of re-dispatched calls.
	Recover(ctx context.Context) (int, error)

	// Ping reports whether the durable store is reachable.
	Ping(ctx context.Context) error
}
