package api

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	StatusRunning    Status = "RUNNING"
	StatusPaused     Status = "PAUSED"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusTerminated Status = "TERMINATED"
)

// Terminal reports whether the status is absorbing: once an instance
// reaches a terminal status, no event changes it again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	}
	return false
}

// Stage is the progress of a RUNNING instance through the stage graph.
type Stage string

const (
	StageNotStarted Stage = "NOT_STARTED"
	StageParallel   Stage = "PARALLEL_PHASE"
	StageSequential Stage = "SEQUENTIAL_PHASE"
	StageDone       Stage = "DONE"
)

// ActivityState tracks one activity call owned by an instance.
// At most one call per (instance, activity) is outstanding at a time.
type ActivityState struct {
	// Attempts counts dispatches so far, including the one in flight.
	Attempts int

	// InFlight is true between a scheduled event and the matching
	// completion, retry or failure event.
	InFlight bool

	// Result is the activity's output payload. Once set it is never
	// overwritten or lost.
	Result map[string]any

	// Failure is set when the activity failed with no attempts left.
	Failure *Failure

	// LastError holds the message of the most recent failed attempt
	// that is still going to be retried.
	LastError string
}

// Succeeded reports whether the activity has a durably recorded result.
func (a *ActivityState) Succeeded() bool {
	return a != nil && a.Result != nil
}

// Failed reports whether the activity failed terminally.
func (a *ActivityState) Failed() bool {
	return a != nil && a.Failure != nil
}

// WorkflowInstance is the materialized state of one workflow run.
// It is a pure fold over the instance's history events; the engine is
// the only writer.
type WorkflowInstance struct {
	ID       string
	Workflow string
	Status   Status
	Stage    Stage

	// Input is the original start payload. Immutable after creation.
	Input map[string]any

	// Activities holds per-activity call state keyed by activity name.
	Activities map[string]*ActivityState

	// Output is the aggregated result, set only on COMPLETED.
	Output map[string]any

	// Error is the failure description, set only on FAILED.
	Error string

	CreatedAt time.Time
	UpdatedAt time.Time

	// LastSeq is the sequence number of the last folded history event.
	LastSeq int64
}

// Activity returns the state for the named activity, which may be nil
// if no call has been issued yet.
func (i *WorkflowInstance) Activity(name string) *ActivityState {
	return i.Activities[name]
}

// Results returns the recorded result payloads keyed by activity name.
func (i *WorkflowInstance) Results() map[string]map[string]any {
	out := make(map[string]map[string]any, len(i.Activities))
	for name, as := range i.Activities {
		if as.Succeeded() {
			out[name] = as.Result
		}
	}
	return out
}

// Clone returns a deep copy of the instance. The engine folds events
// into a copy so that a failed persist leaves the loaded state untouched.
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	cp := *i
	cp.Activities = make(map[string]*ActivityState, len(i.Activities))
	for name, as := range i.Activities {
		asCp := *as
		cp.Activities[name] = &asCp
	}
	return &cp
}

// Definition describes a workflow as a parallel fan-out/fan-in phase
// followed by an ordered sequential phase.
type Definition struct {
	Name string

	// Parallel activities are all dispatched together and joined on
	// before the sequential phase starts.
	Parallel []string

	// Sequential activities run one after another once every parallel
	// result has been durably recorded.
	Sequential []string

	// Combine builds the input for the first sequential activity from
	// the instance input and the parallel results. If nil, the instance
	// input is passed through unchanged.
	Combine func(input map[string]any, results map[string]map[string]any) map[string]any
}

// Validate checks the definition against a registry of activities.
func (d Definition) Validate(reg *Registry) error {
	if d.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if len(d.Parallel) == 0 && len(d.Sequential) == 0 {
		return fmt.Errorf("workflow %s has no activities", d.Name)
	}
	seen := make(map[string]struct{})
	for _, name := range append(append([]string{}, d.Parallel...), d.Sequential...) {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("workflow %s references activity %s twice", d.Name, name)
		}
		seen[name] = struct{}{}
		if _, ok := reg.Lookup(name); !ok {
			return fmt.Errorf("workflow %s references unregistered activity %s", d.Name, name)
		}
	}
	return nil
}

// Summary describes the static shape of the stage graph. It depends
// only on the definition, never on runtime data.
func (d Definition) Summary() map[string]any {
	return map[string]any{
		"parallel_activities":   append([]string{}, d.Parallel...),
		"sequential_activities": append([]string{}, d.Sequential...),
		"total_activities":      len(d.Parallel) + len(d.Sequential),
	}
}
