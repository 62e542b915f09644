// Package state implements the workflow instance state machine as a
// pure fold over history events. The engine appends events; this
// package decides what each event means for the snapshot. Keeping the
// transition logic here, free of I/O, is what makes replay recovery
// and the fold(event_log) == snapshot invariant testable in isolation.
package state

import (
	"github.com/mlahtinen/virta/pkg/api"
)

// New returns the empty snapshot an instance has before its start
// event is folded.
func New(id string, workflow string) *api.WorkflowInstance {
	return &api.WorkflowInstance{
		ID:         id,
		Workflow:   workflow,
		Stage:      api.StageNotStarted,
		Activities: make(map[string]*api.ActivityState),
	}
}

// Apply folds a single history event into the instance snapshot.
//
// Apply is deterministic and total: any event is accepted in any state,
// and events that are not meaningful in the current state (duplicate
// controls, completions after a terminal status) update only the
// sequence bookkeeping. Completions of the two parallel activities
// commute: either arrival order folds to the same snapshot.
func Apply(def api.Definition, inst *api.WorkflowInstance, ev api.HistoryEvent) {
	inst.LastSeq = ev.Seq
	if ev.At.After(inst.UpdatedAt) {
		inst.UpdatedAt = ev.At
	}

	switch ev.Type {
	case api.EventInstanceStarted:
		inst.Status = api.StatusRunning
		inst.Stage = api.StageParallel
		inst.Input = ev.Payload
		inst.CreatedAt = ev.At

	case api.EventActivityScheduled:
		if inst.Status.Terminal() {
			return
		}
		as := activityState(inst, ev.Activity)
		as.Attempts = ev.Attempt
		as.InFlight = true

	case api.EventActivityCompleted:
		if inst.Status.Terminal() {
			// Late completions stay in history for audit only.
			return
		}
		as := activityState(inst, ev.Activity)
		as.InFlight = false
		if as.Result == nil {
			as.Result = ev.Payload
		}
		advanceStage(def, inst)

	case api.EventActivityRetrying:
		if inst.Status.Terminal() {
			return
		}
		as := activityState(inst, ev.Activity)
		as.InFlight = false
		as.LastError = ev.Detail

	case api.EventActivityFailed:
		if inst.Status.Terminal() {
			return
		}
		as := activityState(inst, ev.Activity)
		as.InFlight = false
		as.Failure = &api.Failure{Kind: ev.Kind, Message: ev.Detail}
		inst.Status = api.StatusFailed
		inst.Error = ev.Activity + ": " + ev.Detail

	case api.EventControlPaused:
		if inst.Status == api.StatusRunning {
			inst.Status = api.StatusPaused
		}

	case api.EventControlResumed:
		if inst.Status == api.StatusPaused {
			inst.Status = api.StatusRunning
			// Completions recorded while paused may already satisfy the
			// join; re-evaluate so no work is re-issued or lost.
			advanceStage(def, inst)
		}

	case api.EventControlTerminated:
		if !inst.Status.Terminal() {
			inst.Status = api.StatusTerminated
		}

	case api.EventInstanceCompleted:
		if inst.Status == api.StatusRunning && inst.Stage == api.StageDone {
			inst.Status = api.StatusCompleted
			inst.Output = ev.Payload
		}
	}
}

// activityState returns the named activity's state, creating and
// recording an empty one on first reference.
func activityState(inst *api.WorkflowInstance, name string) *api.ActivityState {
	as := inst.Activities[name]
	if as == nil {
		as = &api.ActivityState{}
		inst.Activities[name] = as
	}
	return as
}

// Fold rebuilds an instance snapshot from its full ordered history.
func Fold(def api.Definition, id string, events []api.HistoryEvent) *api.WorkflowInstance {
	inst := New(id, def.Name)
	for _, ev := range events {
		Apply(def, inst, ev)
	}
	return inst
}

// advanceStage moves the stage forward when the current stage's join
// condition is satisfied. Stage only ever advances, never retreats,
// and only while the instance is RUNNING.
func advanceStage(def api.Definition, inst *api.WorkflowInstance) {
	if inst.Status != api.StatusRunning {
		return
	}
	if inst.Stage == api.StageParallel && allSucceeded(inst, def.Parallel) {
		inst.Stage = api.StageSequential
	}
	if inst.Stage == api.StageSequential && allSucceeded(inst, def.Sequential) {
		inst.Stage = api.StageDone
	}
}

func allSucceeded(inst *api.WorkflowInstance, names []string) bool {
	for _, name := range names {
		if !inst.Activity(name).Succeeded() {
			return false
		}
	}
	return true
}

// Pending returns the activities that should be in flight for the
// current stage but are not: no recorded outcome and no outstanding
// call. The engine dispatches exactly this set, which makes a
// duplicated advance() idempotent.
func Pending(def api.Definition, inst *api.WorkflowInstance) []string {
	if inst.Status != api.StatusRunning {
		return nil
	}
	switch inst.Stage {
	case api.StageParallel:
		var out []string
		for _, name := range def.Parallel {
			if needsDispatch(inst, name) {
				out = append(out, name)
			}
		}
		return out
	case api.StageSequential:
		// Sequential activities run strictly in order: only the first
		// unresolved one is eligible.
		for _, name := range def.Sequential {
			if inst.Activity(name).Succeeded() {
				continue
			}
			if needsDispatch(inst, name) {
				return []string{name}
			}
			return nil
		}
	}
	return nil
}

func needsDispatch(inst *api.WorkflowInstance, name string) bool {
	as := inst.Activity(name)
	return !as.Succeeded() && !as.Failed() && (as == nil || !as.InFlight)
}

// ActivityInput computes the input payload for a dispatch of the named
// activity. Parallel activities receive the instance input; the first
// sequential activity receives the combined parallel results; later
// sequential activities chain on their predecessor's result.
func ActivityInput(def api.Definition, inst *api.WorkflowInstance, name string) map[string]any {
	for i, seq := range def.Sequential {
		if seq != name {
			continue
		}
		if i > 0 {
			return inst.Activity(def.Sequential[i-1]).Result
		}
		if def.Combine != nil {
			return def.Combine(inst.Input, inst.Results())
		}
		return inst.Input
	}
	return inst.Input
}

// Output assembles the aggregated result recorded on completion: every
// activity's result plus the static execution summary.
func Output(def api.Definition, inst *api.WorkflowInstance) map[string]any {
	out := map[string]any{
		"workflow_status":   "completed",
		"execution_summary": def.Summary(),
	}
	for name, result := range inst.Results() {
		out[name] = result
	}
	return out
}
