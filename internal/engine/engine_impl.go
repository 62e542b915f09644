// Package engine drives workflow instances forward: it reacts to
// completion and control events by folding the state machine, decides
// what new work to issue, and persists every transition before acting
// on it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mlahtinen/virta/internal/persistence"
	"github.com/mlahtinen/virta/internal/state"
	"github.com/mlahtinen/virta/internal/taskqueue"
	"github.com/mlahtinen/virta/pkg/api"
)

// Config describes how to construct an engine.
type Config struct {
	Store      persistence.Store
	Queue      taskqueue.Queue
	Registry   *api.Registry
	Definition api.Definition

	// Observer receives lifecycle callbacks. Nil means none.
	Observer api.Observer

	// Logger is used for non-fatal dispatch diagnostics.
	// Nil means slog.Default().
	Logger *slog.Logger
}

type engineImpl struct {
	store    persistence.Store
	queue    taskqueue.Queue
	registry *api.Registry
	def      api.Definition
	observer api.Observer
	logger   *slog.Logger
	locks    *instanceLocks
}

// New constructs an Engine after validating the workflow definition
// against the activity registry.
func New(cfg Config) (api.Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("engine: queue is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("engine: activity registry is required")
	}
	if err := cfg.Definition.Validate(cfg.Registry); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &engineImpl{
		store:    cfg.Store,
		queue:    cfg.Queue,
		registry: cfg.Registry,
		def:      cfg.Definition,
		observer: obs,
		logger:   logger,
		locks:    newInstanceLocks(),
	}, nil
}

func (e *engineImpl) Start(ctx context.Context, id string, input map[string]any) (*api.WorkflowInstance, error) {
	if id == "" {
		return nil, api.NewValidationError("instance id is required")
	}

	unlock := e.locks.lock(id)
	defer unlock()

	// Idempotent creation: a retried start returns the existing
	// instance and dispatches nothing.
	existing, err := e.store.GetInstance(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, persistence.ErrInstanceNotFound) {
		return nil, err
	}

	inst := state.New(id, e.def.Name)
	ev := e.newEvent(inst, api.EventInstanceStarted)
	ev.Payload = input
	state.Apply(e.def, inst, ev)

	if err := e.store.CreateInstance(ctx, inst, ev); err != nil {
		if errors.Is(err, persistence.ErrInstanceExists) {
			// Lost a race with a concurrent start on another node.
			return e.load(ctx, id)
		}
		return nil, err
	}
	e.observer.OnInstanceStart(ctx, inst)

	if err := e.advance(ctx, inst); err != nil {
		return inst, err
	}
	return inst, nil
}

func (e *engineImpl) Status(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	return e.load(ctx, id)
}

func (e *engineImpl) History(ctx context.Context, id string) ([]api.HistoryEvent, error) {
	if _, err := e.load(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, id, 0)
}

func (e *engineImpl) Pause(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	inst, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	// Duplicate pause and pause on a terminal instance are no-ops that
	// report the current status.
	if inst.Status != api.StatusRunning {
		return inst, nil
	}

	next := inst.Clone()
	ev := e.newEvent(next, api.EventControlPaused)
	state.Apply(e.def, next, ev)
	if err := e.store.AppendEvents(ctx, next, ev); err != nil {
		return nil, err
	}
	return next, nil
}

func (e *engineImpl) Resume(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	inst, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status != api.StatusPaused {
		return inst, nil
	}

	next := inst.Clone()
	ev := e.newEvent(next, api.EventControlResumed)
	state.Apply(e.def, next, ev)
	if err := e.store.AppendEvents(ctx, next, ev); err != nil {
		return nil, err
	}
	// Completions recorded while paused may already satisfy the join;
	// advance dispatches only what is still missing.
	if err := e.advance(ctx, next); err != nil {
		return next, err
	}
	return next, nil
}

func (e *engineImpl) Terminate(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	inst, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status.Terminal() {
		return inst, nil
	}

	next := inst.Clone()
	ev := e.newEvent(next, api.EventControlTerminated)
	state.Apply(e.def, next, ev)
	if err := e.store.AppendEvents(ctx, next, ev); err != nil {
		return nil, err
	}
	e.observer.OnInstanceTerminated(ctx, next)
	return next, nil
}

func (e *engineImpl) CompleteActivity(ctx context.Context, id, activity string, attempt int, result map[string]any) error {
	if !e.definesActivity(activity) {
		return fmt.Errorf("unknown activity %s for workflow %s", activity, e.def.Name)
	}

	unlock := e.locks.lock(id)
	defer unlock()

	inst, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	// A result is durably recorded at most once per activity.
	if inst.Activity(activity).Succeeded() {
		return nil
	}

	// Completions are appended even on paused or terminal instances:
	// paused instances keep the result so no work is lost, terminal
	// ones keep it in history for audit.
	next := inst.Clone()
	ev := e.newEvent(next, api.EventActivityCompleted)
	ev.Activity = activity
	ev.Attempt = attempt
	ev.Payload = result
	state.Apply(e.def, next, ev)
	if err := e.store.AppendEvents(ctx, next, ev); err != nil {
		return err
	}
	e.observer.OnActivityResolved(ctx, next, activity, attempt, nil)

	return e.advance(ctx, next)
}

func (e *engineImpl) FailActivity(ctx context.Context, id, activity string, attempt int, failure api.Failure) error {
	if !e.definesActivity(activity) {
		return fmt.Errorf("unknown activity %s for workflow %s", activity, e.def.Name)
	}

	unlock := e.locks.lock(id)
	defer unlock()

	inst, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	as := inst.Activity(activity)
	if as.Succeeded() || as.Failed() {
		return nil
	}

	next := inst.Clone()
	if !next.Status.Terminal() && attempt < e.retryBudget(activity) {
		ev := e.newEvent(next, api.EventActivityRetrying)
		ev.Activity = activity
		ev.Attempt = attempt
		ev.Kind = failure.Kind
		ev.Detail = failure.Message
		state.Apply(e.def, next, ev)
		if err := e.store.AppendEvents(ctx, next, ev); err != nil {
			return err
		}
		e.observer.OnActivityResolved(ctx, next, activity, attempt, &failure)
		// Re-dispatch goes through advance so a paused instance retries
		// only after resume.
		return e.advance(ctx, next)
	}

	ev := e.newEvent(next, api.EventActivityFailed)
	ev.Activity = activity
	ev.Attempt = attempt
	ev.Kind = failure.Kind
	ev.Detail = failure.Message
	state.Apply(e.def, next, ev)
	if err := e.store.AppendEvents(ctx, next, ev); err != nil {
		return err
	}
	e.observer.OnActivityResolved(ctx, next, activity, attempt, &failure)
	if next.Status == api.StatusFailed {
		e.observer.OnInstanceFailed(ctx, next, failure)
	}
	return nil
}

func (e *engineImpl) Recover(ctx context.Context) (int, error) {
	running, err := e.store.ListInstances(ctx, persistence.InstanceFilter{Status: api.StatusRunning})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, stale := range running {
		n, err := e.recoverInstance(ctx, stale.ID)
		if err != nil {
			return count, err
		}
		count += n
	}
	return count, nil
}

func (e *engineImpl) recoverInstance(ctx context.Context, id string) (int, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	inst, err := e.load(ctx, id)
	if err != nil {
		return 0, err
	}
	if inst.Status != api.StatusRunning {
		return 0, nil
	}

	// Calls persisted as scheduled but never resolved were possibly
	// lost with the previous process's queue; re-dispatching costs a
	// duplicate execution at worst, never a lost transition.
	count := 0
	for _, name := range append(append([]string{}, e.def.Parallel...), e.def.Sequential...) {
		as := inst.Activity(name)
		if as == nil || !as.InFlight {
			continue
		}
		task := taskqueue.NewTask(id, name, as.Attempts, state.ActivityInput(e.def, inst, name))
		if def, ok := e.registry.Lookup(name); ok {
			task.Timeout = def.Timeout
		}
		if err := e.queue.Enqueue(ctx, task); err != nil {
			return count, err
		}
		count++
	}

	// A crash between persisting and dispatching, or right before the
	// completion event, leaves ordinary advancement to do.
	if err := e.advance(ctx, inst); err != nil {
		return count, err
	}
	return count, nil
}

func (e *engineImpl) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// advance is the single decision step: given a current snapshot, issue
// whatever calls the stage requires, or finish the instance when the
// stage graph is exhausted. Scheduled events and the snapshot are
// persisted before any task reaches the queue, so a crash in between
// costs a re-dispatch on recovery, never a lost transition. The caller
// must hold the instance lock; inst is updated in place.
func (e *engineImpl) advance(ctx context.Context, inst *api.WorkflowInstance) error {
	if inst.Status != api.StatusRunning {
		return nil
	}

	pending := state.Pending(e.def, inst)
	if len(pending) > 0 {
		next := inst.Clone()
		events := make([]api.HistoryEvent, 0, len(pending))
		tasks := make([]taskqueue.Task, 0, len(pending))

		for _, name := range pending {
			attempt := 1
			if as := next.Activity(name); as != nil {
				attempt = as.Attempts + 1
			}
			ev := e.newEvent(next, api.EventActivityScheduled)
			ev.Activity = name
			ev.Attempt = attempt
			state.Apply(e.def, next, ev)
			events = append(events, ev)

			task := taskqueue.NewTask(inst.ID, name, attempt, state.ActivityInput(e.def, next, name))
			if def, ok := e.registry.Lookup(name); ok {
				task.Timeout = def.Timeout
				if attempt > 1 {
					task.NotBefore = time.Now().Add(def.Retry.Delay(attempt - 1))
				}
			}
			tasks = append(tasks, task)
		}

		if err := e.store.AppendEvents(ctx, next, events...); err != nil {
			return err
		}
		*inst = *next

		for _, task := range tasks {
			e.observer.OnActivityScheduled(ctx, inst, task.Activity, task.Attempt)
			if err := e.queue.Enqueue(ctx, task); err != nil {
				// The scheduled event is durable; Recover re-dispatches.
				e.logger.Warn("task enqueue failed",
					slog.String("instance_id", inst.ID),
					slog.String("activity", task.Activity),
					slog.Any("error", err),
				)
			}
		}
		return nil
	}

	if inst.Stage == api.StageDone {
		next := inst.Clone()
		ev := e.newEvent(next, api.EventInstanceCompleted)
		ev.Payload = state.Output(e.def, next)
		state.Apply(e.def, next, ev)
		if err := e.store.AppendEvents(ctx, next, ev); err != nil {
			return err
		}
		*inst = *next
		e.observer.OnInstanceCompleted(ctx, inst)
	}
	return nil
}

func (e *engineImpl) newEvent(inst *api.WorkflowInstance, typ api.EventType) api.HistoryEvent {
	return api.HistoryEvent{
		Seq:        inst.LastSeq + 1,
		InstanceID: inst.ID,
		Type:       typ,
		At:         time.Now(),
	}
}

func (e *engineImpl) load(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	inst, err := e.store.GetInstance(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, fmt.Errorf("%w: %s", api.ErrInstanceNotFound, id)
		}
		return nil, err
	}
	return inst, nil
}

func (e *engineImpl) definesActivity(name string) bool {
	for _, n := range e.def.Parallel {
		if n == name {
			return true
		}
	}
	for _, n := range e.def.Sequential {
		if n == name {
			return true
		}
	}
	return false
}

func (e *engineImpl) retryBudget(activity string) int {
	def, ok := e.registry.Lookup(activity)
	if !ok {
		return 1
	}
	return def.Retry.Attempts()
}
