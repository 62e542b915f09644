package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the orchestration engine for logging
// and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay instance advancement.
type Observer interface {
	// OnInstanceStart is called once when an instance is created,
	// after the start event has been persisted.
	OnInstanceStart(ctx context.Context, inst *WorkflowInstance)

	// OnInstanceCompleted is called when an instance reaches COMPLETED.
	OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance)

	// OnInstanceFailed is called when an instance reaches FAILED.
	OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, failure Failure)

	// OnInstanceTerminated is called when an instance reaches TERMINATED.
	OnInstanceTerminated(ctx context.Context, inst *WorkflowInstance)

	// OnActivityScheduled is called after a scheduled event has been
	// persisted, before the task is handed to the queue.
	OnActivityScheduled(ctx context.Context, inst *WorkflowInstance, activity string, attempt int)

	// OnActivityResolved is called when an activity attempt's outcome
	// has been recorded. failure is nil on success.
	OnActivityResolved(ctx context.Context, inst *WorkflowInstance, activity string, attempt int, failure *Failure)
}

// NoopObserver is an Observer that does nothing. It is the default
// when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnInstanceStart(ctx context.Context, inst *WorkflowInstance)      {}
func (NoopObserver) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance)  {}
func (NoopObserver) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, failure Failure) {
}
func (NoopObserver) OnInstanceTerminated(ctx context.Context, inst *WorkflowInstance) {}
func (NoopObserver) OnActivityScheduled(ctx context.Context, inst *WorkflowInstance, activity string, attempt int) {
}
func (NoopObserver) OnActivityResolved(ctx context.Context, inst *WorkflowInstance, activity string, attempt int, failure *Failure) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnInstanceStart(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnInstanceStart(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnInstanceCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, failure Failure) {
	for _, o := range c.observers {
		o.OnInstanceFailed(ctx, inst, failure)
	}
}

func (c *CompositeObserver) OnInstanceTerminated(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnInstanceTerminated(ctx, inst)
	}
}

func (c *CompositeObserver) OnActivityScheduled(ctx context.Context, inst *WorkflowInstance, activity string, attempt int) {
	for _, o := range c.observers {
		o.OnActivityScheduled(ctx, inst, activity, attempt)
	}
}

func (c *CompositeObserver) OnActivityResolved(ctx context.Context, inst *WorkflowInstance, activity string, attempt int, failure *Failure) {
	for _, o := range c.observers {
		o.OnActivityResolved(ctx, inst, activity, attempt, failure)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs instance and
// activity lifecycle events using the provided slog.Logger.
// If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnInstanceStart(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "instance_start",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "instance_completed",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, failure Failure) {
	o.Logger.ErrorContext(ctx, "instance_failed",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
		slog.String("kind", string(failure.Kind)),
		slog.String("error", failure.Message),
	)
}

func (o *LoggingObserver) OnInstanceTerminated(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "instance_terminated",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnActivityScheduled(ctx context.Context, inst *WorkflowInstance, activity string, attempt int) {
	o.Logger.DebugContext(ctx, "activity_scheduled",
		slog.String("instance_id", inst.ID),
		slog.String("activity", activity),
		slog.Int("attempt", attempt),
	)
}

func (o *LoggingObserver) OnActivityResolved(ctx context.Context, inst *WorkflowInstance, activity string, attempt int, failure *Failure) {
	if failure == nil {
		o.Logger.DebugContext(ctx, "activity_completed",
			slog.String("instance_id", inst.ID),
			slog.String("activity", activity),
			slog.Int("attempt", attempt),
		)
		return
	}
	o.Logger.WarnContext(ctx, "activity_failed",
		slog.String("instance_id", inst.ID),
		slog.String("activity", activity),
		slog.Int("attempt", attempt),
		slog.String("kind", string(failure.Kind)),
		slog.String("error", failure.Message),
	)
}

// BasicMetrics collects simple counters for the engine. It implements
// Observer and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	instancesStarted    atomic.Int64
	instancesCompleted  atomic.Int64
	instancesFailed     atomic.Int64
	instancesTerminated atomic.Int64
	activitiesScheduled atomic.Int64
	activitiesFailed    atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	InstancesStarted    int64
	InstancesCompleted  int64
	InstancesFailed     int64
	InstancesTerminated int64
	ActiveInstances     int64

	ActivitiesScheduled int64
	ActivitiesFailed    int64

	At time.Time
}

func (m *BasicMetrics) OnInstanceStart(ctx context.Context, inst *WorkflowInstance) {
	m.instancesStarted.Add(1)
}

func (m *BasicMetrics) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance) {
	m.instancesCompleted.Add(1)
}

func (m *BasicMetrics) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, failure Failure) {
	m.instancesFailed.Add(1)
}

func (m *BasicMetrics) OnInstanceTerminated(ctx context.Context, inst *WorkflowInstance) {
	m.instancesTerminated.Add(1)
}

func (m *BasicMetrics) OnActivityScheduled(ctx context.Context, inst *WorkflowInstance, activity string, attempt int) {
	m.activitiesScheduled.Add(1)
}

func (m *BasicMetrics) OnActivityResolved(ctx context.Context, inst *WorkflowInstance, activity string, attempt int, failure *Failure) {
	if failure != nil {
		m.activitiesFailed.Add(1)
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.instancesStarted.Load()
	completed := m.instancesCompleted.Load()
	failed := m.instancesFailed.Load()
	terminated := m.instancesTerminated.Load()

	return BasicMetricsSnapshot{
		InstancesStarted:    started,
		InstancesCompleted:  completed,
		InstancesFailed:     failed,
		InstancesTerminated: terminated,
		ActiveInstances:     started - completed - failed - terminated,
		ActivitiesScheduled: m.activitiesScheduled.Load(),
		ActivitiesFailed:    m.activitiesFailed.Load(),
		At:                  time.Now(),
	}
}
