package virta

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/mlahtinen/virta/internal/engine"
	"github.com/mlahtinen/virta/internal/persistence"
	"github.com/mlahtinen/virta/internal/taskqueue"
	"github.com/mlahtinen/virta/pkg/api"
	"github.com/mlahtinen/virta/pkg/worker"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	WorkflowInstance     = api.WorkflowInstance
	Definition           = api.Definition
	ActivityDefinition   = api.ActivityDefinition
	ActivityFunc         = api.ActivityFunc
	Registry             = api.Registry
	RetryPolicy          = api.RetryPolicy
	HistoryEvent         = api.HistoryEvent
	Status               = api.Status
	Stage                = api.Stage
	Failure              = api.Failure
	FailureKind          = api.FailureKind
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common helpers.

var (
	NewRegistry          = api.NewRegistry
	MustNewRegistry      = api.MustNewRegistry
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	ErrInstanceNotFound = api.ErrInstanceNotFound
)

// Re-export status and stage values for convenience.

const (
	StatusRunning    = api.StatusRunning
	StatusPaused     = api.StatusPaused
	StatusCompleted  = api.StatusCompleted
	StatusFailed     = api.StatusFailed
	StatusTerminated = api.StatusTerminated

	StageNotStarted = api.StageNotStarted
	StageParallel   = api.StageParallel
	StageSequential = api.StageSequential
	StageDone       = api.StageDone
)

// Options tunes Runtime construction. The zero value is usable.
type Options struct {
	// Observer receives engine lifecycle callbacks.
	Observer api.Observer

	// Logger is used by the engine and workers. Nil means slog.Default().
	Logger *slog.Logger

	// QueueCapacity bounds the in-memory queue. Ignored for SQLite.
	QueueCapacity int
}

// Runtime bundles an engine, its task queue and a worker pool into a
// single process-local unit.
//
// Typical usage:
//
//	rt, err := virta.NewInMemoryRuntime(order.Definition(), order.NewRegistry(order.Simulation{}), virta.Options{})
//	...
//	_ = rt.StartWorkers(ctx, 2)
//	defer rt.Stop()
//	inst, err := rt.Engine.Start(ctx, order.InstanceID("A100"), input)
type Runtime struct {
	Engine api.Engine
	Queue  taskqueue.Queue
	Pool   *worker.Pool
}

// NewInMemoryRuntime builds a Runtime on non-durable in-memory stores.
// Intended for tests, local development and simple single-process use.
func NewInMemoryRuntime(def Definition, reg *Registry, opts Options) (*Runtime, error) {
	store := persistence.NewInMemoryStore()
	queue := taskqueue.NewInMemoryQueue(opts.QueueCapacity)
	return newRuntime(store, queue, def, reg, opts)
}

// NewSQLiteRuntime builds a Runtime whose event log, snapshots and task
// queue live in the given SQLite database. The caller is responsible
// for importing a SQLite driver, e.g.:
//
//	import _ "modernc.org/sqlite"
func NewSQLiteRuntime(db *sql.DB, def Definition, reg *Registry, opts Options) (*Runtime, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	queue, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	return newRuntime(store, queue, def, reg, opts)
}

func newRuntime(store persistence.Store, queue taskqueue.Queue, def Definition, reg *Registry, opts Options) (*Runtime, error) {
	eng, err := engine.New(engine.Config{
		Store:      store,
		Queue:      queue,
		Registry:   reg,
		Definition: def,
		Observer:   opts.Observer,
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	w := worker.New(eng, queue, reg, opts.Logger)
	return &Runtime{
		Engine: eng,
		Queue:  queue,
		Pool:   worker.NewPool(w, opts.Logger),
	}, nil
}

// StartWorkers launches the worker pool with the given concurrency.
func (r *Runtime) StartWorkers(ctx context.Context, concurrency int) error {
	return r.Pool.Start(ctx, concurrency)
}

// Stop shuts the worker pool down and waits for in-flight tasks to
// finish their engine callbacks.
func (r *Runtime) Stop() {
	r.Pool.Stop()
}

// WorkersRunning reports whether the dispatch loop is alive.
func (r *Runtime) WorkersRunning() bool {
	return r.Pool.Running()
}

// Recover re-dispatches persisted-but-unresolved activity calls.
// Call it on process startup, before StartWorkers accepts new work.
func (r *Runtime) Recover(ctx context.Context) (int, error) {
	return r.Engine.Recover(ctx)
}
