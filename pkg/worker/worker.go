// Package worker executes activity tasks from a queue and reports
// tagged completions back to the orchestration engine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mlahtinen/virta/internal/taskqueue"
	"github.com/mlahtinen/virta/pkg/api"
)

// Worker pulls activity tasks from a Queue, runs them through the
// registered activity functions, and feeds the outcomes back to the
// Engine.
type Worker struct {
	engine   api.Engine
	queue    taskqueue.Queue
	registry *api.Registry
	logger   *slog.Logger
}

// New creates a new Worker.
func New(engine api.Engine, queue taskqueue.Queue, registry *api.Registry, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		engine:   engine,
		queue:    queue,
		registry: registry,
		logger:   logger,
	}
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false, err != nil: nothing obtained (usually context
//     cancellation)
//   - processed == true: a task was processed; err indicates whether
//     reporting its outcome to the engine succeeded.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	// Backoff delays from queues that deliver immediately are honored
	// here.
	if wait := time.Until(task.NotBefore); wait > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(wait):
		}
	}

	def, ok := w.registry.Lookup(task.Activity)
	if !ok {
		failure := api.Failure{
			Kind:    api.FailureExecution,
			Message: fmt.Sprintf("activity not registered: %s", task.Activity),
		}
		return true, w.engine.FailActivity(ctx, task.InstanceID, task.Activity, task.Attempt, failure)
	}

	result, failure := Execute(ctx, def, task.Input, task.Timeout)
	if failure != nil {
		return true, w.engine.FailActivity(ctx, task.InstanceID, task.Activity, task.Attempt, *failure)
	}
	return true, w.engine.CompleteActivity(ctx, task.InstanceID, task.Activity, task.Attempt, result)
}

// Pool runs a fixed number of worker goroutines over one queue.
type Pool struct {
	worker *Worker
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewPool creates a Pool around the given worker.
func NewPool(w *Worker, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{worker: w, logger: logger}
}

// Start launches 'concurrency' goroutines that continuously call
// ProcessOne until Stop is called or ctx is cancelled. Calling Start
// on a running pool is an error.
func (p *Pool) Start(ctx context.Context, concurrency int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return errors.New("worker pool already started")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running.Store(true)

	p.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer p.wg.Done()
			for {
				processed, err := p.worker.ProcessOne(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					// A single bad task must not kill the loop.
					p.logger.Warn("worker task error", slog.Any("error", err))
					continue
				}
				_ = processed
			}
		}()
	}
	return nil
}

// Stop cancels the worker goroutines and waits for them to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running.Load() {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.cancel = nil
	p.running.Store(false)
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Running reports whether the pool's dispatch loop is alive. The HTTP
// health endpoint consults this.
func (p *Pool) Running() bool {
	return p.running.Load()
}
