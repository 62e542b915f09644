// Package virta is a durable workflow orchestration core. It executes
// a directed graph of asynchronous activities (a parallel fan-out/
// fan-in phase followed by a sequential phase) on behalf of a client,
// persists enough state to survive process restarts, and exposes
// control operations (pause, resume, terminate) plus point-in-time
// status queries.
//
// # Core Concepts
//
//  1. Engine
//  2. Worker
//  3. Registry
//  4. History
//  5. Runtime
//
// # Engine
//
// The Engine is the single authority over workflow instances. Every
// transition, whether a start, an activity completion, or a control
// command, is appended to a per-instance history event log together with an
// updated snapshot, atomically and before any new work is issued.
// Instance state is a pure fold over the log, so the state after a
// restart equals the fold of the events persisted before the crash.
//
// Engines can be backed by different storage:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability via modernc.org/sqlite)
//
// # Worker
//
// A Worker pulls activity tasks from the queue, executes the
// registered activity function with a timeout, and reports a tagged
// outcome (result, TIMEOUT, EXECUTION_ERROR or CANCELLED) back to the
// engine. Activity execution is at-least-once; exactly-once is not
// guaranteed.
//
// # Registry
//
// Activities are declared up front in an immutable Registry mapping
// each name to its function, timeout and retry policy, and passed to
// the engine and workers at construction.
//
// # Runtime
//
// Runtime bundles an engine, a queue and a worker pool into a single
// process-local helper, with in-memory and SQLite variants. The
// cmd/virtad binary wires a SQLite Runtime behind the HTTP API.
//
// The demonstrated workflow lives in pkg/order: process_order and
// check_inventory run in parallel, then send_confirmation runs on
// their combined results.
package virta
