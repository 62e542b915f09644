// Package persistence implements the durable store: an append-only
// history event log per instance plus a materialized snapshot, written
// together atomically.
package persistence

import (
	"context"
	"errors"

	"github.com/mlahtinen/virta/pkg/api"
)

var (
	// ErrInstanceNotFound is returned when an instance snapshot is not found.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceExists is returned by CreateInstance when the id is
	// already taken. The engine treats this as an idempotent start.
	ErrInstanceExists = errors.New("instance already exists")
)

// InstanceFilter selects instances from the store. A zero status means
// "no filter".
type InstanceFilter struct {
	Status api.Status
}

// Store is the durable store contract the engine writes through.
//
// Sequence numbers are assigned by the engine (the per-instance lock
// serializes writers); implementations persist events verbatim and must
// reject duplicate (instance, seq) pairs.
type Store interface {
	// CreateInstance persists a brand-new snapshot together with its
	// first history events in one atomic write.
	CreateInstance(ctx context.Context, inst *api.WorkflowInstance, events ...api.HistoryEvent) error

	// AppendEvents persists events and the updated snapshot atomically.
	// A reader never observes the events without the snapshot or the
	// other way around.
	AppendEvents(ctx context.Context, inst *api.WorkflowInstance, events ...api.HistoryEvent) error

	// GetInstance returns the snapshot for an id.
	GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error)

	// ListInstances returns snapshots matching the filter.
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error)

	// ListEvents returns the instance's events with Seq > since, in order.
	ListEvents(ctx context.Context, instanceID string, since int64) ([]api.HistoryEvent, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
