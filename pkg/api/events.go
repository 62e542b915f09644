package api

import "time"

// EventType identifies a workflow history event.
type EventType string

const (
	EventInstanceStarted   EventType = "instance.started"
	EventInstanceCompleted EventType = "instance.completed"

	EventActivityScheduled EventType = "activity.scheduled"
	EventActivityCompleted EventType = "activity.completed"
	EventActivityRetrying  EventType = "activity.retrying"
	EventActivityFailed    EventType = "activity.failed"

	EventControlPaused     EventType = "control.paused"
	EventControlResumed    EventType = "control.resumed"
	EventControlTerminated EventType = "control.terminated"
)

// HistoryEvent is one append-only record in an instance's history.
// Events are totally ordered per instance by Seq; the instance snapshot
// is a pure fold over them, which is what makes replay recovery work.
type HistoryEvent struct {
	// Seq is the 1-based per-instance sequence number.
	Seq        int64
	InstanceID string
	Type       EventType
	At         time.Time

	// Activity and Attempt are set on activity.* events.
	Activity string
	Attempt  int

	// Kind and Detail describe failures on activity.retrying and
	// activity.failed events.
	Kind   FailureKind
	Detail string

	// Payload carries the start input, an activity result, or the
	// final aggregated output depending on Type.
	Payload map[string]any
}
