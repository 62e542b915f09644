package state

import (
	"reflect"
	"testing"
	"time"

	"github.com/mlahtinen/virta/pkg/api"
)

func testDef() api.Definition {
	return api.Definition{
		Name:       "order_processing",
		Parallel:   []string{"process_order", "check_inventory"},
		Sequential: []string{"send_confirmation"},
	}
}

type eventBuilder struct {
	seq int64
	at  time.Time
}

func newEventBuilder() *eventBuilder {
	return &eventBuilder{at: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (b *eventBuilder) next(typ api.EventType) api.HistoryEvent {
	b.seq++
	b.at = b.at.Add(time.Second)
	return api.HistoryEvent{
		Seq:        b.seq,
		InstanceID: "order_1",
		Type:       typ,
		At:         b.at,
	}
}

func (b *eventBuilder) started(input map[string]any) api.HistoryEvent {
	ev := b.next(api.EventInstanceStarted)
	ev.Payload = input
	return ev
}

func (b *eventBuilder) scheduled(activity string, attempt int) api.HistoryEvent {
	ev := b.next(api.EventActivityScheduled)
	ev.Activity = activity
	ev.Attempt = attempt
	return ev
}

func (b *eventBuilder) completed(activity string, result map[string]any) api.HistoryEvent {
	ev := b.next(api.EventActivityCompleted)
	ev.Activity = activity
	ev.Attempt = 1
	ev.Payload = result
	return ev
}

func (b *eventBuilder) failed(activity string, kind api.FailureKind, detail string) api.HistoryEvent {
	ev := b.next(api.EventActivityFailed)
	ev.Activity = activity
	ev.Attempt = 1
	ev.Kind = kind
	ev.Detail = detail
	return ev
}

func TestFoldHappyPath(t *testing.T) {
	def := testDef()
	b := newEventBuilder()
	input := map[string]any{"order_id": "1", "amount": 10.0}

	events := []api.HistoryEvent{
		b.started(input),
		b.scheduled("process_order", 1),
		b.scheduled("check_inventory", 1),
		b.completed("process_order", map[string]any{"total": 11.0}),
		b.completed("check_inventory", map[string]any{"items_count": 2}),
		b.scheduled("send_confirmation", 1),
		b.completed("send_confirmation", map[string]any{"confirmation_sent": true}),
	}
	final := b.next(api.EventInstanceCompleted)
	final.Payload = map[string]any{"workflow_status": "completed"}
	events = append(events, final)

	inst := Fold(def, "order_1", events)

	if inst.Status != api.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", inst.Status)
	}
	if inst.Stage != api.StageDone {
		t.Fatalf("stage = %s, want DONE", inst.Stage)
	}
	if inst.LastSeq != 8 {
		t.Fatalf("last seq = %d, want 8", inst.LastSeq)
	}
	if !reflect.DeepEqual(inst.Input, input) {
		t.Fatalf("input = %v, want %v", inst.Input, input)
	}
	if inst.Output == nil || inst.Output["workflow_status"] != "completed" {
		t.Fatalf("output = %v, want workflow_status completed", inst.Output)
	}
	if !inst.Activity("send_confirmation").Succeeded() {
		t.Fatal("send_confirmation should have succeeded")
	}
}

func TestFoldIsDeterministic(t *testing.T) {
	def := testDef()
	b := newEventBuilder()
	events := []api.HistoryEvent{
		b.started(map[string]any{"order_id": "1"}),
		b.scheduled("process_order", 1),
		b.scheduled("check_inventory", 1),
		b.completed("process_order", map[string]any{"total": 11.0}),
	}

	a := Fold(def, "order_1", events)
	c := Fold(def, "order_1", events)
	if !reflect.DeepEqual(a, c) {
		t.Fatalf("two folds of the same history differ:\n%+v\n%+v", a, c)
	}
}

// The two parallel completions may arrive in either order; the join
// outcome must not depend on which one lands first.
func TestParallelCompletionOrderCommutes(t *testing.T) {
	def := testDef()

	fold := func(first, second string) *api.WorkflowInstance {
		b := newEventBuilder()
		return Fold(def, "order_1", []api.HistoryEvent{
			b.started(map[string]any{"order_id": "1"}),
			b.scheduled("process_order", 1),
			b.scheduled("check_inventory", 1),
			b.completed(first, map[string]any{"from": first}),
			b.completed(second, map[string]any{"from": second}),
		})
	}

	ab := fold("process_order", "check_inventory")
	ba := fold("check_inventory", "process_order")

	if ab.Stage != api.StageSequential || ba.Stage != api.StageSequential {
		t.Fatalf("stages = %s / %s, want both SEQUENTIAL_PHASE", ab.Stage, ba.Stage)
	}
	if !reflect.DeepEqual(ab.Results(), ba.Results()) {
		t.Fatalf("results differ by arrival order:\n%v\n%v", ab.Results(), ba.Results())
	}
}

func TestActivityFailureFailsInstance(t *testing.T) {
	def := testDef()
	b := newEventBuilder()
	inst := Fold(def, "order_1", []api.HistoryEvent{
		b.started(map[string]any{"order_id": "1"}),
		b.scheduled("process_order", 1),
		b.scheduled("check_inventory", 1),
		b.failed("process_order", api.FailureTimeout, "activity deadline exceeded"),
	})

	if inst.Status != api.StatusFailed {
		t.Fatalf("status = %s, want FAILED", inst.Status)
	}
	if inst.Output != nil {
		t.Fatalf("failed instance must not have output, got %v", inst.Output)
	}
	if inst.Error == "" {
		t.Fatal("failed instance must carry failure details")
	}
	if !inst.Activity("process_order").Failed() {
		t.Fatal("process_order should be marked failed")
	}
}

// A terminal status absorbs all later activity events: they stay in
// history but never mutate the snapshot.
func TestTerminalStatusAbsorbsLateEvents(t *testing.T) {
	def := testDef()
	b := newEventBuilder()
	events := []api.HistoryEvent{
		b.started(map[string]any{"order_id": "1"}),
		b.scheduled("process_order", 1),
		b.scheduled("check_inventory", 1),
		b.next(api.EventControlTerminated),
	}
	late := b.completed("process_order", map[string]any{"total": 11.0})
	events = append(events, late)

	inst := Fold(def, "order_1", events)

	if inst.Status != api.StatusTerminated {
		t.Fatalf("status = %s, want TERMINATED", inst.Status)
	}
	if inst.Activity("process_order").Succeeded() {
		t.Fatal("late completion must not mutate a terminated instance")
	}
	if inst.LastSeq != late.Seq {
		t.Fatalf("sequence bookkeeping must still advance: got %d, want %d", inst.LastSeq, late.Seq)
	}
}

func TestPauseBlocksStageAdvanceUntilResume(t *testing.T) {
	def := testDef()
	b := newEventBuilder()
	events := []api.HistoryEvent{
		b.started(map[string]any{"order_id": "1"}),
		b.scheduled("process_order", 1),
		b.scheduled("check_inventory", 1),
		b.next(api.EventControlPaused),
		b.completed("process_order", map[string]any{"total": 11.0}),
		b.completed("check_inventory", map[string]any{"items_count": 2}),
	}

	paused := Fold(def, "order_1", events)
	if paused.Status != api.StatusPaused {
		t.Fatalf("status = %s, want PAUSED", paused.Status)
	}
	// Results recorded while paused are kept, but the join does not fire.
	if !paused.Activity("process_order").Succeeded() || !paused.Activity("check_inventory").Succeeded() {
		t.Fatal("results arriving while paused must be recorded")
	}
	if paused.Stage != api.StageParallel {
		t.Fatalf("stage = %s, want PARALLEL_PHASE while paused", paused.Stage)
	}

	resumed := Fold(def, "order_1", append(events, b.next(api.EventControlResumed)))
	if resumed.Status != api.StatusRunning {
		t.Fatalf("status = %s, want RUNNING after resume", resumed.Status)
	}
	if resumed.Stage != api.StageSequential {
		t.Fatalf("stage = %s, want SEQUENTIAL_PHASE after resume", resumed.Stage)
	}
}

func TestDuplicateControlEventsAreInert(t *testing.T) {
	def := testDef()
	b := newEventBuilder()
	base := []api.HistoryEvent{
		b.started(map[string]any{"order_id": "1"}),
		b.next(api.EventControlPaused),
	}
	once := Fold(def, "order_1", base)
	twice := Fold(def, "order_1", append(base, b.next(api.EventControlPaused)))

	if once.Status != api.StatusPaused || twice.Status != api.StatusPaused {
		t.Fatalf("statuses = %s / %s, want both PAUSED", once.Status, twice.Status)
	}
}

func TestPendingParallelPhase(t *testing.T) {
	def := testDef()
	b := newEventBuilder()

	inst := Fold(def, "order_1", []api.HistoryEvent{
		b.started(map[string]any{"order_id": "1"}),
	})
	got := Pending(def, inst)
	want := []string{"process_order", "check_inventory"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("pending = %v, want %v", got, want)
	}

	// Once both are in flight, nothing is pending.
	Apply(def, inst, b.scheduled("process_order", 1))
	Apply(def, inst, b.scheduled("check_inventory", 1))
	if got := Pending(def, inst); got != nil {
		t.Fatalf("pending = %v, want none while in flight", got)
	}

	// One completion leaves the other in flight, still nothing to dispatch.
	Apply(def, inst, b.completed("process_order", map[string]any{"total": 11.0}))
	if got := Pending(def, inst); got != nil {
		t.Fatalf("pending = %v, want none", got)
	}

	// The join fires and the sequential activity becomes pending.
	Apply(def, inst, b.completed("check_inventory", map[string]any{"items_count": 2}))
	if got := Pending(def, inst); !reflect.DeepEqual(got, []string{"send_confirmation"}) {
		t.Fatalf("pending = %v, want [send_confirmation]", got)
	}
}

func TestPendingEmptyWhenNotRunning(t *testing.T) {
	def := testDef()
	b := newEventBuilder()
	inst := Fold(def, "order_1", []api.HistoryEvent{
		b.started(map[string]any{"order_id": "1"}),
		b.next(api.EventControlPaused),
	})
	if got := Pending(def, inst); got != nil {
		t.Fatalf("pending = %v, want none while paused", got)
	}
}

func TestActivityInputRouting(t *testing.T) {
	def := testDef()
	def.Combine = func(input map[string]any, results map[string]map[string]any) map[string]any {
		return map[string]any{
			"order_id": input["order_id"],
			"total":    results["process_order"]["total"],
		}
	}

	b := newEventBuilder()
	inst := Fold(def, "order_1", []api.HistoryEvent{
		b.started(map[string]any{"order_id": "1", "amount": 10.0}),
		b.scheduled("process_order", 1),
		b.scheduled("check_inventory", 1),
		b.completed("process_order", map[string]any{"total": 11.0}),
		b.completed("check_inventory", map[string]any{"items_count": 2}),
	})

	if got := ActivityInput(def, inst, "process_order"); !reflect.DeepEqual(got, inst.Input) {
		t.Fatalf("parallel input = %v, want instance input", got)
	}
	got := ActivityInput(def, inst, "send_confirmation")
	want := map[string]any{"order_id": "1", "total": 11.0}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("combined input = %v, want %v", got, want)
	}
}

func TestOutputAggregatesResultsAndSummary(t *testing.T) {
	def := testDef()
	b := newEventBuilder()
	inst := Fold(def, "order_1", []api.HistoryEvent{
		b.started(map[string]any{"order_id": "1"}),
		b.scheduled("process_order", 1),
		b.scheduled("check_inventory", 1),
		b.completed("process_order", map[string]any{"total": 11.0}),
		b.completed("check_inventory", map[string]any{"items_count": 2}),
		b.scheduled("send_confirmation", 1),
		b.completed("send_confirmation", map[string]any{"confirmation_sent": true}),
	})

	out := Output(def, inst)
	if out["workflow_status"] != "completed" {
		t.Fatalf("workflow_status = %v", out["workflow_status"])
	}
	summary, ok := out["execution_summary"].(map[string]any)
	if !ok {
		t.Fatalf("execution_summary missing from %v", out)
	}
	if summary["total_activities"] != 3 {
		t.Fatalf("total_activities = %v, want 3", summary["total_activities"])
	}
	for _, name := range []string{"process_order", "check_inventory", "send_confirmation"} {
		if _, ok := out[name]; !ok {
			t.Fatalf("output missing %s result: %v", name, out)
		}
	}
}
