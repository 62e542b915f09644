package api

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	require.False(t, StatusRunning.Terminal())
	require.False(t, StatusPaused.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.True(t, StatusTerminated.Terminal())
}

func TestActivityStateNilSafety(t *testing.T) {
	var as *ActivityState
	require.False(t, as.Succeeded())
	require.False(t, as.Failed())

	as = &ActivityState{Result: map[string]any{}}
	require.True(t, as.Succeeded())
}

func TestInstanceCloneIsIndependent(t *testing.T) {
	inst := &WorkflowInstance{
		ID:     "order_1",
		Status: StatusRunning,
		Activities: map[string]*ActivityState{
			"process_order": {Attempts: 1, InFlight: true},
		},
	}

	cp := inst.Clone()
	cp.Status = StatusPaused
	cp.Activities["process_order"].InFlight = false
	cp.Activities["check_inventory"] = &ActivityState{}

	require.Equal(t, StatusRunning, inst.Status)
	require.True(t, inst.Activities["process_order"].InFlight)
	require.NotContains(t, inst.Activities, "check_inventory")
}

func TestRetryPolicyAttempts(t *testing.T) {
	var p *RetryPolicy
	require.Equal(t, 1, p.Attempts())
	require.Equal(t, 1, (&RetryPolicy{}).Attempts())
	require.Equal(t, 3, (&RetryPolicy{MaxAttempts: 3}).Attempts())
}

func TestRetryPolicyDelay(t *testing.T) {
	p := &RetryPolicy{
		MaxAttempts:       4,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        300 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	require.Equal(t, time.Duration(0), p.Delay(0))
	require.Equal(t, 100*time.Millisecond, p.Delay(1))
	require.Equal(t, 200*time.Millisecond, p.Delay(2))
	// Capped at MaxBackoff.
	require.Equal(t, 300*time.Millisecond, p.Delay(3))
	require.Equal(t, 300*time.Millisecond, p.Delay(10))

	var nilPolicy *RetryPolicy
	require.Equal(t, time.Duration(0), nilPolicy.Delay(1))
}

func noop(ctx context.Context, input map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestRegistryRejectsBadDefinitions(t *testing.T) {
	_, err := NewRegistry(ActivityDefinition{Name: "", Fn: noop})
	require.Error(t, err)

	_, err = NewRegistry(ActivityDefinition{Name: "a"})
	require.Error(t, err)

	_, err = NewRegistry(
		ActivityDefinition{Name: "a", Fn: noop},
		ActivityDefinition{Name: "a", Fn: noop},
	)
	require.Error(t, err)
}

func TestRegistryLookupAndNames(t *testing.T) {
	reg, err := NewRegistry(
		ActivityDefinition{Name: "b", Fn: noop},
		ActivityDefinition{Name: "a", Fn: noop},
	)
	require.NoError(t, err)

	_, ok := reg.Lookup("a")
	require.True(t, ok)
	_, ok = reg.Lookup("missing")
	require.False(t, ok)
	require.Equal(t, []string{"a", "b"}, reg.Names())
}

func TestDefinitionValidate(t *testing.T) {
	reg := MustNewRegistry(
		ActivityDefinition{Name: "a", Fn: noop},
		ActivityDefinition{Name: "b", Fn: noop},
	)

	require.NoError(t, Definition{Name: "wf", Parallel: []string{"a"}, Sequential: []string{"b"}}.Validate(reg))
	require.Error(t, Definition{Parallel: []string{"a"}}.Validate(reg))
	require.Error(t, Definition{Name: "wf"}.Validate(reg))
	require.Error(t, Definition{Name: "wf", Parallel: []string{"a", "a"}}.Validate(reg))
	require.Error(t, Definition{Name: "wf", Parallel: []string{"unregistered"}}.Validate(reg))
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("invalid order input", "/amount: must be >= 0", "/order_id: missing")
	require.True(t, IsValidation(err))
	require.Contains(t, err.Error(), "invalid order input")
	require.Contains(t, err.Error(), "/amount: must be >= 0")

	wrapped := fmt.Errorf("start: %w", err)
	require.True(t, IsValidation(wrapped))
	require.False(t, IsValidation(errors.New("plain")))
}

func TestBasicMetricsSnapshot(t *testing.T) {
	m := &BasicMetrics{}
	ctx := context.Background()
	inst := &WorkflowInstance{ID: "order_1", Workflow: "order_processing"}

	m.OnInstanceStart(ctx, inst)
	m.OnInstanceStart(ctx, inst)
	m.OnInstanceCompleted(ctx, inst)
	m.OnActivityScheduled(ctx, inst, "process_order", 1)
	m.OnActivityResolved(ctx, inst, "process_order", 1, nil)
	m.OnActivityResolved(ctx, inst, "check_inventory", 1, &Failure{Kind: FailureTimeout})

	snap := m.Snapshot()
	require.Equal(t, int64(2), snap.InstancesStarted)
	require.Equal(t, int64(1), snap.InstancesCompleted)
	require.Equal(t, int64(1), snap.ActiveInstances)
	require.Equal(t, int64(1), snap.ActivitiesScheduled)
	require.Equal(t, int64(1), snap.ActivitiesFailed)
}

func TestCompositeObserverFansOut(t *testing.T) {
	a := &BasicMetrics{}
	b := &BasicMetrics{}
	obs := NewCompositeObserver(a, nil, b)

	obs.OnInstanceStart(context.Background(), &WorkflowInstance{ID: "order_1"})

	require.Equal(t, int64(1), a.Snapshot().InstancesStarted)
	require.Equal(t, int64(1), b.Snapshot().InstancesStarted)
}
