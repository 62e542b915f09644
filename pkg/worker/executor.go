package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mlahtinen/virta/pkg/api"
)

// Execute runs a single activity attempt and always returns a tagged
// outcome; it never panics and never returns a bare error to the
// caller.
//
// The timeout is enforced here even if the activity ignores its
// context: the activity runs on its own goroutine and Execute stops
// waiting at the deadline. An abandoned goroutine may still finish
// later; its result is discarded, which is consistent with the
// at-least-once execution contract.
func Execute(ctx context.Context, def api.ActivityDefinition, input map[string]any, timeout time.Duration) (map[string]any, *api.Failure) {
	if timeout <= 0 {
		timeout = def.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("activity panic: %v", r)}
			}
		}()
		result, err := def.Fn(ctx, input)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, classify(ctx, out.err)
		}
		return out.result, nil
	case <-ctx.Done():
		return nil, classify(ctx, ctx.Err())
	}
}

func classify(ctx context.Context, err error) *api.Failure {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &api.Failure{Kind: api.FailureTimeout, Message: "activity deadline exceeded"}
	case errors.Is(err, context.Canceled):
		return &api.Failure{Kind: api.FailureCancelled, Message: "activity cancelled"}
	default:
		// An activity that errored right at its deadline is a timeout
		// as far as the instance is concerned.
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &api.Failure{Kind: api.FailureTimeout, Message: err.Error()}
		}
		return &api.Failure{Kind: api.FailureExecution, Message: err.Error()}
	}
}
