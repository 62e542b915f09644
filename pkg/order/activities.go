package order

import (
	"context"
	"fmt"
	"time"

	"github.com/mlahtinen/virta/pkg/api"
)

// Activity names of the order-processing workflow.
const (
	ActivityProcessOrder     = "process_order"
	ActivityCheckInventory   = "check_inventory"
	ActivitySendConfirmation = "send_confirmation"
)

// Simulation controls the artificial latency of the demonstration
// activities. The zero value runs them instantly, which is what tests
// want; production wiring uses DefaultSimulation.
type Simulation struct {
	ProcessDelay   time.Duration
	InventoryDelay time.Duration
	ConfirmDelay   time.Duration
}

// DefaultSimulation mirrors the demonstrated latencies: two seconds for
// each parallel activity, one second for the confirmation.
func DefaultSimulation() Simulation {
	return Simulation{
		ProcessDelay:   2 * time.Second,
		InventoryDelay: 2 * time.Second,
		ConfirmDelay:   1 * time.Second,
	}
}

// Definitions returns the activity definitions for the order workflow.
// The activities are non-retriable simulations: a single attempt each,
// with a generous per-attempt timeout.
func Definitions(sim Simulation) []api.ActivityDefinition {
	return []api.ActivityDefinition{
		{
			Name:    ActivityProcessOrder,
			Fn:      processOrder(sim.ProcessDelay),
			Timeout: 30 * time.Second,
		},
		{
			Name:    ActivityCheckInventory,
			Fn:      checkInventory(sim.InventoryDelay),
			Timeout: 30 * time.Second,
		},
		{
			Name:    ActivitySendConfirmation,
			Fn:      sendConfirmation(sim.ConfirmDelay),
			Timeout: 30 * time.Second,
		},
	}
}

// NewRegistry builds the immutable activity registry for the order
// workflow.
func NewRegistry(sim Simulation) *api.Registry {
	return api.MustNewRegistry(Definitions(sim)...)
}

// processOrder computes the order total with a 10% surcharge.
func processOrder(delay time.Duration) api.ActivityFunc {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		return map[string]any{
			"order_id":     stringField(input, "order_id"),
			"status":       "processed",
			"total":        numberField(input, "amount") * 1.1,
			"processed_at": time.Now().UTC().Format(time.RFC3339Nano),
		}, nil
	}
}

// checkInventory reports availability and counts the order's items.
func checkInventory(delay time.Duration) api.ActivityFunc {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		return map[string]any{
			"order_id":         stringField(input, "order_id"),
			"inventory_status": "available",
			"items_count":      itemCount(input),
			"checked_at":       time.Now().UTC().Format(time.RFC3339Nano),
		}, nil
	}
}

// sendConfirmation runs on the combined parallel results. Sending is
// at-least-once: a re-dispatched attempt may send the message again.
func sendConfirmation(delay time.Duration) api.ActivityFunc {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		return map[string]any{
			"confirmation_sent": true,
			"order_id":          stringField(input, "order_id"),
			"message": fmt.Sprintf("Order confirmed with %d items. Total: $%.2f",
				intField(input, "items_count"), numberField(input, "total")),
			"confirmed_at": time.Now().UTC().Format(time.RFC3339Nano),
		}, nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// numberField tolerates both native float64 and values that round-
// tripped through JSON decoding.
func numberField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func intField(m map[string]any, key string) int {
	return int(numberField(m, key))
}

func itemCount(input map[string]any) int {
	switch items := input["items"].(type) {
	case []any:
		return len(items)
	case []string:
		return len(items)
	}
	return 0
}
