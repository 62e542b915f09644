package order

import "github.com/mlahtinen/virta/pkg/api"

// WorkflowName identifies the order-processing workflow.
const WorkflowName = "order_processing"

// Definition returns the order workflow's stage graph: process_order
// and check_inventory fan out in parallel; once both results are
// durably recorded, send_confirmation runs on their combined data.
func Definition() api.Definition {
	return api.Definition{
		Name:       WorkflowName,
		Parallel:   []string{ActivityProcessOrder, ActivityCheckInventory},
		Sequential: []string{ActivitySendConfirmation},
		Combine:    Combine,
	}
}

// Combine builds the confirmation activity's input from the original
// order and the two parallel results.
func Combine(input map[string]any, results map[string]map[string]any) map[string]any {
	processed := results[ActivityProcessOrder]
	inventory := results[ActivityCheckInventory]
	return map[string]any{
		"order_id":         stringField(input, "order_id"),
		"total":            numberField(processed, "total"),
		"items_count":      intField(inventory, "items_count"),
		"status":           stringField(processed, "status"),
		"inventory_status": stringField(inventory, "inventory_status"),
	}
}
