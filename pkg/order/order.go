// Package order defines the order-processing workflow: two parallel
// activities (process_order, check_inventory) joined before a
// sequential confirmation activity.
package order

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mlahtinen/virta/pkg/api"
)

// startSchemaJSON validates the start payload before any instance is
// created. Embedded as a constant to avoid filesystem dependencies.
const startSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "virta://schemas/order-start.json",
  "type": "object",
  "required": ["order_id", "amount", "items"],
  "properties": {
    "order_id": {
      "type": "string",
      "minLength": 1
    },
    "amount": {
      "type": "number",
      "minimum": 0
    },
    "items": {
      "type": "array",
      "items": { "type": "string" }
    }
  },
  "additionalProperties": false
}`

var startSchema = mustCompileStartSchema()

func mustCompileStartSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(startSchemaJSON))
	if err != nil {
		panic(fmt.Errorf("order: unmarshal start schema: %w", err))
	}
	if err := c.AddResource("virta://schemas/order-start.json", doc); err != nil {
		panic(fmt.Errorf("order: add start schema resource: %w", err))
	}
	s, err := c.Compile("virta://schemas/order-start.json")
	if err != nil {
		panic(fmt.Errorf("order: compile start schema: %w", err))
	}
	return s
}

// InstanceID derives the workflow instance id from the order's
// business key. It is pure and total: the same order id always maps to
// the same instance id, which is what makes client retries idempotent.
func InstanceID(orderID string) string {
	return "order_" + orderID
}

// ValidateStart checks a start payload against the order schema.
// It returns an api.ValidationError describing every violation, or nil.
func ValidateStart(input map[string]any) error {
	if input == nil {
		return api.NewValidationError("order input is required")
	}
	doc, err := toJSONValue(input)
	if err != nil {
		return api.NewValidationError("order input is not serializable: " + err.Error())
	}
	if err := startSchema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if v, ok := err.(*jsonschema.ValidationError); ok {
			verr = v
		}
		if verr == nil {
			return api.NewValidationError("invalid order input: " + err.Error())
		}
		return api.NewValidationError("invalid order input", collectViolations(verr)...)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON so numeric values
// become json.Number, as the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// collectViolations walks a ValidationError tree and collects leaf
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
