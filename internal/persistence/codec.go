package persistence

import "encoding/json"

// encodePayload serializes an event or snapshot payload as JSON.
// A nil map encodes to nil so the column stays NULL.
func encodePayload(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// decodePayload deserializes a JSON payload column. Empty data decodes
// to a nil map.
func decodePayload(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
