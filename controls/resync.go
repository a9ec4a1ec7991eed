package controls

import (
	"encoding/json"
	"fmt"
)

// ResyncDocument merges the raw definition text with the given state
// snapshot under the "state" member. The result is the first frame every
// client receives.
func ResyncDocument(definition string, state []UpdateMsg) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(definition), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDefinition, err)
	}
	if state == nil {
		state = []UpdateMsg{}
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	doc["state"] = encoded
	return json.Marshal(doc)
}
