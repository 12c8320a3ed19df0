package extract

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Extract derives the field map for one invocation from its raw tool_input.
//
// It never fails: unknown tools, malformed JSON, missing keys and non-string
// values all simply leave fields out of the map, so only tool-name rules can
// match what the schema cannot see.
func Extract(tool string, raw json.RawMessage) map[string]string {
	fields := make(map[string]string)

	s, ok := schemas[tool]
	if !ok || len(raw) == 0 || !gjson.ValidBytes(raw) {
		return fields
	}

	for _, f := range s.Fields {
		r := gjson.GetBytes(raw, f.Path)
		if r.Type != gjson.String {
			continue
		}
		fields[f.Name] = r.Str
	}
	return fields
}

// FromMap is Extract for callers holding an already-decoded input object.
func FromMap(tool string, input map[string]any) map[string]string {
	if input == nil {
		return make(map[string]string)
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return make(map[string]string)
	}
	return Extract(tool, raw)
}
