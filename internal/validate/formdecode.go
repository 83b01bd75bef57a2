package validate

import (
	"encoding/json"
	"strings"
)

// StructuredDecodeResult reports how a form field was handled by
// DecodeStructuredFields.
type StructuredDecodeResult int

const (
	// StructuredAbsent means the field was not present or was not a string.
	StructuredAbsent StructuredDecodeResult = iota
	// StructuredDecoded means the field held valid JSON and was replaced
	// with the decoded value.
	StructuredDecoded
	// StructuredEmptied means the field held malformed JSON and was
	// replaced with an empty collection.
	StructuredEmptied
)

// DecodeStructuredFields rewrites allow-listed fields that arrived as strings
// (multipart form submissions flatten arrays and objects to text) into their
// decoded structured values. Malformed payloads are replaced with an empty
// collection instead of failing, so a transport-encoding mistake surfaces as
// an ordinary validation error on the field rather than a decode panic that
// masks it.
func DecodeStructuredFields(body map[string]any, fields ...string) map[string]StructuredDecodeResult {
	results := make(map[string]StructuredDecodeResult, len(fields))
	for _, name := range fields {
		raw, ok := body[name].(string)
		if !ok {
			results[name] = StructuredAbsent
			continue
		}
		decoder := json.NewDecoder(strings.NewReader(raw))
		decoder.UseNumber()
		var decoded any
		if err := decoder.Decode(&decoded); err != nil {
			body[name] = []any{}
			results[name] = StructuredEmptied
			continue
		}
		switch decoded.(type) {
		case []any, map[string]any:
			body[name] = decoded
			results[name] = StructuredDecoded
		default:
			body[name] = []any{}
			results[name] = StructuredEmptied
		}
	}
	return results
}
