package tools

import (
	"encoding/json"
	"fmt"
)

// decodeArgs parses a tool call's JSON-encoded arguments string into a map.
// A malformed payload degrades to an empty map rather than failing the
// call outright — the underlying tool is responsible for validating its
// own required fields.
func decodeArgs(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return map[string]any{}
	}
	return m
}

// renderResult flattens a tool's structured result into the string form
// appended to the conversation. A "content" field is used verbatim if
// present and a string; otherwise the whole map is rendered as JSON.
func renderResult(result map[string]any) string {
	if result == nil {
		return ""
	}
	if content, ok := result["content"]; ok {
		if s, ok := content.(string); ok {
			return s
		}
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}
