package adapter

import (
	"encoding/json"
	"strings"
)

// parseJSONLine decodes raw into a generic map, returning ok=false if
// raw is not a JSON object (invalid JSON lines become a synthetic
// error event at the call site, per spec.md §4.6).
func parseJSONLine(raw string) (map[string]any, bool) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

func asString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func asMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

func asList(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

// extractItemText pulls assistant/reasoning text out of a codex "item"
// object, following either a top-level "text" field or a "content"
// list of {type, text} pieces.
func extractItemText(item map[string]any) string {
	if text := asString(item, "text"); text != "" {
		return text
	}
	content := asList(item, "content")
	var parts []string
	for _, piece := range content {
		if pm, ok := piece.(map[string]any); ok {
			if text := asString(pm, "text"); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return joinLines(parts)
}

// extractItemCommand renders a codex "item.command" field, which may
// be a string or a list of argv tokens.
func extractItemCommand(item map[string]any) string {
	switch v := item["command"].(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, p := range v {
			parts = append(parts, toStr(p))
		}
		return joinSpace(parts)
	default:
		return ""
	}
}

func toStr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func joinLines(parts []string) string {
	return strings.Join(parts, "\n")
}

func joinSpace(parts []string) string {
	return strings.Join(parts, " ")
}
