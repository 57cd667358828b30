package ocr

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// ParseCandidates decodes the record objects in a model response. It accepts
// a JSON array of objects, an object holding a "records" array, or a single
// object, optionally wrapped in markdown code fences or prose. Anything else
// yields nil.
func ParseCandidates(text string) []map[string]any {
	body := cleanJSON(text)
	if body == "" {
		return nil
	}

	var list []any
	if err := json.Unmarshal([]byte(body), &list); err == nil {
		return objects(list)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		zap.L().Warn("ocr: response is not valid JSON, treating as empty",
			zap.Error(err),
			zap.Int("response_len", len(text)),
		)
		return nil
	}
	if records, ok := obj["records"].([]any); ok {
		return objects(records)
	}
	return []map[string]any{obj}
}

func objects(list []any) []map[string]any {
	var out []map[string]any
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// cleanJSON extracts the outermost JSON array or object from text that may
// contain markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	open, closing := "{", "}"
	arr := strings.Index(text, "[")
	obj := strings.Index(text, "{")
	if arr >= 0 && (obj < 0 || arr < obj) {
		open, closing = "[", "]"
	}

	start := strings.Index(text, open)
	end := strings.LastIndex(text, closing)
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}
