package llm

import (
	"encoding/json"
	"strings"
)

// Model replies are free text that may carry a fenced JSON block holding the
// structured payload. ExtractPayload pulls that block out; DecodePayload
// extracts and unmarshals in one step. Absence or malformed content is not an
// error here — each call site supplies its own fallback behavior.

// ExtractPayload returns the contents of the first fenced code block in text,
// or, when no fence is present, the whole text if it looks like a bare JSON
// document. The second return reports whether a candidate payload was found.
func ExtractPayload(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start >= 0 {
		rest := text[start+3:]
		// Skip an optional language tag such as "json" on the fence line.
		if newline := strings.Index(rest, "\n"); newline >= 0 {
			tag := strings.TrimSpace(rest[:newline])
			if tag == "" || isFenceTag(tag) {
				rest = rest[newline+1:]
			}
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end]), true
		}
		return "", false
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return trimmed, true
	}
	return "", false
}

// DecodePayload extracts the payload from text and unmarshals it into v.
// Returns false when no payload was found or the payload does not parse.
func DecodePayload(text string, v any) bool {
	payload, ok := ExtractPayload(text)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(payload), v) == nil
}

func isFenceTag(tag string) bool {
	switch strings.ToLower(tag) {
	case "json", "json5", "javascript", "js":
		return true
	}
	return false
}
