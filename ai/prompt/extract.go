package prompt

import (
	"encoding/json"
	"strings"
)

// ExtractJSONObject pulls a JSON object out of an LLM reply, permissively:
// a bare object, then the first fenced code block, then the first balanced
// {...} substring. Returns "" when nothing parseable is found; callers treat
// that as an empty result, not an error.
func ExtractJSONObject(s string) string {
	trimmed := strings.TrimSpace(s)
	if isJSONObject(trimmed) {
		return trimmed
	}

	if fenced := extractFenced(trimmed); fenced != "" && isJSONObject(fenced) {
		return fenced
	}

	if balanced := extractBalanced(trimmed); balanced != "" && isJSONObject(balanced) {
		return balanced
	}

	return ""
}

func isJSONObject(s string) bool {
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var obj map[string]any
	return json.Unmarshal([]byte(s), &obj) == nil
}

// extractFenced returns the body of the first ``` block, tolerating a
// language tag on the opening fence.
func extractFenced(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if !strings.HasPrefix(firstLine, "{") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// extractBalanced returns the first brace-balanced substring, tracking
// string literals so braces inside values do not miscount.
func extractBalanced(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
