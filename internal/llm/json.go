package llm

import (
	"errors"
	"strings"
)

// ExtractJSONObject pulls the first balanced top-level JSON object out of a
// completion. Models wrap output in markdown fences or preamble text often
// enough that callers should never json.Unmarshal raw completions directly.
func ExtractJSONObject(text string) (string, error) {
	text = stripFences(text)

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", errors.New("llm: no JSON object in completion")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				return text[start : i+1], nil
			}
		}
	}
	return "", errors.New("llm: unterminated JSON object in completion")
}

// stripFences removes markdown code fences, with or without a language tag.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		head := strings.TrimSpace(text[:idx])
		if len(head) <= 10 && !strings.ContainsAny(head, "{}") {
			text = text[idx+1:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
