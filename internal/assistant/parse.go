package assistant

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParseOutcome is the tagged result of best-effort JSON extraction. When
// Parsed is false, Raw carries the original text so callers can log it.
type ParseOutcome struct {
	Parsed bool
	Value  json.RawMessage
	Raw    string
}

var fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\\s*\n?(.*?)```")

// ExtractJSON pulls structured output from free-form assistant text.
// Strategies, in order: strict parse of the whole text, first fenced code
// block, outermost braces/brackets. Returns Unparseable rather than nil so
// the raw text survives for logging.
func ExtractJSON(text string) ParseOutcome {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ParseOutcome{Raw: text}
	}

	if v, ok := tryParse(trimmed); ok {
		return ParseOutcome{Parsed: true, Value: v, Raw: text}
	}

	for _, match := range fencedBlockRe.FindAllStringSubmatch(trimmed, -1) {
		if v, ok := tryParse(strings.TrimSpace(match[1])); ok {
			return ParseOutcome{Parsed: true, Value: v, Raw: text}
		}
	}

	if v, ok := tryParse(outermost(trimmed, '{', '}')); ok {
		return ParseOutcome{Parsed: true, Value: v, Raw: text}
	}
	if v, ok := tryParse(outermost(trimmed, '[', ']')); ok {
		return ParseOutcome{Parsed: true, Value: v, Raw: text}
	}

	return ParseOutcome{Raw: text}
}

// ExtractCode returns source code from assistant text, tolerating an
// enclosing code fence and leading/trailing prose. Without a fence the whole
// trimmed text is treated as code.
func ExtractCode(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	matches := fencedBlockRe.FindAllStringSubmatch(trimmed, -1)
	if len(matches) > 0 {
		// Take the longest block; short ones tend to be usage examples.
		best := ""
		for _, m := range matches {
			candidate := strings.TrimSpace(m[1])
			if len(candidate) > len(best) {
				best = candidate
			}
		}
		return best
	}

	return trimmed
}

func tryParse(s string) (json.RawMessage, bool) {
	if s == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	// Bare strings/numbers parse as JSON but are never the structured
	// payload we asked for.
	switch v.(type) {
	case map[string]any, []any:
		return json.RawMessage(s), true
	}
	return nil, false
}

func outermost(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
