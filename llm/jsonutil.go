package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// fencedPattern matches the body of a markdown code fence, with or without a language tag.
var fencedPattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// ErrNoJSON is returned when a completion contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in completion")

// ExtractJSON pulls the first JSON object out of a completion. Models wrap
// objects in code fences, surround them with prose, and leave // comments and
// trailing commas behind; all of that is removed. Returns "" if no object is
// present.
func ExtractJSON(content string) string {
	candidate := content
	if m := fencedPattern.FindStringSubmatch(content); len(m) > 1 && strings.Contains(m[1], "{") {
		candidate = m[1]
	}

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start < 0 || end <= start {
		return ""
	}

	return stripTrailingCommas(stripComments(candidate[start : end+1]))
}

// DecodeJSON extracts the JSON object in content and unmarshals it into v.
func DecodeJSON(content string, v any) error {
	raw := ExtractJSON(content)
	if raw == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode completion JSON: %w", err)
	}
	return nil
}

// stripComments drops // comments that sit outside string literals.
//
//	"url": "http://example.com", // note  ->  "url": "http://example.com",
func stripComments(raw string) string {
	if !strings.Contains(raw, "//") {
		return raw
	}

	var b strings.Builder
	b.Grow(len(raw))

	inString, escaped, inComment := false, false, false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		switch {
		case inComment:
			if ch == '\n' {
				inComment = false
				b.WriteByte(ch)
			}
			continue
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == '/' && i+1 < len(raw) && raw[i+1] == '/':
			inComment = true
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// stripTrailingCommas drops commas that directly precede ] or }, leaving
// string literals untouched.
//
//	{"ids": [1, 2,],}  ->  {"ids": [1, 2]}
func stripTrailingCommas(raw string) string {
	if !strings.Contains(raw, ",") {
		return raw
	}

	var b strings.Builder
	b.Grow(len(raw))

	inString, escaped := false, false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == ',':
			j := i + 1
			for j < len(raw) && strings.IndexByte(" \t\r\n", raw[j]) >= 0 {
				j++
			}
			if j < len(raw) && (raw[j] == '}' || raw[j] == ']') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}
