// Package jsonrepair parses JSON emitted by LLMs, tolerating the common
// ways models break the grammar. Repairs are attempted in a fixed order:
// raw JSON, JSON5, markdown fence stripping, single-to-double quote
// conversion, trailing-comma removal, closing unterminated strings and
// brackets, and finally extraction of the longest balanced object. Each
// repair is cumulative; parsing is retried after every rung. On terminal
// failure callers receive a *ParseError and must not guess semantics.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// ParseError reports which repairs were attempted before giving up.
type ParseError struct {
	Attempts []string
	Err      error
	Input    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("json repair failed after %s: %v (input: %s)",
		strings.Join(e.Attempts, ", "), e.Err, e.Input)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse runs the repair ladder and returns the decoded value.
func Parse(input string) (any, error) {
	value, _, err := parse(input)
	return value, err
}

// Object runs the repair ladder and requires a JSON object result.
func Object(input string) (map[string]any, error) {
	value, _, err := parse(input)
	if err != nil {
		return nil, err
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, &ParseError{
			Attempts: []string{"object"},
			Err:      fmt.Errorf("parsed value is %T, not an object", value),
			Input:    truncate(input),
		}
	}
	return obj, nil
}

// Decode runs the repair ladder and unmarshals the result into v.
func Decode(input string, v any) error {
	value, _, err := parse(input)
	if err != nil {
		return err
	}
	normalized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("re-encode repaired value: %w", err)
	}
	return json.Unmarshal(normalized, v)
}

func parse(input string) (any, string, error) {
	s := strings.TrimSpace(input)
	attempts := make([]string, 0, 8)
	var lastErr error

	try := func(name, candidate string) (any, bool) {
		attempts = append(attempts, name)
		var value any
		if err := json.Unmarshal([]byte(candidate), &value); err != nil {
			lastErr = err
			return nil, false
		}
		return value, true
	}
	tryJSON5 := func(name, candidate string) (any, bool) {
		attempts = append(attempts, name)
		var value any
		if err := json5.Unmarshal([]byte(candidate), &value); err != nil {
			lastErr = err
			return nil, false
		}
		return value, true
	}

	if s == "" {
		return nil, "", &ParseError{Attempts: []string{"raw"}, Err: fmt.Errorf("empty input"), Input: ""}
	}

	if v, ok := try("raw", s); ok {
		return v, s, nil
	}
	if v, ok := tryJSON5("json5", s); ok {
		return v, s, nil
	}

	if stripped := stripFences(s); stripped != s {
		s = stripped
		if v, ok := try("fences", s); ok {
			return v, s, nil
		}
		if v, ok := tryJSON5("fences+json5", s); ok {
			return v, s, nil
		}
	}

	if quoted := normalizeQuotes(s); quoted != s {
		s = quoted
		if v, ok := try("quotes", s); ok {
			return v, s, nil
		}
	}

	if trimmed := removeTrailingCommas(s); trimmed != s {
		s = trimmed
		if v, ok := try("commas", s); ok {
			return v, s, nil
		}
	}

	if closed := closeUnterminated(s); closed != s {
		s = closed
		if v, ok := try("close", s); ok {
			return v, s, nil
		}
	}

	if extracted := extractBalancedObject(s); extracted != "" && extracted != s {
		if v, ok := try("extract", extracted); ok {
			return v, extracted, nil
		}
		if v, ok := tryJSON5("extract+json5", extracted); ok {
			return v, extracted, nil
		}
	}

	return nil, "", &ParseError{Attempts: attempts, Err: lastErr, Input: truncate(input)}
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag, returning the inner text.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	start := strings.Index(trimmed, "```")
	if start < 0 {
		return s
	}
	rest := trimmed[start+3:]
	// Drop the language tag up to the first newline.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		if lang := strings.TrimSpace(rest[:nl]); lang == "" || isFenceTag(lang) {
			rest = rest[nl+1:]
		}
	}
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func isFenceTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return len(s) <= 10
}

// normalizeQuotes converts single-quoted strings to double-quoted ones,
// escaping any embedded double quotes. Apostrophes inside double-quoted
// strings are left untouched.
func normalizeQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	const (
		stateNormal = iota
		stateDouble
		stateSingle
	)
	state := stateNormal
	escaped := false

	for _, r := range s {
		switch state {
		case stateNormal:
			switch r {
			case '\'':
				state = stateSingle
				b.WriteByte('"')
			case '"':
				state = stateDouble
				b.WriteRune(r)
			default:
				b.WriteRune(r)
			}
		case stateDouble:
			if escaped {
				escaped = false
				b.WriteRune(r)
				continue
			}
			switch r {
			case '\\':
				escaped = true
				b.WriteRune(r)
			case '"':
				state = stateNormal
				b.WriteRune(r)
			default:
				b.WriteRune(r)
			}
		case stateSingle:
			if escaped {
				escaped = false
				if r == '\'' {
					b.WriteRune(r) // \' becomes a plain apostrophe
				} else {
					b.WriteByte('\\')
					b.WriteRune(r)
				}
				continue
			}
			switch r {
			case '\\':
				escaped = true
			case '\'':
				state = stateNormal
				b.WriteByte('"')
			case '"':
				b.WriteString(`\"`)
			default:
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// removeTrailingCommas drops commas that directly precede a closing
// bracket, iterating until stable so nested cases like {,} collapse.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if inString {
			b.WriteRune(r)
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
			b.WriteRune(r)
		case ',':
			// Look ahead past whitespace for a closer.
			j := i + 1
			for j < len(runes) && (runes[j] == ' ' || runes[j] == '\t' || runes[j] == '\n' || runes[j] == '\r') {
				j++
			}
			if j < len(runes) && (runes[j] == '}' || runes[j] == ']') {
				continue // drop the comma
			}
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// closeUnterminated appends the minimum closers for an input that ends
// mid-string or with open brackets. A dangling comma before the closers is
// trimmed so the result is the minimum valid form.
func closeUnterminated(s string) string {
	inString := false
	escaped := false
	var stack []rune

	for _, r := range s {
		if inString {
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, r)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if !inString && len(stack) == 0 {
		return s
	}

	out := s
	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out += `"`
	}
	out = strings.TrimRight(out, " \t\n\r")
	out = strings.TrimSuffix(out, ",")
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}
	return out
}

// extractBalancedObject returns the longest balanced {...} substring,
// scanning string-aware so braces inside strings do not count.
func extractBalancedObject(s string) string {
	best := ""
	inString := false
	escaped := false
	depth := 0
	start := -1

	for i, r := range s {
		if inString {
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := s[start : i+len("}")]
					if len(candidate) > len(best) {
						best = candidate
					}
					start = -1
				}
			}
		}
	}
	return best
}

func truncate(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
