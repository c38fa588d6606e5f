package research

import (
	"errors"
	"strings"
)

// ExtractJSON finds and returns the first JSON object or array in s. Model
// output often wraps JSON in Markdown fences or leading prose; this unwraps a
// fenced block if present, then scans for a balanced {...} or [...] while
// ignoring braces inside strings.
func ExtractJSON(s string) (string, error) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\uFEFF"))

	if inner, ok := stripCodeFence(s); ok {
		s = strings.TrimSpace(inner)
	}

	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			if out, ok := balancedFrom(s, i); ok {
				return out, nil
			}
		}
	}
	return "", errors.New("no balanced JSON object/array found")
}

// stripCodeFence removes the first fenced code block if s starts with ``` or
// ~~~, tolerating an optional language tag (```json).
func stripCodeFence(s string) (string, bool) {
	trim := strings.TrimLeft(s, "\n\r\t ")
	fence := ""
	switch {
	case strings.HasPrefix(trim, "```"):
		fence = "```"
	case strings.HasPrefix(trim, "~~~"):
		fence = "~~~"
	default:
		return "", false
	}
	rest := trim[len(fence):]
	idx := strings.IndexByte(rest, '\n')
	if idx == -1 {
		return "", false
	}
	rest = rest[idx+1:]
	if end := strings.Index(rest, fence); end != -1 {
		return rest[:end], true
	}
	return "", false
}

// balancedFrom extracts a balanced JSON value starting at start, handling
// strings and escape sequences.
func balancedFrom(s string, start int) (string, bool) {
	if start < 0 || start >= len(s) || (s[start] != '{' && s[start] != '[') {
		return "", false
	}

	var stack []byte
	inString := false
	escape := false
	stack = append(stack, s[start])

	for i := start + 1; i < len(s); i++ {
		c := s[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			switch c {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			top := stack[len(stack)-1]
			if (top == '{' && c != '}') || (top == '[' && c != ']') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
