package vlm

import "strings"

// ExtractJSON pulls the first JSON object or array out of a model response.
// Handles fenced blocks, leading prose, and trailing commentary.
func ExtractJSON(s string) (string, bool) {
	s = stripFences(s)

	start := -1
	for i, r := range s {
		if r == '{' || r == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return "", false
	}

	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	// Unterminated payload; return the tail so repair can try.
	return s[start:], true
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// RepairJSON fixes the malformations models commonly produce: trailing
// commas before a closing bracket and unbalanced braces at the end.
func RepairJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	var stack []byte
	pendingComma := false

	flushComma := func() {
		if pendingComma {
			b.WriteByte(',')
			pendingComma = false
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
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
			flushComma()
			inString = true
			b.WriteByte(c)
		case '{', '[':
			flushComma()
			stack = append(stack, c)
			b.WriteByte(c)
		case '}', ']':
			pendingComma = false
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			b.WriteByte(c)
		case ',':
			// Held back until real content follows, which drops trailing commas.
			pendingComma = true
		case ' ', '\t', '\n', '\r':
			b.WriteByte(c)
		default:
			flushComma()
			b.WriteByte(c)
		}
	}

	// Close anything left open, including a dangling string.
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}
