package plan

import "strings"

const fence = "```"

// extractFence returns the body of the first fenced code block in text. The
// info string after the opening fence (e.g. "json") is dropped. A missing
// closing fence takes the rest of the text.
func extractFence(text string) (string, bool) {
	start := strings.Index(text, fence)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(fence):]
	tag := 0
	for tag < len(rest) && isInfoByte(rest[tag]) {
		tag++
	}
	rest = rest[tag:]
	if end := strings.Index(rest, fence); end >= 0 {
		rest = rest[:end]
	}
	body := strings.TrimSpace(rest)
	return body, body != ""
}

func isInfoByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-' || c == '+'
}

// extractEmbedded returns the first balanced JSON object or array found in
// text, skipping brackets that appear inside string literals.
func extractEmbedded(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}
	var stack []byte
	inString, escape := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
