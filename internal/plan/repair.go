package plan

import "strings"

// argKeys are the object keys whose array values get quote repair.
var argKeys = map[string]bool{"args": true, "arguments": true}

// repairQuotes escapes unescaped quotation marks inside strings that live in
// an args/arguments array, e.g. ["-e", "say "hi""] becomes ["-e", "say \"hi\""].
// A quote inside such a string closes it only when the next non-space byte is
// ',' or ']'. Text outside argument arrays is copied unchanged.
//
// Expectations:
//   - Returns (text, false) when nothing needed escaping
//   - Leaves already-escaped quotes alone
//   - Never touches quotes outside args/arguments arrays
func repairQuotes(text string) (string, bool) {
	var out strings.Builder
	out.Grow(len(text) + 8)
	changed := false

	i := 0
	for i < len(text) {
		c := text[i]
		if c != '"' {
			out.WriteByte(c)
			i++
			continue
		}
		end := scanString(text, i)
		key := text[i+1 : max(i+1, end-1)]
		out.WriteString(text[i:end])
		i = end
		if !argKeys[key] {
			continue
		}
		open, ok := arrayOpening(text, i)
		if !ok {
			continue
		}
		out.WriteString(text[i:open])
		i = open
		var fixed bool
		i, fixed = repairArray(text, i, &out)
		changed = changed || fixed
	}
	if !changed {
		return text, false
	}
	return out.String(), true
}

// scanString returns the index just past the string literal starting at
// text[start] (which must be '"'), honouring backslash escapes.
func scanString(text string, start int) int {
	for j := start + 1; j < len(text); j++ {
		switch text[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return len(text)
}

// arrayOpening reports whether text[from:] starts with optional space, ':',
// optional space and '['. It returns the index just past '['.
func arrayOpening(text string, from int) (int, bool) {
	j := skipSpace(text, from)
	if j >= len(text) || text[j] != ':' {
		return 0, false
	}
	j = skipSpace(text, j+1)
	if j >= len(text) || text[j] != '[' {
		return 0, false
	}
	return j + 1, true
}

// repairArray copies an argument array body starting just after '[' and
// returns the index just past the matching ']'.
func repairArray(text string, i int, out *strings.Builder) (int, bool) {
	changed := false
	inString := false
	for i < len(text) {
		c := text[i]
		if !inString {
			out.WriteByte(c)
			i++
			switch c {
			case '"':
				inString = true
			case ']':
				return i, changed
			}
			continue
		}
		switch c {
		case '\\':
			out.WriteByte(c)
			if i+1 < len(text) {
				out.WriteByte(text[i+1])
			}
			i += 2
		case '"':
			next := skipSpace(text, i+1)
			if next >= len(text) || text[next] == ',' || text[next] == ']' {
				out.WriteByte(c)
				inString = false
			} else {
				out.WriteString(`\"`)
				changed = true
			}
			i++
		default:
			out.WriteByte(c)
			i++
		}
	}
	return i, changed
}

func skipSpace(text string, i int) int {
	for i < len(text) {
		switch text[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}
