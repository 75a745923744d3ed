package plan

import "strings"

// dedupeCommands only remove adjacent duplicates, so their input must be sorted.
var dedupeCommands = map[string]bool{"uniq": true}

var sortCommands = map[string]bool{"sort": true}

// IsDedupe reports whether command removes adjacent duplicate lines.
func IsDedupe(command string) bool { return dedupeCommands[strings.TrimSpace(command)] }

// IsSort reports whether command orders its input.
func IsSort(command string) bool { return sortCommands[strings.TrimSpace(command)] }

// Normalize inserts a sort step immediately before the first dedupe step that
// has no sort step anywhere earlier in the plan. It is the only rewrite rule.
//
// Expectations:
//   - Returns an equal plan when every dedupe step already has an earlier sort
//   - Inserts at most one step
//   - Does not reorder any existing step
//   - References at or after the insertion point shift by one
//   - An explicit input_from_step on the dedupe step moves to the inserted sort,
//     and the dedupe step then reads from the sort
//   - Normalize(Normalize(p)) == Normalize(p)
func Normalize(p Plan) Plan {
	at := -1
	sorted := false
	for i, s := range p.Steps {
		if IsSort(s.Command) {
			sorted = true
		}
		if IsDedupe(s.Command) && !sorted {
			at = i
			break
		}
	}
	if at < 0 {
		return p.Clone()
	}

	pos := at + 1 // 1-based position the sort step will take
	shift := func(ref *int) *int {
		if ref == nil {
			return nil
		}
		v := *ref
		if v >= pos {
			v++
		}
		return &v
	}

	out := Plan{Steps: make([]Step, 0, len(p.Steps)+1)}
	for i, s := range p.Steps {
		c := s.clone()
		if i != at {
			c.InputFromStep = shift(c.InputFromStep)
			out.Steps = append(out.Steps, c)
			continue
		}
		sortStep := Step{Command: "sort", Args: []string{}}
		if c.InputFromStep != nil {
			sortStep.InputFromStep = shift(c.InputFromStep)
			c.InputFromStep = IntPtr(pos)
		}
		out.Steps = append(out.Steps, sortStep, c)
	}
	return out
}
