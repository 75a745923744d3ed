// Package plan owns the locally held workflow plan: its types, the recovery
// parser that turns model output into a Plan, the normalizer, and the on-disk
// plan buffer.
package plan

import (
	"encoding/json"
	"errors"
)

// Step is one command inside a Plan.
//
// InputFromStep is a 1-based index into the same Plan. It is not checked here;
// the job envelope validator enforces that it points at an earlier step.
type Step struct {
	Command        string   `json:"cmd"`
	Args           []string `json:"args"`
	InputFromStep  *int     `json:"input_from_step,omitempty"`
	TimeoutSeconds *int     `json:"timeout_secs,omitempty"`
}

// Plan is an ordered sequence of steps. Order is execution order.
type Plan struct {
	Steps []Step `json:"plan"`
}

// Len returns the number of steps.
func (p Plan) Len() int { return len(p.Steps) }

// MarshalJSON writes the canonical buffer form. Absent arguments are
// written as an empty list, never null.
func (p Plan) MarshalJSON() ([]byte, error) {
	type canonical struct {
		Steps []Step `json:"plan"`
	}
	steps := make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = s
		if s.Args == nil {
			steps[i].Args = []string{}
		}
	}
	return json.Marshal(canonical{Steps: steps})
}

// UnmarshalJSON accepts the same step shapes as the strict parsing strategy.
func (p *Plan) UnmarshalJSON(data []byte) error {
	out, ok := decodeStrict(string(data))
	if !ok {
		return errors.New("plan: not a plan document")
	}
	*p = out
	return nil
}

// Clone returns a deep copy so callers can mutate the result freely.
func (p Plan) Clone() Plan {
	if p.Steps == nil {
		return Plan{}
	}
	out := Plan{Steps: make([]Step, len(p.Steps))}
	for i, s := range p.Steps {
		out.Steps[i] = s.clone()
	}
	return out
}

func (s Step) clone() Step {
	c := Step{Command: s.Command}
	if s.Args != nil {
		c.Args = append([]string{}, s.Args...)
	}
	if s.InputFromStep != nil {
		v := *s.InputFromStep
		c.InputFromStep = &v
	}
	if s.TimeoutSeconds != nil {
		v := *s.TimeoutSeconds
		c.TimeoutSeconds = &v
	}
	return c
}

// Append adds the steps of next after the steps of p and returns the result.
// References inside next are shifted by len(p.Steps) so they keep pointing at
// the same logical steps.
//
// Expectations:
//   - Existing steps are unchanged
//   - Appended steps keep their relative order
//   - Every non-nil InputFromStep in next is increased by len(p.Steps)
func (p Plan) Append(next Plan) Plan {
	out := p.Clone()
	offset := len(out.Steps)
	for _, s := range next.Steps {
		c := s.clone()
		if c.InputFromStep != nil {
			*c.InputFromStep += offset
		}
		out.Steps = append(out.Steps, c)
	}
	return out
}

// Remove deletes the 1-based step n. References to later steps are shifted
// down by one; references to the removed step are dropped.
func (p Plan) Remove(n int) (Plan, bool) {
	if n < 1 || n > len(p.Steps) {
		return p, false
	}
	out := Plan{Steps: make([]Step, 0, len(p.Steps)-1)}
	for i, s := range p.Steps {
		if i == n-1 {
			continue
		}
		c := s.clone()
		if c.InputFromStep != nil {
			switch ref := *c.InputFromStep; {
			case ref == n:
				c.InputFromStep = nil
			case ref > n:
				*c.InputFromStep = ref - 1
			}
		}
		out.Steps = append(out.Steps, c)
	}
	return out, true
}

// Commands returns the command of every step in order.
func (p Plan) Commands() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Command
	}
	return out
}

// IntPtr is a small helper for building steps with optional fields.
func IntPtr(v int) *int { return &v }
