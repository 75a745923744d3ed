package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// excerptBytes bounds how much of the original text a ParseError keeps.
const excerptBytes = 256

// ErrNoPlan is wrapped by every ParseError.
var ErrNoPlan = errors.New("plan: no strategy recovered a plan")

// ParseError reports that no strategy recovered a plan from the raw text.
type ParseError struct {
	Excerpt string // first excerptBytes bytes of the original text
	Length  int    // length of the original text in bytes
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v (%d bytes): %q", ErrNoPlan, e.Length, e.Excerpt)
}

func (e *ParseError) Unwrap() error { return ErrNoPlan }

func newParseError(raw string) *ParseError {
	ex := raw
	if len(ex) > excerptBytes {
		ex = ex[:excerptBytes]
		for len(ex) > 0 && !utf8.ValidString(ex) {
			ex = ex[:len(ex)-1]
		}
	}
	return &ParseError{Excerpt: ex, Length: len(raw)}
}

// Strategy names one recovery strategy.
type Strategy string

const (
	StrategyStrict   Strategy = "strict"
	StrategyUnwrap   Strategy = "unwrap"
	StrategyBareList Strategy = "bare_list"
	StrategyRepair   Strategy = "quote_repair"
	StrategyFence    Strategy = "fence"
	StrategyEmbedded Strategy = "embedded"
)

type strategy struct {
	name Strategy
	fn   func(string) (Plan, bool)
}

// direct lists the strategies that work on the text as given. The wrapping
// strategies (fence, embedded) re-run this list on an extracted substring.
var direct = []strategy{
	{StrategyStrict, decodeStrict},
	{StrategyUnwrap, decodeUnwrapped},
	{StrategyBareList, decodeBareList},
	{StrategyRepair, decodeRepaired},
}

// Parse recovers a Plan from raw model output. The result is not normalized.
func Parse(raw string) (Plan, error) {
	p, _, err := ParseWithStrategy(raw)
	return p, err
}

// ParseWithStrategy is Parse that also reports which strategy succeeded.
//
// Expectations:
//   - Strategies run in order strict, unwrap, bare_list, quote_repair, fence, embedded
//   - The first strategy that succeeds wins; later strategies are not attempted
//   - Returns *ParseError when every strategy fails, never a partial plan
func ParseWithStrategy(raw string) (Plan, Strategy, error) {
	if p, name, ok := runDirect(raw); ok {
		return p, name, nil
	}
	if inner, ok := extractFence(raw); ok {
		if p, _, ok := runDirect(inner); ok {
			return p, StrategyFence, nil
		}
	}
	if inner, ok := extractEmbedded(raw); ok && inner != strings.TrimSpace(raw) {
		if p, _, ok := runDirect(inner); ok {
			return p, StrategyEmbedded, nil
		}
	}
	return Plan{}, "", newParseError(raw)
}

// ParseAndNormalize parses raw and applies Normalize to the result.
func ParseAndNormalize(raw string) (Plan, error) {
	p, err := Parse(raw)
	if err != nil {
		return Plan{}, err
	}
	return Normalize(p), nil
}

func runDirect(text string) (Plan, Strategy, bool) {
	for _, s := range direct {
		if p, ok := s.fn(text); ok {
			return p, s.name, true
		}
	}
	return Plan{}, "", false
}

// planKeys are the object keys that carry the step array.
var planKeys = []string{"plan", "tasks"}

// decodeStrict decodes {"plan": [...]} where every element is a step object
// or a bare command string.
func decodeStrict(text string) (Plan, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return Plan{}, false
	}
	raw, ok := planField(obj)
	if !ok {
		return Plan{}, false
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil || elems == nil {
		return Plan{}, false
	}
	return decodeSteps(elems)
}

func planField(obj map[string]json.RawMessage) (json.RawMessage, bool) {
	for _, k := range planKeys {
		if raw, ok := obj[k]; ok {
			return raw, true
		}
	}
	return nil, false
}

// decodeUnwrapped handles {"response": {"plan": [...]}}: exactly one field of
// the outer object must be an object that carries a plan.
func decodeUnwrapped(text string) (Plan, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return Plan{}, false
	}
	if _, ok := planField(obj); ok {
		return Plan{}, false
	}
	var candidate json.RawMessage
	found := 0
	for _, v := range obj {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(v, &inner); err != nil || inner == nil {
			continue
		}
		if _, ok := planField(inner); ok {
			candidate = v
			found++
		}
	}
	if found != 1 {
		return Plan{}, false
	}
	return decodeStrict(string(candidate))
}

// decodeBareList handles ["sort", "uniq"] and arrays of step objects.
func decodeBareList(text string) (Plan, bool) {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(text), &elems); err != nil || elems == nil {
		return Plan{}, false
	}
	return decodeSteps(elems)
}

func decodeRepaired(text string) (Plan, bool) {
	fixed, changed := repairQuotes(text)
	if !changed {
		return Plan{}, false
	}
	return decodeStrict(fixed)
}

func decodeSteps(elems []json.RawMessage) (Plan, bool) {
	p := Plan{Steps: make([]Step, 0, len(elems))}
	for _, e := range elems {
		s, err := decodeStep(e)
		if err != nil {
			return Plan{}, false
		}
		p.Steps = append(p.Steps, s)
	}
	return p, true
}

var (
	errEmptyCommand = errors.New("empty command")
	errBadArgs      = errors.New("args must be a list of scalars")
	errBadInteger   = errors.New("expected a non-negative integer")
)

// decodeStep accepts a bare command string or a step object with loose field
// names and scalar arguments.
func decodeStep(raw json.RawMessage) (Step, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		name = strings.TrimSpace(name)
		if name == "" {
			return Step{}, errEmptyCommand
		}
		return Step{Command: name, Args: []string{}}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return Step{}, fmt.Errorf("step: %w", err)
	}
	if m == nil {
		return Step{}, errEmptyCommand
	}

	s := Step{Command: strings.TrimSpace(firstString(m, "cmd", "command"))}
	if s.Command == "" {
		return Step{}, errEmptyCommand
	}
	args, err := coerceArgs(firstValue(m, "args", "arguments"))
	if err != nil {
		return Step{}, err
	}
	s.Args = args

	ref, err := coerceInt(firstValue(m, "input_from_step", "input_from_task"))
	if err != nil {
		return Step{}, err
	}
	if ref != nil && *ref > 0 {
		s.InputFromStep = ref
	}
	timeout, err := coerceInt(firstValue(m, "timeout_secs", "timeout_seconds"))
	if err != nil {
		return Step{}, err
	}
	s.TimeoutSeconds = timeout
	return s, nil
}

func firstValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	s, _ := firstValue(m, keys...).(string)
	return s
}

func coerceArgs(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return []string{}, nil
	case string:
		return append([]string{}, strings.Fields(t)...), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			switch it := item.(type) {
			case string:
				out = append(out, it)
			case json.Number:
				out = append(out, it.String())
			case bool:
				out = append(out, fmt.Sprintf("%t", it))
			default:
				return nil, errBadArgs
			}
		}
		return out, nil
	default:
		return nil, errBadArgs
	}
}

// coerceInt reads an optional non-negative integer. Integral floats such as
// 30.0 and numeric strings are accepted; negatives, fractions and non-numbers are rejected.
func coerceInt(v any) (*int, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil || i < 0 {
			return nil, errBadInteger
		}
		return &i, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			if i < 0 || i > math.MaxInt32 {
				return nil, errBadInteger
			}
			n := int(i)
			return &n, nil
		}
		f, err := t.Float64()
		if err != nil || f < 0 || f > math.MaxInt32 || f != math.Trunc(f) {
			return nil, errBadInteger
		}
		n := int(f)
		return &n, nil
	default:
		return nil, errBadInteger
	}
}
