package plan

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParse_StrictObject(t *testing.T) {
	// Decodes {"plan": [...]} with cmd/args/input_from_step/timeout_secs
	raw := `{"plan":[{"cmd":"sort","args":["-r"]},{"cmd":"uniq","args":[],"input_from_step":1,"timeout_secs":30}]}`
	p, strategy, err := ParseWithStrategy(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strategy != StrategyStrict {
		t.Errorf("strategy: got %q, want %q", strategy, StrategyStrict)
	}
	want := Plan{Steps: []Step{
		{Command: "sort", Args: []string{"-r"}},
		{Command: "uniq", Args: []string{}, InputFromStep: IntPtr(1), TimeoutSeconds: IntPtr(30)},
	}}
	if !reflect.DeepEqual(p, want) {
		t.Errorf("got %+v, want %+v", p, want)
	}
}

func TestParse_StrictShortCircuitsLaterStrategies(t *testing.T) {
	// Text that decodes strictly is never handed to the fence or embedded strategies
	raw := "{\"plan\":[{\"cmd\":\"grep\",\"args\":[\"```\"]}]}"
	p, strategy, err := ParseWithStrategy(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strategy != StrategyStrict {
		t.Errorf("strategy: got %q, want strict", strategy)
	}
	if p.Steps[0].Args[0] != "```" {
		t.Errorf("args altered: %v", p.Steps[0].Args)
	}
}

func TestParse_AcceptsLooseFieldNames(t *testing.T) {
	// Accepts tasks/command/arguments/timeout_seconds aliases and scalar args
	raw := `{"tasks":[{"command":"cut","arguments":["-f",2,true],"timeout_seconds":"10"}]}`
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := p.Steps[0]
	if s.Command != "cut" {
		t.Errorf("command: got %q", s.Command)
	}
	if !reflect.DeepEqual(s.Args, []string{"-f", "2", "true"}) {
		t.Errorf("args: got %v", s.Args)
	}
	if s.TimeoutSeconds == nil || *s.TimeoutSeconds != 10 {
		t.Errorf("timeout: got %v", s.TimeoutSeconds)
	}
}

func TestParse_StringElementsInsidePlan(t *testing.T) {
	// {"plan": ["sort", "uniq"]} yields command-only steps
	p, err := Parse(`{"plan":["sort","uniq"]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Commands(); !reflect.DeepEqual(got, []string{"sort", "uniq"}) {
		t.Errorf("got %v", got)
	}
}

func TestParse_ZeroReferenceIsAbsent(t *testing.T) {
	// input_from_step 0 or null is treated as absent
	p, err := Parse(`{"plan":[{"cmd":"sort","input_from_step":0},{"cmd":"uniq","input_from_step":null}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, s := range p.Steps {
		if s.InputFromStep != nil {
			t.Errorf("step %d: expected nil reference, got %d", i+1, *s.InputFromStep)
		}
	}
}

func TestParse_RejectsEmptyCommand(t *testing.T) {
	// A step with an empty command fails every strategy
	_, err := Parse(`{"plan":[{"cmd":"  "}]}`)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestParse_RejectsNegativeTimeout(t *testing.T) {
	// Negative timeouts are not recoverable
	if _, err := Parse(`{"plan":[{"cmd":"sort","timeout_secs":-1}]}`); err == nil {
		t.Error("expected error for negative timeout")
	}
}

func TestParse_UnwrapsOneLevel(t *testing.T) {
	// {"response": {"plan": [...]}} is unwrapped once
	p, strategy, err := ParseWithStrategy(`{"response":{"plan":[{"cmd":"grep","args":["x"]}]},"model":"phi3"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strategy != StrategyUnwrap {
		t.Errorf("strategy: got %q, want unwrap", strategy)
	}
	if p.Steps[0].Command != "grep" {
		t.Errorf("got %+v", p)
	}
}

func TestParse_UnwrapRequiresSingleCandidate(t *testing.T) {
	// Two nested plans are ambiguous and are not unwrapped
	raw := `{"a":{"plan":["sort"]},"b":{"plan":["uniq"]}}`
	if _, strategy, err := ParseWithStrategy(raw); err == nil && strategy == StrategyUnwrap {
		t.Errorf("expected unwrap to refuse ambiguous input")
	}
}

func TestParse_BareList(t *testing.T) {
	// ["sort","uniq"] becomes two steps with no arguments via the bare-list strategy
	p, strategy, err := ParseWithStrategy(`["sort","uniq"]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strategy != StrategyBareList {
		t.Errorf("strategy: got %q, want bare_list", strategy)
	}
	want := Plan{Steps: []Step{{Command: "sort", Args: []string{}}, {Command: "uniq", Args: []string{}}}}
	if !reflect.DeepEqual(p, want) {
		t.Errorf("got %+v, want %+v", p, want)
	}
}

func TestParse_QuoteRepair(t *testing.T) {
	// Unescaped quotes inside an args array are escaped and strict decode retried
	raw := `{"plan":[{"cmd":"grep","args":["-e", "say "hi""]}]}`
	p, strategy, err := ParseWithStrategy(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strategy != StrategyRepair {
		t.Errorf("strategy: got %q, want quote_repair", strategy)
	}
	if want := []string{"-e", `say "hi"`}; !reflect.DeepEqual(p.Steps[0].Args, want) {
		t.Errorf("args: got %q, want %q", p.Steps[0].Args, want)
	}
}

func TestParse_FencedBlock(t *testing.T) {
	// A ```json fenced block surrounded by prose is extracted
	raw := "Here is the plan:\n```json\n{\"plan\":[{\"cmd\":\"sort\"}]}\n```\nDone."
	p, strategy, err := ParseWithStrategy(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strategy != StrategyFence {
		t.Errorf("strategy: got %q, want fence", strategy)
	}
	if p.Len() != 1 || p.Steps[0].Command != "sort" {
		t.Errorf("got %+v", p)
	}
}

func TestParse_FencedBareList(t *testing.T) {
	// Strategies 1-4 all run on the fenced body
	p, err := Parse("```\n[\"tr\", \"sort\"]\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Commands(); !reflect.DeepEqual(got, []string{"tr", "sort"}) {
		t.Errorf("got %v", got)
	}
}

func TestParse_EmbeddedObject(t *testing.T) {
	// A JSON object embedded in prose is found when no fence is present
	raw := `Sure! {"plan":[{"cmd":"uniq","args":["-c"]}]} Let me know.`
	p, strategy, err := ParseWithStrategy(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strategy != StrategyEmbedded {
		t.Errorf("strategy: got %q, want embedded", strategy)
	}
	if p.Steps[0].Args[0] != "-c" {
		t.Errorf("got %+v", p)
	}
}

func TestParse_FailureCarriesExcerpt(t *testing.T) {
	// ParseError keeps at most 256 bytes of the original text and its length
	raw := "not json " + strings.Repeat("x", 600)
	_, err := Parse(raw)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if len(pe.Excerpt) != excerptBytes {
		t.Errorf("excerpt length: got %d, want %d", len(pe.Excerpt), excerptBytes)
	}
	if pe.Length != len(raw) {
		t.Errorf("length: got %d, want %d", pe.Length, len(raw))
	}
	if !errors.Is(err, ErrNoPlan) {
		t.Error("expected errors.Is(err, ErrNoPlan)")
	}
}

func TestParse_ExcerptKeepsRuneBoundary(t *testing.T) {
	// The excerpt never ends in the middle of a multi-byte rune
	raw := strings.Repeat("é", 200)
	_, err := Parse(raw)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if !strings.HasPrefix(raw, pe.Excerpt) || len(pe.Excerpt)%2 != 0 {
		t.Errorf("excerpt split a rune: %d bytes", len(pe.Excerpt))
	}
}

func TestParseAndNormalize_InsertsSortBeforeUniq(t *testing.T) {
	// {"plan":[{"cmd":"uniq"}]} becomes [sort, uniq]
	p, err := ParseAndNormalize(`{"plan":[{"cmd":"uniq"}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Commands(); !reflect.DeepEqual(got, []string{"sort", "uniq"}) {
		t.Errorf("got %v, want [sort uniq]", got)
	}
}

func TestPlanJSON_RoundTrip(t *testing.T) {
	// The canonical buffer form decodes back to the same plan
	in := Plan{Steps: []Step{{Command: "sort"}, {Command: "uniq", Args: []string{"-c"}, InputFromStep: IntPtr(1)}}}
	data, err := in.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"args":[]`) {
		t.Errorf("expected empty args list in %s", data)
	}
	var out Plan
	if err := out.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Steps[1].InputFromStep == nil || *out.Steps[1].InputFromStep != 1 {
		t.Errorf("reference lost: %+v", out.Steps[1])
	}
}
