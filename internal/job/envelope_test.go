package job

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/haricheung/agx/internal/plan"
)

func planOf(cmds ...string) plan.Plan {
	p := plan.Plan{Steps: make([]plan.Step, len(cmds))}
	for i, c := range cmds {
		p.Steps[i] = plan.Step{Command: c}
	}
	return p
}

func ruleOf(t *testing.T, err error) Rule {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	return ve.Rule
}

func TestBuild_NumbersStepsInOrder(t *testing.T) {
	// Step numbers are exactly 1..N and fields are copied
	p := planOf("sort", "uniq", "cut")
	p.Steps[1].InputFromStep = plan.IntPtr(1)
	p.Steps[1].TimeoutSeconds = plan.IntPtr(30)
	p.Steps[2].Args = []string{"-f", "2"}

	env := Build(p, "job-1", "plan-1", nil)
	for i, s := range env.Steps {
		if s.StepNumber != i+1 {
			t.Errorf("step %d: got number %d", i, s.StepNumber)
		}
		if s.Command != p.Steps[i].Command {
			t.Errorf("step %d: got command %q", i, s.Command)
		}
	}
	if *env.Steps[1].InputFromStep != 1 || *env.Steps[1].TimeoutSeconds != 30 {
		t.Errorf("optional fields not copied: %+v", env.Steps[1])
	}
	if env.Steps[0].Args == nil {
		t.Error("expected empty args, got nil")
	}
	if err := env.Validate(DefaultMaxSteps); err != nil {
		t.Errorf("built envelope should validate: %v", err)
	}
}

func TestBuild_DoesNotAliasPlan(t *testing.T) {
	// Mutating the plan after Build leaves the envelope unchanged
	p := planOf("sort", "uniq")
	p.Steps[1].InputFromStep = plan.IntPtr(1)
	env := Build(p, "j", "p", nil)
	*p.Steps[1].InputFromStep = 7
	if *env.Steps[1].InputFromStep != 1 {
		t.Error("envelope shares memory with the plan")
	}
}

func TestValidate_EmptySteps(t *testing.T) {
	// Zero steps is EmptySteps
	env := Build(plan.Plan{}, "j", "p", nil)
	if got := ruleOf(t, env.Validate(10)); got != RuleEmptySteps {
		t.Errorf("got %s", got)
	}
}

func TestValidate_TooManySteps(t *testing.T) {
	// max_steps+1 steps is TooManySteps carrying the actual count
	env := Build(planOf("a", "b", "c", "d"), "j", "p", nil)
	err := env.Validate(3)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Rule != RuleTooManySteps || ve.Value != 4 {
		t.Errorf("got %v", err)
	}
	if err := env.Validate(4); err != nil {
		t.Errorf("exactly max steps should pass: %v", err)
	}
}

func TestValidate_FirstStepNotOne(t *testing.T) {
	// A first step numbered 2 is FirstStepNotOne(2)
	env := Build(planOf("a", "b"), "j", "p", nil)
	env.Steps[0].StepNumber = 2
	err := env.Validate(10)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Rule != RuleFirstStepNotOne || ve.Value != 2 {
		t.Errorf("got %v", err)
	}
}

func TestValidate_NonMonotonicSteps(t *testing.T) {
	// Steps [1, 2, 4] have a gap
	env := Build(planOf("a", "b", "c"), "j", "p", nil)
	env.Steps[2].StepNumber = 4
	if got := ruleOf(t, env.Validate(10)); got != RuleNonMonotonicSteps {
		t.Errorf("got %s", got)
	}
}

func TestValidate_SelfReference(t *testing.T) {
	// A step reading from itself is BadInputReference with its own number
	p := planOf("a", "b")
	p.Steps[1].InputFromStep = plan.IntPtr(2)
	err := Build(p, "j", "p", nil).Validate(10)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Rule != RuleBadInputReference || ve.Value != 2 {
		t.Errorf("got %v", err)
	}
}

func TestValidate_ForwardReference(t *testing.T) {
	// A step reading from a later step is BadInputReference
	p := planOf("a", "b", "c")
	p.Steps[0].InputFromStep = plan.IntPtr(3)
	if got := ruleOf(t, Build(p, "j", "p", nil).Validate(10)); got != RuleBadInputReference {
		t.Errorf("got %s", got)
	}
}

func TestValidate_RuleOrder(t *testing.T) {
	// Too many steps is reported before a bad reference
	p := planOf("a", "b", "c")
	p.Steps[0].InputFromStep = plan.IntPtr(1)
	if got := ruleOf(t, Build(p, "j", "p", nil).Validate(2)); got != RuleTooManySteps {
		t.Errorf("got %s", got)
	}
}

func TestValidate_Repeatable(t *testing.T) {
	// Validate has no side effects
	env := Build(planOf("a"), "j", "p", nil)
	env.Steps[0].StepNumber = 3
	first := env.Validate(10).Error()
	second := env.Validate(10).Error()
	if first != second || env.Steps[0].StepNumber != 3 {
		t.Errorf("validate changed state: %q vs %q", first, second)
	}
}

func TestText_NullOptionalFields(t *testing.T) {
	// Absent description and references serialize as null
	text, err := Build(planOf("sort"), "job-1", "plan-1", nil).Text()
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if v, ok := doc["plan_description"]; !ok || v != nil {
		t.Errorf("plan_description: got %v (present=%v)", v, ok)
	}
	step := doc["steps"].([]any)[0].(map[string]any)
	for _, k := range []string{"input_from_step", "timeout_secs"} {
		if v, ok := step[k]; !ok || v != nil {
			t.Errorf("%s: got %v (present=%v)", k, v, ok)
		}
	}
	if step["step_number"].(float64) != 1 {
		t.Errorf("step_number: got %v", step["step_number"])
	}
}

func TestNewEnvelope_AssignsIDs(t *testing.T) {
	// A fresh job id every call, plan id kept when supplied
	desc := "dedupe words"
	a := NewEnvelope(planOf("sort"), "", &desc)
	b := NewEnvelope(planOf("sort"), a.PlanID, nil)
	if _, err := uuid.Parse(a.JobID); err != nil {
		t.Errorf("job id is not a uuid: %q", a.JobID)
	}
	if a.JobID == b.JobID {
		t.Error("expected distinct job ids")
	}
	if b.PlanID != a.PlanID {
		t.Errorf("plan id not reused: %q vs %q", b.PlanID, a.PlanID)
	}
	if a.PlanDescription == nil || *a.PlanDescription != desc {
		t.Errorf("description lost: %v", a.PlanDescription)
	}
}
