// Package job turns a plan into the numbered envelope that is submitted to AGQ.
package job

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/haricheung/agx/internal/plan"
)

// DefaultMaxSteps is the envelope size limit when none is configured.
const DefaultMaxSteps = 100

// Step is one numbered step of an Envelope.
type Step struct {
	StepNumber     int      `json:"step_number"`
	Command        string   `json:"command"`
	Args           []string `json:"args"`
	InputFromStep  *int     `json:"input_from_step"`
	TimeoutSeconds *int     `json:"timeout_secs"`
}

// Envelope is the submission form of a plan. It is not modified after Build.
type Envelope struct {
	JobID           string  `json:"job_id"`
	PlanID          string  `json:"plan_id"`
	PlanDescription *string `json:"plan_description"`
	Steps           []Step  `json:"steps"`
}

// Build numbers the steps of p 1..N in order and copies their fields. It never
// fails; call Validate before submitting.
func Build(p plan.Plan, jobID, planID string, description *string) Envelope {
	env := Envelope{
		JobID:  jobID,
		PlanID: planID,
		Steps:  make([]Step, len(p.Steps)),
	}
	if description != nil {
		d := *description
		env.PlanDescription = &d
	}
	for i, s := range p.Clone().Steps {
		args := s.Args
		if args == nil {
			args = []string{}
		}
		env.Steps[i] = Step{
			StepNumber:     i + 1,
			Command:        s.Command,
			Args:           args,
			InputFromStep:  s.InputFromStep,
			TimeoutSeconds: s.TimeoutSeconds,
		}
	}
	return env
}

// NewEnvelope builds an envelope with a fresh job id. planID is reused when
// non-empty so resubmissions of the same plan share it.
func NewEnvelope(p plan.Plan, planID string, description *string) Envelope {
	if planID == "" {
		planID = uuid.NewString()
	}
	return Build(p, uuid.NewString(), planID, description)
}

// Text returns the canonical JSON form sent on the wire.
func (e Envelope) Text() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("job: marshal envelope %s: %w", e.JobID, err)
	}
	return string(data), nil
}

// Rule names the envelope invariant that failed.
type Rule string

const (
	RuleEmptySteps        Rule = "EmptySteps"
	RuleTooManySteps      Rule = "TooManySteps"
	RuleFirstStepNotOne   Rule = "FirstStepNotOne"
	RuleNonMonotonicSteps Rule = "NonMonotonicSteps"
	RuleBadInputReference Rule = "BadInputReference"
)

// ValidationError reports the first invariant an envelope violates. Value is
// the step count for TooManySteps, the first step number for FirstStepNotOne
// and the offending step number for BadInputReference.
type ValidationError struct {
	Rule  Rule
	Value int
}

func (e *ValidationError) Error() string {
	switch e.Rule {
	case RuleEmptySteps:
		return "job: plan contains no steps"
	case RuleTooManySteps:
		return fmt.Sprintf("job: plan has too many steps (%d)", e.Value)
	case RuleFirstStepNotOne:
		return fmt.Sprintf("job: first step number must be 1 (found %d)", e.Value)
	case RuleNonMonotonicSteps:
		return "job: step numbers must be contiguous starting at 1"
	case RuleBadInputReference:
		return fmt.Sprintf("job: step %d reads from a step that does not precede it", e.Value)
	default:
		return fmt.Sprintf("job: invalid envelope (%s)", e.Rule)
	}
}

// Validate checks the envelope invariants and returns the first violation.
// A non-positive maxSteps selects DefaultMaxSteps.
//
// Expectations:
//   - Checks run in order: empty, too many, first not one, non-monotonic, bad reference
//   - A reference must name an earlier step (1 <= ref < step_number)
//   - Has no side effects; repeated calls return the same result
func (e Envelope) Validate(maxSteps int) error {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if len(e.Steps) == 0 {
		return &ValidationError{Rule: RuleEmptySteps}
	}
	if len(e.Steps) > maxSteps {
		return &ValidationError{Rule: RuleTooManySteps, Value: len(e.Steps)}
	}
	if first := e.Steps[0].StepNumber; first != 1 {
		return &ValidationError{Rule: RuleFirstStepNotOne, Value: first}
	}
	for i, s := range e.Steps {
		if s.StepNumber != i+1 {
			return &ValidationError{Rule: RuleNonMonotonicSteps}
		}
	}
	for _, s := range e.Steps {
		if ref := s.InputFromStep; ref != nil && (*ref < 1 || *ref >= s.StepNumber) {
			return &ValidationError{Rule: RuleBadInputReference, Value: s.StepNumber}
		}
	}
	return nil
}
