// Package app holds the agx operations shared by the one-shot CLI and the
// REPL. It wires the plan buffer, planner, AGQ client, ledger and event log
// together; it never prints and never picks exit codes.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/haricheung/agx/internal/agq"
	"github.com/haricheung/agx/internal/config"
	"github.com/haricheung/agx/internal/input"
	"github.com/haricheung/agx/internal/job"
	"github.com/haricheung/agx/internal/ledger"
	"github.com/haricheung/agx/internal/llm"
	"github.com/haricheung/agx/internal/plan"
	"github.com/haricheung/agx/internal/planner"
	"github.com/haricheung/agx/internal/registry"
	"github.com/haricheung/agx/internal/tasklog"
)

// historyForPlanner is how many planning cycles feed prompt calibration.
const historyForPlanner = 50

var (
	ErrEmptyPlan      = errors.New("plan is empty; use `agx plan add` to generate steps first")
	ErrStepOutOfRange = errors.New("no such step")
	ErrNoLedger       = errors.New("submission history is unavailable (ledger could not be opened)")
	ErrNoPlanner      = errors.New("no planner configured")
)

// Queue is the AGQ surface agx uses. *agq.Client satisfies it.
type Queue interface {
	SubmitPlan(ctx context.Context, envelopeText string) (agq.Submission, error)
	SubmitAction(ctx context.Context, req agq.ActionRequest) (agq.ActionResult, error)
	ListJobs(ctx context.Context) (agq.OpsResponse, error)
	ListWorkers(ctx context.Context) (agq.OpsResponse, error)
	QueueStats(ctx context.Context) (agq.OpsResponse, error)
	ListPlans(ctx context.Context) ([]agq.PlanSummary, error)
	GetPlan(ctx context.Context, id string) (plan.Plan, error)
}

// Deps are the collaborators of an App. Ledger and Events may be nil.
type Deps struct {
	Buffer          *plan.Storage
	Planner         *planner.Planner
	Queue           Queue
	Ledger          *ledger.Store
	Events          *tasklog.Session
	MaxSteps        int
	PlanDescription string
	Addr            string
	Model           string // planner model, for display
}

type App struct {
	d   Deps
	now func() time.Time
}

func New(d Deps) *App {
	if d.MaxSteps <= 0 {
		d.MaxSteps = job.DefaultMaxSteps
	}
	return &App{d: d, now: time.Now}
}

// Open builds an App from configuration. A busy or broken ledger and an
// unwritable event log degrade to warnings; the core operations still work.
func Open(cfg config.Config, command string) (*App, error) {
	client := llm.New(cfg.LLM)

	d := Deps{
		Buffer:          plan.NewStorage(cfg.PlanPath),
		Planner:         planner.New(client, registry.Default()),
		Queue:           agq.NewClient(cfg.AGQ),
		MaxSteps:        cfg.MaxSteps,
		PlanDescription: cfg.PlanDescription,
		Addr:            cfg.AGQ.Addr,
		Model:           client.Model(),
	}
	if err := client.Validate(); err != nil {
		log.Debug().Err(err).Msg("[app] planner disabled")
		d.Planner = nil
	}

	if store, err := ledger.Open(cfg.LedgerPath()); err != nil {
		log.Warn().Err(err).Msg("[app] continuing without submission history")
	} else {
		d.Ledger = store
	}
	if events, err := tasklog.Open(cfg.EventLogPath(), command); err != nil {
		log.Warn().Err(err).Msg("[app] continuing without event log")
	} else {
		d.Events = events
	}
	return New(d), nil
}

// Close flushes the event log and releases the ledger.
func (a *App) Close(status string) {
	if id := a.d.Events.ID(); id != "" {
		log.Debug().Str("session", id).Int("tokens", a.d.Events.TotalTokens()).Str("status", status).Msg("[app] session closed")
	}
	a.d.Events.Close(status)
	if a.d.Ledger != nil {
		if err := a.d.Ledger.Close(); err != nil {
			log.Warn().Err(err).Msg("[app] ledger close")
		}
	}
}

// Model names the planner model, or "" when none is configured.
func (a *App) Model() string {
	if a.d.Planner == nil {
		return ""
	}
	return a.d.Model
}

// BufferPath returns the plan buffer file path.
func (a *App) BufferPath() string { return a.d.Buffer.Path() }

// NewPlan empties the buffer.
func (a *App) NewPlan() error {
	if err := a.d.Buffer.Reset(); err != nil {
		return err
	}
	if a.d.Ledger != nil {
		if _, err := a.d.Ledger.DiscardPending(); err != nil {
			log.Warn().Err(err).Msg("[app] discard pending planning cycles")
		}
	}
	a.d.Events.PlanChange("clear", 0, 0)
	return nil
}

// AddResult describes one plan add.
type AddResult struct {
	Added    int
	Total    int
	Strategy plan.Strategy
	Unknown  []string
	Raw      string
}

// Add asks the planner for steps implementing instruction and appends them
// to the buffer.
//
// Expectations:
//   - Oversized or blank instructions fail before the planner is called
//   - A reply that does not parse leaves the buffer untouched and returns *plan.ParseError
//   - Appended input_from_step references are shifted past the existing steps
//   - The planning cycle is recorded in the ledger as pending
func (a *App) Add(ctx context.Context, instruction string, in input.Summary) (AddResult, error) {
	if err := planner.CheckInstruction(instruction); err != nil {
		return AddResult{}, err
	}
	if a.d.Planner == nil {
		return AddResult{}, ErrNoPlanner
	}
	existing, err := a.d.Buffer.Load()
	if err != nil {
		return AddResult{}, err
	}

	out, err := a.d.Planner.Plan(ctx, planner.Request{
		Instruction: instruction,
		Input:       in,
		Existing:    existing,
		History:     a.examples(),
	})
	if out.User != "" {
		a.d.Events.LLMCall(out.System, out.User, out.Raw, out.Usage.PromptTokens, out.Usage.CompletionTokens, out.Elapsed.Milliseconds())
	}
	if err != nil {
		var pe *plan.ParseError
		if errors.As(err, &pe) {
			a.d.Events.Parse("", 0, pe.Excerpt, err.Error())
		}
		return AddResult{Raw: out.Raw}, err
	}
	a.d.Events.Parse(string(out.Strategy), out.Plan.Len(), "", "")

	added, total, err := a.d.Buffer.Append(out.Plan)
	if err != nil {
		return AddResult{}, err
	}
	a.d.Events.PlanChange("append", added, total)

	if a.d.Ledger != nil && added > 0 {
		err := a.d.Ledger.RecordPlanning(ledger.Planning{
			Instruction: strings.TrimSpace(instruction),
			Commands:    out.Plan.Commands(),
			Strategy:    string(out.Strategy),
		})
		if err != nil {
			log.Warn().Err(err).Msg("[app] record planning cycle")
		}
	}
	return AddResult{Added: added, Total: total, Strategy: out.Strategy, Unknown: out.Unknown, Raw: out.Raw}, nil
}

func (a *App) examples() []planner.Example {
	if a.d.Ledger == nil {
		return nil
	}
	cycles, err := a.d.Ledger.Plannings(historyForPlanner)
	if err != nil {
		log.Warn().Err(err).Msg("[app] read planning history")
		return nil
	}
	out := make([]planner.Example, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, planner.Example{Instruction: c.Instruction, Commands: c.Commands, Accepted: c.Submitted, At: c.At})
	}
	return out
}

// Preview returns the current buffer.
func (a *App) Preview() (plan.Plan, error) {
	return a.d.Buffer.Load()
}

// Remove deletes the 1-based step n and renumbers later references.
func (a *App) Remove(n int) (plan.Plan, error) {
	next, err := a.d.Buffer.Update(func(cur plan.Plan) (plan.Plan, error) {
		out, ok := cur.Remove(n)
		if !ok {
			return plan.Plan{}, fmt.Errorf("%w: %d (plan has %d)", ErrStepOutOfRange, n, cur.Len())
		}
		return out, nil
	})
	if err != nil {
		return plan.Plan{}, err
	}
	a.d.Events.PlanChange("remove", 0, next.Len())
	return next, nil
}

// Validate builds the envelope the buffer would submit and checks it.
func (a *App) Validate() (job.Envelope, error) {
	p, err := a.d.Buffer.Load()
	if err != nil {
		return job.Envelope{}, err
	}
	if p.Len() == 0 {
		return job.Envelope{}, ErrEmptyPlan
	}
	env := job.NewEnvelope(p, "", a.description())
	err = env.Validate(a.d.MaxSteps)
	a.recordValidation(err)
	return env, err
}

func (a *App) recordValidation(err error) {
	var ve *job.ValidationError
	switch {
	case err == nil:
		a.d.Events.Validation(true, "")
	case errors.As(err, &ve):
		a.d.Events.Validation(false, string(ve.Rule))
	}
}

func (a *App) description() *string {
	if d := strings.TrimSpace(a.d.PlanDescription); d != "" {
		return &d
	}
	return nil
}

// SubmitResult describes one PLAN.SUBMIT.
type SubmitResult struct {
	JobID       string
	PlanID      string
	Steps       int
	Outcome     string
	SubmittedAt time.Time
}

// Submit validates the buffer, sends it to AGQ and records the outcome.
//
// Expectations:
//   - Nothing is sent when validation fails
//   - An accepted submission writes the sidecar, the ledger and marks pending cycles submitted
//   - A transport error with unknown outcome is recorded as "unknown" and still returned
//   - Rejections and unreachable servers are not recorded in the ledger
func (a *App) Submit(ctx context.Context) (SubmitResult, error) {
	env, err := a.Validate()
	if err != nil {
		return SubmitResult{}, err
	}
	text, err := env.Text()
	if err != nil {
		return SubmitResult{}, err
	}
	res := SubmitResult{JobID: env.JobID, PlanID: env.PlanID, Steps: len(env.Steps)}

	sub, err := a.d.Queue.SubmitPlan(ctx, text)
	if err != nil {
		var te *agq.TransportError
		if errors.As(err, &te) && te.OutcomeUnknown() {
			res.Outcome = ledger.OutcomeUnknown
			res.SubmittedAt = a.now().UTC()
			a.record(env, res, err)
			return res, err
		}
		a.d.Events.Submit(agq.CmdPlanSubmit, env.JobID, env.PlanID, "", err.Error())
		return SubmitResult{}, err
	}
	if sub.JobID != "" {
		res.JobID = sub.JobID
	}
	res.Outcome = ledger.OutcomeAccepted
	res.SubmittedAt = sub.SubmittedAt
	a.record(env, res, nil)
	return res, nil
}

func (a *App) record(env job.Envelope, res SubmitResult, cause error) {
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	a.d.Events.Submit(agq.CmdPlanSubmit, res.JobID, res.PlanID, res.Outcome, errText)

	meta := plan.Metadata{
		JobID:       res.JobID,
		PlanID:      res.PlanID,
		SubmittedAt: res.SubmittedAt.Format(time.RFC3339),
		Outcome:     res.Outcome,
	}
	if err := a.d.Buffer.SaveSubmission(meta); err != nil {
		log.Warn().Err(err).Msg("[app] write submission sidecar")
	}
	if a.d.Ledger == nil {
		return
	}
	commands := make([]string, len(env.Steps))
	for i, s := range env.Steps {
		commands[i] = s.Command
	}
	desc := ""
	if env.PlanDescription != nil {
		desc = *env.PlanDescription
	}
	err := a.d.Ledger.RecordSubmission(ledger.Submission{
		JobID:       res.JobID,
		PlanID:      res.PlanID,
		Description: desc,
		Commands:    commands,
		Outcome:     res.Outcome,
		Addr:        a.d.Addr,
		Error:       errText,
		SubmittedAt: res.SubmittedAt,
	})
	if err != nil {
		log.Warn().Err(err).Msg("[app] record submission")
	}
	if res.Outcome == ledger.OutcomeAccepted {
		if _, err := a.d.Ledger.MarkSubmitted(); err != nil {
			log.Warn().Err(err).Msg("[app] mark planning cycles submitted")
		}
	}
}

// LastSubmission reads the buffer's submission sidecar.
func (a *App) LastSubmission() (plan.Metadata, error) {
	return a.d.Buffer.LoadSubmission()
}

// History returns up to limit local submissions, newest first.
func (a *App) History(limit int) ([]ledger.Submission, error) {
	if a.d.Ledger == nil {
		return nil, ErrNoLedger
	}
	return a.d.Ledger.Submissions(limit)
}

// Submission looks up one local submission by job id.
func (a *App) Submission(jobID string) (ledger.Submission, error) {
	if a.d.Ledger == nil {
		return ledger.Submission{}, ErrNoLedger
	}
	sub, err := a.d.Ledger.Submission(strings.TrimSpace(jobID))
	if err != nil {
		return ledger.Submission{}, fmt.Errorf("job %s: %w", jobID, err)
	}
	return sub, nil
}

// ActionInputs builds the inputs array for ACTION.SUBMIT. inline is one JSON
// value; file holds a JSON array. At most one may be set; neither gives [].
func ActionInputs(inline, file string) ([]json.RawMessage, error) {
	switch {
	case inline != "" && file != "":
		return nil, errors.New("--input and --inputs-file are mutually exclusive")
	case inline != "":
		if !json.Valid([]byte(inline)) {
			return nil, fmt.Errorf("invalid JSON in --input: %q", clip(inline, 80))
		}
		return []json.RawMessage{json.RawMessage(inline)}, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read inputs file: %w", err)
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, fmt.Errorf("--inputs-file must contain a JSON array of inputs: %w", err)
		}
		if arr == nil {
			arr = []json.RawMessage{}
		}
		return arr, nil
	default:
		return []json.RawMessage{}, nil
	}
}

// SubmitAction instantiates a stored plan once per input.
func (a *App) SubmitAction(ctx context.Context, planID string, inputs []json.RawMessage) (agq.ActionResult, error) {
	req := agq.ActionRequest{
		ActionID: "action_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		PlanID:   planID,
		Inputs:   inputs,
	}
	res, err := a.d.Queue.SubmitAction(ctx, req)
	outcome, errText := ledger.OutcomeAccepted, ""
	if err != nil {
		outcome, errText = "", err.Error()
		var te *agq.TransportError
		if errors.As(err, &te) && te.OutcomeUnknown() {
			outcome = ledger.OutcomeUnknown
		}
	}
	a.d.Events.Submit(agq.CmdActionSubmit, strings.Join(res.JobIDs, ","), planID, outcome, errText)
	return res, err
}

// Ops runs one read-only query by kind.
func (a *App) Ops(ctx context.Context, kind agq.OpsKind) (agq.OpsResponse, error) {
	var (
		resp agq.OpsResponse
		err  error
		op   string
	)
	switch kind {
	case agq.OpsJobs:
		op = agq.CmdJobsList
		resp, err = a.d.Queue.ListJobs(ctx)
	case agq.OpsWorkers:
		op = agq.CmdWorkersList
		resp, err = a.d.Queue.ListWorkers(ctx)
	case agq.OpsStats:
		op = agq.CmdQueueStats
		resp, err = a.d.Queue.QueueStats(ctx)
	default:
		return agq.OpsResponse{}, fmt.Errorf("app: unknown ops kind %q", kind)
	}
	a.d.Events.Query(op, len(resp.Items), errString(err))
	return resp, err
}

// Plans lists plans stored on the server.
func (a *App) Plans(ctx context.Context) ([]agq.PlanSummary, error) {
	list, err := a.d.Queue.ListPlans(ctx)
	a.d.Events.Query(agq.CmdPlanList, len(list), errString(err))
	return list, err
}

// RemotePlan fetches one stored plan.
func (a *App) RemotePlan(ctx context.Context, id string) (plan.Plan, error) {
	p, err := a.d.Queue.GetPlan(ctx, id)
	a.d.Events.Query(agq.CmdPlanGet, p.Len(), errString(err))
	return p, err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
