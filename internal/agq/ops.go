package agq

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/haricheung/agx/internal/plan"
)

// Request words understood by AGQ.
const (
	CmdPlanSubmit   = "PLAN.SUBMIT"
	CmdActionSubmit = "ACTION.SUBMIT"
	CmdPlanList     = "PLAN.LIST"
	CmdPlanGet      = "PLAN.GET"
	CmdJobsList     = "JOBS.LIST"
	CmdWorkersList  = "WORKERS.LIST"
	CmdQueueStats   = "QUEUE.STATS"
)

// Client issues typed AGQ operations. It holds no connection; every method
// is one Call.
type Client struct {
	cfg Config
	now func() time.Time
}

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults(), now: time.Now}
}

// Submission is the server's acknowledgement of a submitted envelope.
type Submission struct {
	JobID       string
	SubmittedAt time.Time
}

// SubmitPlan sends the canonical envelope text as the single argument of
// PLAN.SUBMIT. The reply must be a status or bytes value carrying the job id.
func (c *Client) SubmitPlan(ctx context.Context, envelopeText string) (Submission, error) {
	v, err := c.call(ctx, CmdPlanSubmit, envelopeText)
	if err != nil {
		return Submission{}, err
	}
	id, ok := Text(v)
	if !ok || id == "" {
		return Submission{}, malformed(CmdPlanSubmit, fmt.Errorf("%w: %s answered %s", ErrUnexpectedReply, CmdPlanSubmit, Kind(v)))
	}
	return Submission{JobID: id, SubmittedAt: c.now().UTC()}, nil
}

// malformed wraps a wrong-shape reply to a state-changing request. The server
// got the whole request, so whether it acted on it is unknown.
func malformed(op string, err error) *TransportError {
	return &TransportError{Kind: KindProtocol, Op: op, Err: err, Sent: true}
}

// ActionResult is the reply to ACTION.SUBMIT.
type ActionResult struct {
	ActionID        string   `json:"action_id"`
	PlanID          string   `json:"plan_id"`
	PlanDescription *string  `json:"plan_description"`
	JobsCreated     int      `json:"jobs_created"`
	JobIDs          []string `json:"job_ids"`
}

// Validate checks that the reply is internally consistent.
func (a ActionResult) Validate() error {
	if a.JobsCreated != len(a.JobIDs) {
		return fmt.Errorf("%w: jobs_created (%d) != len(job_ids) (%d)", ErrUnexpectedReply, a.JobsCreated, len(a.JobIDs))
	}
	return nil
}

// ActionRequest instantiates a stored plan once per input.
type ActionRequest struct {
	ActionID string            `json:"action_id"`
	PlanID   string            `json:"plan_id"`
	Inputs   []json.RawMessage `json:"inputs"`
}

// SubmitAction sends the JSON encoding of req as ACTION.SUBMIT.
func (c *Client) SubmitAction(ctx context.Context, req ActionRequest) (ActionResult, error) {
	if err := ValidatePlanID(req.PlanID); err != nil {
		return ActionResult{}, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return ActionResult{}, fmt.Errorf("agq: marshal action: %w", err)
	}
	v, err := c.call(ctx, CmdActionSubmit, string(body))
	if err != nil {
		return ActionResult{}, err
	}
	text, ok := Text(v)
	if !ok {
		return ActionResult{}, malformed(CmdActionSubmit, fmt.Errorf("%w: %s answered %s", ErrUnexpectedReply, CmdActionSubmit, Kind(v)))
	}
	var out ActionResult
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return ActionResult{}, malformed(CmdActionSubmit, fmt.Errorf("%w: %s reply is not JSON: %v", ErrUnexpectedReply, CmdActionSubmit, err))
	}
	if err := out.Validate(); err != nil {
		return ActionResult{}, malformed(CmdActionSubmit, err)
	}
	return out, nil
}

// OpsKind names a read-only query.
type OpsKind string

const (
	OpsJobs    OpsKind = "jobs"
	OpsWorkers OpsKind = "workers"
	OpsStats   OpsKind = "queue_stats"
)

// OpsResponse is the flattened reply to a read-only query.
type OpsResponse struct {
	Kind  OpsKind  `json:"kind"`
	Items []string `json:"items"`
}

func (c *Client) ListJobs(ctx context.Context) (OpsResponse, error) {
	return c.query(ctx, CmdJobsList, OpsJobs)
}

func (c *Client) ListWorkers(ctx context.Context) (OpsResponse, error) {
	return c.query(ctx, CmdWorkersList, OpsWorkers)
}

func (c *Client) QueueStats(ctx context.Context) (OpsResponse, error) {
	return c.query(ctx, CmdQueueStats, OpsStats)
}

// query accepts a sequence (status, bytes and number items are kept, others
// skipped), a single status or bytes value, or Nil as an empty list.
func (c *Client) query(ctx context.Context, cmd string, kind OpsKind) (OpsResponse, error) {
	v, err := c.call(ctx, cmd)
	if err != nil {
		return OpsResponse{}, err
	}
	out := OpsResponse{Kind: kind, Items: []string{}}
	switch t := v.(type) {
	case Sequence:
		for _, item := range t {
			switch it := item.(type) {
			case SimpleStatus:
				out.Items = append(out.Items, string(it))
			case Bytes:
				out.Items = append(out.Items, string(it))
			case Number:
				out.Items = append(out.Items, it.String())
			}
		}
	case SimpleStatus:
		out.Items = append(out.Items, string(t))
	case Bytes:
		out.Items = append(out.Items, string(t))
	case Nil:
	default:
		return OpsResponse{}, fmt.Errorf("%w: %s answered %s", ErrUnexpectedReply, cmd, Kind(v))
	}
	return out, nil
}

// PlanSummary describes one stored plan.
type PlanSummary struct {
	PlanID      string  `json:"plan_id"`
	Description *string `json:"description"`
	TaskCount   int     `json:"task_count"`
	CreatedAt   *string `json:"created_at"`
}

// ListPlans returns the plans stored on the server. Each item of the reply
// sequence is a JSON summary.
func (c *Client) ListPlans(ctx context.Context) ([]PlanSummary, error) {
	v, err := c.call(ctx, CmdPlanList)
	if err != nil {
		return nil, err
	}
	if _, ok := v.(Nil); ok {
		return []PlanSummary{}, nil
	}
	seq, ok := v.(Sequence)
	if !ok {
		return nil, fmt.Errorf("%w: %s answered %s", ErrUnexpectedReply, CmdPlanList, Kind(v))
	}
	out := make([]PlanSummary, 0, len(seq))
	for i, item := range seq {
		b, ok := item.(Bytes)
		if !ok {
			return nil, fmt.Errorf("%w: %s item %d is %s", ErrUnexpectedReply, CmdPlanList, i, Kind(item))
		}
		var s PlanSummary
		if err := json.Unmarshal([]byte(b), &s); err != nil {
			return nil, fmt.Errorf("%w: %s item %d: %v", ErrUnexpectedReply, CmdPlanList, i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

var planIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidatePlanID rejects ids that are empty, longer than 128 bytes, or
// contain anything but ASCII letters, digits, '_' and '-'.
func ValidatePlanID(id string) error {
	if !planIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q (want 1-128 of [A-Za-z0-9_-])", ErrInvalidPlanID, id)
	}
	return nil
}

// GetPlan fetches a stored plan. Nil is ErrNotFound.
func (c *Client) GetPlan(ctx context.Context, id string) (plan.Plan, error) {
	if err := ValidatePlanID(id); err != nil {
		return plan.Plan{}, err
	}
	v, err := c.call(ctx, CmdPlanGet, id)
	if err != nil {
		return plan.Plan{}, err
	}
	switch t := v.(type) {
	case Nil:
		return plan.Plan{}, fmt.Errorf("%w: plan %s", ErrNotFound, id)
	case Bytes, SimpleStatus:
		text, _ := Text(t)
		var p plan.Plan
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			return plan.Plan{}, fmt.Errorf("%w: %s reply: %v", ErrUnexpectedReply, CmdPlanGet, err)
		}
		return p, nil
	default:
		return plan.Plan{}, fmt.Errorf("%w: %s answered %s", ErrUnexpectedReply, CmdPlanGet, Kind(v))
	}
}

// call runs one request and turns a Failure reply into *RemoteError.
func (c *Client) call(ctx context.Context, args ...string) (Value, error) {
	v, err := Call(ctx, c.cfg, args)
	if err != nil {
		return nil, err
	}
	if f, ok := v.(Failure); ok {
		return nil, &RemoteError{Op: args[0], Message: string(f)}
	}
	return v, nil
}
