// Package ui renders agx output for humans: plan tables, ops listings,
// submission history and a spinner for slow planner calls. Column layout
// uses display width, so CJK and emoji arguments line up.
package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/haricheung/agx/internal/agq"
	"github.com/haricheung/agx/internal/ledger"
	"github.com/haricheung/agx/internal/plan"
)

// ANSI codes
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
)

// maxCell caps a single table cell; longer text is clipped with "…".
const maxCell = 48

// Printer writes human output to w. Color is off for pipes and files.
type Printer struct {
	w     io.Writer
	color bool
}

func New(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color}
}

func (p *Printer) paint(code, s string) string {
	if !p.color || s == "" {
		return s
	}
	return code + s + ansiReset
}

// Plan renders the buffer as a numbered table.
//
// Expectations:
//   - An empty plan prints "(plan is empty)"
//   - Absent input_from_step and timeout render as "-"
//   - Arguments are shell-quoted when they contain spaces or quotes
func (p *Printer) Plan(pl plan.Plan) {
	if pl.Len() == 0 {
		fmt.Fprintln(p.w, p.paint(ansiDim, "(plan is empty)"))
		return
	}
	rows := make([][]string, 0, pl.Len())
	for i, s := range pl.Steps {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			s.Command,
			quoteArgs(s.Args),
			optInt(s.InputFromStep),
			optSecs(s.TimeoutSeconds),
		})
	}
	p.table([]string{"#", "CMD", "ARGS", "INPUT", "TIMEOUT"}, rows)
}

// Appended reports the result of a plan add.
func (p *Printer) Appended(added, total int, strategy plan.Strategy, unknown []string) {
	fmt.Fprintf(p.w, "%s %d step(s), plan now has %d %s\n",
		p.paint(ansiGreen, "added"), added, total, p.paint(ansiDim, "("+string(strategy)+")"))
	if len(unknown) > 0 {
		fmt.Fprintf(p.w, "%s not in the tool registry: %s\n", p.paint(ansiYellow, "warning:"), strings.Join(unknown, ", "))
	}
}

// Submitted reports an accepted or unknown-outcome submission.
func (p *Printer) Submitted(jobID, planID, outcome string) {
	switch outcome {
	case ledger.OutcomeUnknown:
		fmt.Fprintf(p.w, "%s job %s (plan %s) may or may not have been queued; check `agx jobs list`\n",
			p.paint(ansiYellow, "unknown outcome:"), jobID, planID)
	default:
		fmt.Fprintf(p.w, "%s job %s (plan %s)\n", p.paint(ansiGreen, "submitted"), jobID, planID)
	}
}

// Action reports an ACTION.SUBMIT result.
func (p *Printer) Action(r agq.ActionResult) {
	fmt.Fprintf(p.w, "%s action %s on plan %s: %d job(s)\n", p.paint(ansiGreen, "submitted"), r.ActionID, r.PlanID, r.JobsCreated)
	for _, id := range r.JobIDs {
		fmt.Fprintf(p.w, "  %s\n", id)
	}
}

// Ops renders a JOBS.LIST / WORKERS.LIST / QUEUE.STATS reply.
func (p *Printer) Ops(r agq.OpsResponse) {
	fmt.Fprintf(p.w, "%s (%d)\n", p.paint(ansiBold, string(r.Kind)), len(r.Items))
	if len(r.Items) == 0 {
		fmt.Fprintln(p.w, p.paint(ansiDim, "  (none)"))
		return
	}
	for _, item := range r.Items {
		fmt.Fprintf(p.w, "  %s\n", item)
	}
}

// Plans renders PLAN.LIST summaries.
func (p *Printer) Plans(list []agq.PlanSummary) {
	if len(list) == 0 {
		fmt.Fprintln(p.w, p.paint(ansiDim, "(no plans)"))
		return
	}
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{s.PlanID, strconv.Itoa(s.TaskCount), optStr(s.CreatedAt), optStr(s.Description)})
	}
	p.table([]string{"PLAN ID", "TASKS", "CREATED", "DESCRIPTION"}, rows)
}

// History renders local submission records, newest first.
func (p *Printer) History(subs []ledger.Submission) {
	if len(subs) == 0 {
		fmt.Fprintln(p.w, p.paint(ansiDim, "(no submissions)"))
		return
	}
	rows := make([][]string, 0, len(subs))
	for _, s := range subs {
		outcome := s.Outcome
		if outcome == ledger.OutcomeUnknown {
			outcome = p.paint(ansiYellow, outcome)
		}
		rows = append(rows, []string{
			s.SubmittedAt.Local().Format(time.DateTime),
			s.JobID,
			outcome,
			strings.Join(s.Commands, " | "),
		})
	}
	p.table([]string{"WHEN", "JOB ID", "OUTCOME", "PIPELINE"}, rows)
}

// Error prints a one-line error in red.
func (p *Printer) Error(err error) {
	fmt.Fprintf(p.w, "%s %v\n", p.paint(ansiRed, "error:"), err)
}

// table writes headers and rows with columns padded to display width.
// Cells may carry ANSI codes; those do not count toward width.
func (p *Printer) table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			row[i] = clip(cell, maxCell)
			if w := visibleWidth(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}
	hdr := make([]string, len(headers))
	for i, h := range headers {
		hdr[i] = pad(h, widths[i])
	}
	fmt.Fprintln(p.w, p.paint(ansiCyan, strings.TrimRight(strings.Join(hdr, "  "), " ")))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = pad(cell, widths[i])
		}
		fmt.Fprintln(p.w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

func pad(s string, width int) string {
	if gap := width - visibleWidth(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}

// visibleWidth is the display width of s ignoring ANSI escape sequences.
func visibleWidth(s string) int {
	return runewidth.StringWidth(stripANSI(s))
}

func stripANSI(s string) string {
	if !strings.Contains(s, "\033[") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\033' && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] != 'm' {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// clip truncates s to n display columns, appending "…" if trimmed.
// Strings carrying ANSI codes are left alone.
func clip(s string, n int) string {
	if strings.Contains(s, "\033[") {
		return s
	}
	return runewidth.Truncate(s, n, "…")
}

func quoteArgs(args []string) string {
	if len(args) == 0 {
		return "-"
	}
	out := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t'\"") {
			out[i] = strconv.Quote(a)
		} else {
			out[i] = a
		}
	}
	return strings.Join(out, " ")
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func optSecs(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v) + "s"
}

func optStr(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}
