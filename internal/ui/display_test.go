package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haricheung/agx/internal/agq"
	"github.com/haricheung/agx/internal/ledger"
	"github.com/haricheung/agx/internal/plan"
)

func TestPlan_EmptyPlan(t *testing.T) {
	// An empty plan prints a placeholder instead of a header
	var buf bytes.Buffer
	New(&buf, false).Plan(plan.Plan{})
	if strings.TrimSpace(buf.String()) != "(plan is empty)" {
		t.Errorf("got %q", buf.String())
	}
}

func TestPlan_RendersRows(t *testing.T) {
	// Each step is a numbered row; absent optionals render as "-"
	var buf bytes.Buffer
	pl := plan.Plan{Steps: []plan.Step{
		{Command: "grep", Args: []string{"-i", "error log"}},
		{Command: "sort", InputFromStep: plan.IntPtr(1), TimeoutSeconds: plan.IntPtr(30)},
	}}
	New(&buf, false).Plan(pl)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "#") || !strings.Contains(lines[0], "TIMEOUT") {
		t.Errorf("header: %q", lines[0])
	}
	if !strings.Contains(lines[1], `-i "error log"`) {
		t.Errorf("row 1 args not quoted: %q", lines[1])
	}
	if !strings.Contains(lines[2], "30s") || !strings.Contains(lines[2], " 1 ") {
		t.Errorf("row 2: %q", lines[2])
	}
}

func TestPlan_AlignsWideRunes(t *testing.T) {
	// Wide characters count as two columns so later columns line up
	var buf bytes.Buffer
	pl := plan.Plan{Steps: []plan.Step{
		{Command: "grep", Args: []string{"日本"}},
		{Command: "grep", Args: []string{"ab"}},
	}}
	New(&buf, false).Plan(pl)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	c1 := visibleWidth(lines[1][:strings.Index(lines[1], "-")])
	c2 := visibleWidth(lines[2][:strings.Index(lines[2], "-")])
	if c1 != c2 {
		t.Errorf("INPUT column misaligned: %d vs %d\n%s", c1, c2, buf.String())
	}
}

func TestOps_EmptyAndItems(t *testing.T) {
	// Items are listed one per line; an empty reply says (none)
	var buf bytes.Buffer
	p := New(&buf, false)
	p.Ops(agq.OpsResponse{Kind: agq.OpsJobs})
	p.Ops(agq.OpsResponse{Kind: agq.OpsWorkers, Items: []string{"w1", "w2"}})
	out := buf.String()
	if !strings.Contains(out, "jobs (0)") || !strings.Contains(out, "(none)") {
		t.Errorf("empty ops: %q", out)
	}
	if !strings.Contains(out, "workers (2)") || !strings.Contains(out, "  w2\n") {
		t.Errorf("items: %q", out)
	}
}

func TestHistory_ShowsPipeline(t *testing.T) {
	// Each submission shows its job id, outcome and joined commands
	var buf bytes.Buffer
	New(&buf, false).History([]ledger.Submission{{
		JobID: "job-1", Outcome: ledger.OutcomeUnknown, Commands: []string{"sort", "uniq"},
		SubmittedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}})
	out := buf.String()
	for _, want := range []string{"job-1", "unknown", "sort | uniq"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestSubmitted_UnknownOutcomeWarns(t *testing.T) {
	// Unknown outcome points the operator at jobs list
	var buf bytes.Buffer
	New(&buf, false).Submitted("j", "p", ledger.OutcomeUnknown)
	if !strings.Contains(buf.String(), "agx jobs list") {
		t.Errorf("got %q", buf.String())
	}
}

func TestPrinter_ColorOff(t *testing.T) {
	// No escape codes are written when color is off
	var buf bytes.Buffer
	New(&buf, false).Error(errors.New("boom"))
	if strings.Contains(buf.String(), "\033[") {
		t.Errorf("unexpected ANSI in %q", buf.String())
	}
}

func TestClip_TruncatesByWidth(t *testing.T) {
	// clip trims to n display columns and appends "…"
	got := clip("abcdefgh", 5)
	if visibleWidth(got) > 5 || !strings.HasSuffix(got, "…") {
		t.Errorf("got %q", got)
	}
	if clip("abc", 5) != "abc" {
		t.Error("short strings must be unchanged")
	}
}

func TestStripANSI(t *testing.T) {
	// Escape sequences are removed before measuring
	if got := stripANSI("\033[33munknown\033[0m"); got != "unknown" {
		t.Errorf("got %q", got)
	}
}

func TestSpinner_StopClearsLine(t *testing.T) {
	// Stop ends the animation and leaves the line cleared
	var buf syncBuffer
	s := StartSpinner(&buf, "planning...")
	time.Sleep(100 * time.Millisecond)
	s.Stop()
	s.Stop()
	if !strings.HasSuffix(buf.String(), "\r\033[K") {
		t.Errorf("line not cleared: %q", buf.String())
	}
}
