package main

import (
	"testing"
)

func TestParseREPL_Aliases(t *testing.T) {
	// Every alias resolves to its command, case-insensitively
	cases := map[string]replOp{
		"p": replPreview, "SHOW": replPreview, "list": replPreview,
		"c": replClear, "reset": replClear, "new": replClear,
		"v": replValidate, "s": replSubmit,
		"j": replJobs, "w": replWorkers, "queue": replStats, "stats": replStats,
		"history": replHistory, "?": replHelp, "h": replHelp,
		"q": replQuit, "exit": replQuit,
	}
	for line, want := range cases {
		got, err := parseREPL(line)
		if err != nil || got.op != want {
			t.Errorf("%q: got %+v, %v; want op %d", line, got, err, want)
		}
	}
}

func TestParseREPL_Add(t *testing.T) {
	// add keeps the whole instruction and rejects an empty one
	got, err := parseREPL("a   count unique words ")
	if err != nil || got.op != replAdd || got.text != "count unique words" {
		t.Errorf("got %+v, %v", got, err)
	}
	if _, err := parseREPL("add"); err == nil {
		t.Error("expected error for empty instruction")
	}
}

func TestParseREPL_Remove(t *testing.T) {
	// remove needs a step number >= 1
	got, err := parseREPL("rm 2")
	if err != nil || got.op != replRemove || got.n != 2 {
		t.Errorf("got %+v, %v", got, err)
	}
	for _, line := range []string{"remove", "remove 0", "delete two"} {
		if _, err := parseREPL(line); err == nil {
			t.Errorf("%q: expected error", line)
		}
	}
}

func TestParseREPL_PlanAndAction(t *testing.T) {
	// plan list/get and action carry their arguments
	if got, err := parseREPL("plan list"); err != nil || got.op != replPlanList {
		t.Errorf("plan list: got %+v, %v", got, err)
	}
	if got, err := parseREPL("plan get plan_abc"); err != nil || got.op != replPlanGet || got.text != "plan_abc" {
		t.Errorf("plan get: got %+v, %v", got, err)
	}
	if _, err := parseREPL("plan get"); err == nil {
		t.Error("plan get without id should fail")
	}
	if _, err := parseREPL("plan drop"); err == nil {
		t.Error("unknown plan subcommand should fail")
	}
	got, err := parseREPL(`action plan_abc {"path": "a.txt"}`)
	if err != nil || got.op != replAction || got.text != "plan_abc" || got.json != `{"path": "a.txt"}` {
		t.Errorf("action: got %+v, %v", got, err)
	}
	if _, err := parseREPL("action"); err == nil {
		t.Error("action without plan id should fail")
	}
}

func TestParseREPL_HistoryJobID(t *testing.T) {
	// history takes an optional job id
	if got, err := parseREPL("history"); err != nil || got.op != replHistory || got.text != "" {
		t.Errorf("history: got %+v, %v", got, err)
	}
	if got, err := parseREPL("history job-42"); err != nil || got.op != replHistory || got.text != "job-42" {
		t.Errorf("history job: got %+v, %v", got, err)
	}
}

func TestParseREPL_EmptyAndUnknown(t *testing.T) {
	// Blank lines are no-ops and unknown words are errors
	if got, err := parseREPL("   "); err != nil || got.op != 0 {
		t.Errorf("blank: got %+v, %v", got, err)
	}
	if _, err := parseREPL("frobnicate"); err == nil {
		t.Error("expected error for unknown command")
	}
}
