package registry

import (
	"reflect"
	"strings"
	"testing"
)

func TestDefault_ContainsTextTools(t *testing.T) {
	// sort, uniq, grep, cut and tr are registered in that order
	var ids []string
	for _, tool := range Default().Tools() {
		ids = append(ids, tool.ID)
	}
	if !reflect.DeepEqual(ids, []string{"sort", "uniq", "grep", "cut", "tr"}) {
		t.Errorf("got %v", ids)
	}
}

func TestFind_KnownAndUnknown(t *testing.T) {
	// Find returns the tool for a known id and false otherwise
	r := Default()
	if tool, ok := r.Find("grep"); !ok || tool.OKExitCodes[len(tool.OKExitCodes)-1] != 1 {
		t.Errorf("grep: got %+v, %v", tool, ok)
	}
	if _, ok := r.Find("rm"); ok {
		t.Error("rm should not be registered")
	}
}

func TestUnknown_ReportsEachOnce(t *testing.T) {
	// Unregistered commands are reported once, in first-seen order
	got := Default().Unknown([]string{"sort", "awk", "sed", "awk"})
	if !reflect.DeepEqual(got, []string{"awk", "sed"}) {
		t.Errorf("got %v", got)
	}
}

func TestNew_IgnoresDuplicateIDs(t *testing.T) {
	// The first registration of an id wins
	r := New([]Tool{{ID: "x", Description: "first"}, {ID: "x", Description: "second"}})
	if len(r.Tools()) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(r.Tools()))
	}
	if tool, _ := r.Find("x"); tool.Description != "first" {
		t.Errorf("got %q", tool.Description)
	}
}

func TestDescribeForPlanner_OneLinePerTool(t *testing.T) {
	// Each tool renders as "- id: description (command: cmd)"
	out := Default().DescribeForPlanner()
	lines := strings.Split(out, "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d:\n%s", len(lines), out)
	}
	if lines[0] != "- sort: Sort lines of text (command: sort)" {
		t.Errorf("got %q", lines[0])
	}
}
