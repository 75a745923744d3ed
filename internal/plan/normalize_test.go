package plan

import (
	"reflect"
	"testing"
)

func steps(cmds ...string) Plan {
	p := Plan{Steps: make([]Step, len(cmds))}
	for i, c := range cmds {
		p.Steps[i] = Step{Command: c, Args: []string{}}
	}
	return p
}

func TestNormalize_InsertsSortBeforeLoneUniq(t *testing.T) {
	// [uniq] -> [sort, uniq]
	got := Normalize(steps("uniq"))
	if !reflect.DeepEqual(got.Commands(), []string{"sort", "uniq"}) {
		t.Errorf("got %v", got.Commands())
	}
}

func TestNormalize_LeavesSortedPlanAlone(t *testing.T) {
	// A sort anywhere before the uniq satisfies the rule
	in := steps("sort", "grep", "uniq")
	got := Normalize(in)
	if !reflect.DeepEqual(got, in) {
		t.Errorf("got %v, want %v", got.Commands(), in.Commands())
	}
}

func TestNormalize_SortAfterUniqDoesNotCount(t *testing.T) {
	// A sort that only appears later does not protect the uniq
	got := Normalize(steps("grep", "uniq", "sort"))
	want := []string{"grep", "sort", "uniq", "sort"}
	if !reflect.DeepEqual(got.Commands(), want) {
		t.Errorf("got %v, want %v", got.Commands(), want)
	}
}

func TestNormalize_InsertsAtMostOneStep(t *testing.T) {
	// Only the first unprotected uniq gets a sort; the inserted sort protects the rest
	got := Normalize(steps("uniq", "tr", "uniq"))
	want := []string{"sort", "uniq", "tr", "uniq"}
	if !reflect.DeepEqual(got.Commands(), want) {
		t.Errorf("got %v, want %v", got.Commands(), want)
	}
}

func TestNormalize_EmptyPlan(t *testing.T) {
	// An empty plan is returned unchanged
	got := Normalize(Plan{})
	if got.Len() != 0 {
		t.Errorf("expected empty plan, got %v", got.Commands())
	}
}

func TestNormalize_ShiftsLaterReferences(t *testing.T) {
	// References at or after the insertion point move up by one
	in := steps("grep", "uniq", "cut")
	in.Steps[2].InputFromStep = IntPtr(2)
	in.Steps[1].InputFromStep = IntPtr(1)

	got := Normalize(in)
	// grep, sort, uniq, cut
	if ref := got.Steps[1].InputFromStep; ref == nil || *ref != 1 {
		t.Errorf("sort should inherit uniq's reference 1, got %v", ref)
	}
	if ref := got.Steps[2].InputFromStep; ref == nil || *ref != 2 {
		t.Errorf("uniq should read from the inserted sort (2), got %v", ref)
	}
	if ref := got.Steps[3].InputFromStep; ref == nil || *ref != 3 {
		t.Errorf("cut should still read from uniq (3), got %v", ref)
	}
}

func TestNormalize_UnreferencedUniqStaysImplicit(t *testing.T) {
	// Without an explicit reference the uniq stays implicit and reads the sort's output
	got := Normalize(steps("uniq"))
	if got.Steps[1].InputFromStep != nil || got.Steps[0].InputFromStep != nil {
		t.Errorf("expected no references, got %+v", got.Steps)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	// Normalize(Normalize(p)) equals Normalize(p)
	in := steps("tr", "uniq", "grep", "uniq")
	in.Steps[3].InputFromStep = IntPtr(2)
	once := Normalize(in)
	twice := Normalize(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("not idempotent:\n once=%+v\ntwice=%+v", once, twice)
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	// The input plan is left untouched
	in := steps("uniq", "cut")
	in.Steps[1].InputFromStep = IntPtr(1)
	_ = Normalize(in)
	if in.Len() != 2 || *in.Steps[1].InputFromStep != 1 {
		t.Errorf("input mutated: %+v", in)
	}
}
