package plan

import (
	"reflect"
	"testing"
)

func TestAppend_ShiftsIncomingReferences(t *testing.T) {
	// References inside the appended plan are offset by the existing length
	cur := steps("grep", "cut")
	next := steps("sort", "uniq")
	next.Steps[1].InputFromStep = IntPtr(1)

	got := cur.Append(next)
	if got.Len() != 4 {
		t.Fatalf("expected 4 steps, got %d", got.Len())
	}
	if ref := got.Steps[3].InputFromStep; ref == nil || *ref != 3 {
		t.Errorf("expected reference 3, got %v", ref)
	}
	if *next.Steps[1].InputFromStep != 1 {
		t.Error("appended plan was mutated")
	}
}

func TestAppend_ToEmpty(t *testing.T) {
	// Appending to an empty plan keeps references as they are
	next := steps("sort", "uniq")
	next.Steps[1].InputFromStep = IntPtr(1)
	got := Plan{}.Append(next)
	if !reflect.DeepEqual(got, next) {
		t.Errorf("got %+v, want %+v", got, next)
	}
}

func TestRemove_RenumbersReferences(t *testing.T) {
	// Removing step 2 drops references to it and shifts later ones down
	p := steps("grep", "tr", "sort", "uniq")
	p.Steps[2].InputFromStep = IntPtr(2)
	p.Steps[3].InputFromStep = IntPtr(3)

	got, ok := p.Remove(2)
	if !ok {
		t.Fatal("expected removal to succeed")
	}
	if !reflect.DeepEqual(got.Commands(), []string{"grep", "sort", "uniq"}) {
		t.Errorf("got %v", got.Commands())
	}
	if got.Steps[1].InputFromStep != nil {
		t.Errorf("reference to removed step should be dropped, got %d", *got.Steps[1].InputFromStep)
	}
	if ref := got.Steps[2].InputFromStep; ref == nil || *ref != 2 {
		t.Errorf("expected reference 2, got %v", ref)
	}
}

func TestRemove_OutOfRange(t *testing.T) {
	// Indexes outside 1..len report false
	p := steps("sort")
	for _, n := range []int{0, 2, -1} {
		if _, ok := p.Remove(n); ok {
			t.Errorf("Remove(%d): expected false", n)
		}
	}
}

func TestClone_PreservesNil(t *testing.T) {
	// Clone keeps nil slices nil so equality checks hold
	p := Plan{Steps: []Step{{Command: "sort"}}}
	c := p.Clone()
	if !reflect.DeepEqual(p, c) {
		t.Errorf("got %+v, want %+v", c, p)
	}
	if (Plan{}).Clone().Steps != nil {
		t.Error("expected nil steps")
	}
}
