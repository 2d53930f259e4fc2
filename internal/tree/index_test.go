package tree

import (
	"reflect"
	"testing"

	"arbor/internal/core/ports"
	"arbor/internal/core/structid"
)

func seedIndex(t *testing.T) *Index {
	t.Helper()
	ix := NewIndex(ParentFromAttribute)
	err := ix.AddRecords([]ports.Record{
		{ID: "a", StructureID: "1.", HasChildren: true, ChildCount: 2},
		{ID: "b", ParentID: "a", StructureID: "1.1.", HasChildren: true, ChildCount: 1},
		{ID: "c", ParentID: "a", StructureID: "1.2."},
		{ID: "d", ParentID: "b", StructureID: "1.1.1."},
		{ID: "e", StructureID: "2."},
	})
	if err != nil {
		t.Fatalf("AddRecords: %v", err)
	}
	ix.MarkChildrenLoaded("a")
	ix.MarkChildrenLoaded("b")
	return ix
}

func TestIndexAddRecords(t *testing.T) {
	ix := seedIndex(t)

	node, ok := ix.Node("b")
	if !ok {
		t.Fatal("b should be resident")
	}
	if node.ParentID != "a" || node.Level != 2 {
		t.Errorf("b = {parent %q, level %d}, want {a, 2}", node.ParentID, node.Level)
	}

	if got := ix.Roots(); !reflect.DeepEqual(got, []string{"a", "e"}) {
		t.Errorf("roots = %v, want [a e]", got)
	}

	children := ix.Children("a")
	if len(children) != 2 || children[0].ID != "b" || children[1].ID != "c" {
		t.Errorf("children of a out of order: %v", children)
	}
}

func TestIndexNodeReturnsClone(t *testing.T) {
	ix := seedIndex(t)
	node, _ := ix.Node("a")
	node.ChildIDs[0] = "mutated"
	again, _ := ix.Node("a")
	if again.ChildIDs[0] != "b" {
		t.Error("mutating a returned node must not affect the index")
	}
}

func TestIndexPlaceholderParent(t *testing.T) {
	ix := NewIndex(ParentFromAttribute)
	err := ix.AddRecords([]ports.Record{
		{ID: "child", ParentID: "ghost", StructureID: "1.1."},
	})
	if err != nil {
		t.Fatalf("AddRecords: %v", err)
	}
	children := ix.Children("ghost")
	if len(children) != 1 || children[0].ID != "child" {
		t.Fatal("child should be reachable through the placeholder parent")
	}
}

func TestIndexParentFromStructure(t *testing.T) {
	ix := NewIndex(ParentFromStructure)
	err := ix.AddRecords([]ports.Record{
		{ID: "root", StructureID: "1."},
		{ID: "kid", StructureID: "1.1."},
	})
	if err != nil {
		t.Fatalf("AddRecords: %v", err)
	}
	node, _ := ix.Node("kid")
	if node.ParentID != "root" {
		t.Errorf("parent = %q, want root", node.ParentID)
	}
}

func TestIndexParentFromAssociation(t *testing.T) {
	ix := NewIndex(ParentFromAssociation)
	ix.SetAssociations(map[string]string{"kid": "root"})
	err := ix.AddRecords([]ports.Record{
		{ID: "root", StructureID: "1."},
		{ID: "kid", StructureID: "1.1."},
	})
	if err != nil {
		t.Fatalf("AddRecords: %v", err)
	}
	node, _ := ix.Node("kid")
	if node.ParentID != "root" {
		t.Errorf("parent = %q, want root", node.ParentID)
	}
}

func TestIndexPreOrder(t *testing.T) {
	ix := seedIndex(t)
	want := []string{"a", "b", "d", "c", "e"}
	if got := ix.PreOrder(); !reflect.DeepEqual(got, want) {
		t.Errorf("PreOrder = %v, want %v", got, want)
	}
}

func TestIndexAncestors(t *testing.T) {
	ix := seedIndex(t)
	want := []string{"b", "a"}
	if got := ix.Ancestors("d"); !reflect.DeepEqual(got, want) {
		t.Errorf("Ancestors(d) = %v, want %v", got, want)
	}
	if got := ix.Ancestors("a"); len(got) != 0 {
		t.Errorf("Ancestors(a) = %v, want empty", got)
	}
}

func TestIndexApplyChangesAtomic(t *testing.T) {
	ix := seedIndex(t)

	// Swap b and c within parent a.
	changes := []ports.StructureChange{
		{NodeID: "b", OldStructureID: "1.1.", NewStructureID: "1.2.", OldParentID: "a", NewParentID: "a", OldIndex: 1, NewIndex: 2},
		{NodeID: "c", OldStructureID: "1.2.", NewStructureID: "1.1.", OldParentID: "a", NewParentID: "a", OldIndex: 2, NewIndex: 1},
	}
	if err := ix.ApplyChanges(changes); err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}

	children := ix.Children("a")
	if children[0].ID != "c" || children[1].ID != "b" {
		t.Errorf("children after swap = [%s %s], want [c b]", children[0].ID, children[1].ID)
	}
}

func TestIndexApplyChangesUnknownNode(t *testing.T) {
	ix := seedIndex(t)
	err := ix.ApplyChanges([]ports.StructureChange{
		{NodeID: "b", NewStructureID: "1.2.", NewParentID: "a"},
		{NodeID: "nope", NewStructureID: "9.", NewParentID: ""},
	})
	if err == nil {
		t.Fatal("expected error for unknown node")
	}
	// Validation rejects the whole batch before any mutation.
	node, _ := ix.Node("b")
	if node.StructureID != structid.ID("1.1.") {
		t.Errorf("b mutated despite rejected batch: %s", node.StructureID)
	}
}

func TestIndexReparentUpdatesCounts(t *testing.T) {
	ix := seedIndex(t)

	// Move d from b to a.
	err := ix.ApplyChanges([]ports.StructureChange{
		{NodeID: "d", OldStructureID: "1.1.1.", NewStructureID: "1.3.", OldParentID: "b", NewParentID: "a", OldIndex: 1, NewIndex: 3},
	})
	if err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}

	b, _ := ix.Node("b")
	if b.ChildCount != 0 || b.HasChildren {
		t.Errorf("b should have no children, got count %d", b.ChildCount)
	}
	a, _ := ix.Node("a")
	if a.ChildCount != 3 {
		t.Errorf("a child count = %d, want 3", a.ChildCount)
	}
	d, _ := ix.Node("d")
	if d.Level != 2 {
		t.Errorf("d level = %d, want 2", d.Level)
	}
}

func TestIndexRollbackRestoresShape(t *testing.T) {
	ix := seedIndex(t)

	// Move subtree b (with descendant d) under e.
	err := ix.ApplyChanges([]ports.StructureChange{
		{NodeID: "b", OldStructureID: "1.1.", NewStructureID: "2.1.", OldParentID: "a", NewParentID: "e", OldIndex: 1, NewIndex: 1},
		{NodeID: "d", OldStructureID: "1.1.1.", NewStructureID: "2.1.1.", OldParentID: "b", NewParentID: "b", OldIndex: 1, NewIndex: 1},
		{NodeID: "c", OldStructureID: "1.2.", NewStructureID: "1.1.", OldParentID: "a", NewParentID: "a", OldIndex: 2, NewIndex: 1},
	})
	if err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}

	rb := ports.RollbackData{
		MovedBranches: []ports.MovedBranch{
			{NodeID: "b", OldStructureID: "1.1.", NewStructureID: "2.1.", OldParentID: "a", OldIndex: 1},
		},
		OrphanedNodes: []ports.StructureChange{
			{NodeID: "c", OldStructureID: "1.2.", NewStructureID: "1.1.", OldParentID: "a", NewParentID: "a", OldIndex: 2, NewIndex: 1},
		},
		StaleChildCounts: map[string]bool{"e": true},
	}
	if err := ix.ApplyRollback(rb); err != nil {
		t.Fatalf("ApplyRollback: %v", err)
	}

	for id, want := range map[string]structid.ID{
		"a": "1.", "b": "1.1.", "c": "1.2.", "d": "1.1.1.", "e": "2.",
	} {
		node, ok := ix.Node(id)
		if !ok {
			t.Fatalf("%s missing after rollback", id)
		}
		if node.StructureID != want {
			t.Errorf("%s structure id = %s, want %s", id, node.StructureID, want)
		}
	}
	b, _ := ix.Node("b")
	if b.ParentID != "a" {
		t.Errorf("b parent = %q, want a", b.ParentID)
	}
	e, _ := ix.Node("e")
	if !e.StaleChildCount {
		t.Error("e should be flagged with a stale child count")
	}
}

func TestIndexRemoveSubtree(t *testing.T) {
	ix := seedIndex(t)
	removed := ix.RemoveSubtree("b")
	if !reflect.DeepEqual(removed, []string{"b", "d"}) {
		t.Fatalf("removed = %v, want [b d]", removed)
	}
	if ix.HasNode("b") || ix.HasNode("d") {
		t.Error("removed nodes should be gone")
	}
	children := ix.Children("a")
	if len(children) != 1 || children[0].ID != "c" {
		t.Errorf("children of a = %v, want [c]", children)
	}
}

func TestIndexSwapKeepsStructureLookup(t *testing.T) {
	ix := NewIndex(ParentFromStructure)
	err := ix.AddRecords([]ports.Record{
		{ID: "a", StructureID: "1.", HasChildren: true, ChildCount: 2},
		{ID: "b", StructureID: "1.1."},
		{ID: "c", StructureID: "1.2."},
	})
	if err != nil {
		t.Fatalf("AddRecords: %v", err)
	}
	ix.MarkChildrenLoaded("a")

	swap := []ports.StructureChange{
		{NodeID: "c", OldStructureID: "1.2.", NewStructureID: "1.1.", OldParentID: "a", NewParentID: "a", OldIndex: 2, NewIndex: 1},
		{NodeID: "b", OldStructureID: "1.1.", NewStructureID: "1.2.", OldParentID: "a", NewParentID: "a", OldIndex: 1, NewIndex: 2},
	}
	if err := ix.ApplyChanges(swap); err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}

	// Both exchanged ids must still resolve: a record arriving under the
	// swapped id attaches to the node that now holds it.
	if err := ix.AddRecords([]ports.Record{{ID: "kid", StructureID: "1.1.1."}}); err != nil {
		t.Fatalf("adding under swapped id: %v", err)
	}
	kid, _ := ix.Node("kid")
	if kid.ParentID != "c" {
		t.Errorf("kid parent = %q, want c", kid.ParentID)
	}

	if err := ix.ApplyRollback(ports.RollbackData{OrphanedNodes: swap}); err != nil {
		t.Fatalf("ApplyRollback: %v", err)
	}
	if got, _ := ix.Node("kid"); got.StructureID != "1.2.1." {
		t.Errorf("kid id after rollback = %s, want 1.2.1.", got.StructureID)
	}
	if err := ix.AddRecords([]ports.Record{{ID: "kid2", StructureID: "1.2.2."}}); err != nil {
		t.Fatalf("adding under restored id: %v", err)
	}
	kid2, _ := ix.Node("kid2")
	if kid2.ParentID != "c" {
		t.Errorf("kid2 parent = %q, want c", kid2.ParentID)
	}
}
