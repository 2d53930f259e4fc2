package tree

import (
	"fmt"
	"sort"
	"sync"

	"arbor/internal/core/ports"
	"arbor/internal/core/structid"
	"arbor/internal/shared/observability"
)

// ParentSource selects how a record's parent is determined. It is resolved
// once when the index is built; every record afterwards goes through the
// single conversion function for that variant.
type ParentSource int

const (
	// ParentFromAttribute trusts the record's own ParentID field.
	ParentFromAttribute ParentSource = iota

	// ParentFromStructure derives the parent by trimming the last
	// structure-id segment and looking the prefix up.
	ParentFromStructure

	// ParentFromAssociation resolves parents through an externally
	// supplied child → parent table.
	ParentFromAssociation
)

// Index is the always-resident structural skeleton of the hierarchy.
// All getters return clones; only load results, change batches, and
// rollbacks mutate the maps, each under a single lock acquisition.
type Index struct {
	mu sync.RWMutex

	source ParentSource
	assoc  map[string]string

	nodes       map[string]*StructuralNode
	byStructure map[structid.ID]string
	roots       []string

	// fullyLoaded tracks parents whose complete child set has been
	// observed; moves touching other parents leave stale child counts.
	fullyLoaded map[string]bool
}

func NewIndex(source ParentSource) *Index {
	return &Index{
		source:      source,
		assoc:       make(map[string]string),
		nodes:       make(map[string]*StructuralNode),
		byStructure: make(map[structid.ID]string),
		fullyLoaded: make(map[string]bool),
	}
}

// SetAssociations installs the child → parent table for
// ParentFromAssociation indexes.
func (ix *Index) SetAssociations(assoc map[string]string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.assoc = make(map[string]string, len(assoc))
	for k, v := range assoc {
		ix.assoc[k] = v
	}
}

// AddRecords folds a provider load result into the shape. Existing nodes
// are updated in place; new nodes are created. Children end up ordered by
// structure id.
func (ix *Index) AddRecords(records []ports.Record) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	touchedParents := make(map[string]bool)
	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("record with empty id")
		}
		parentID, err := ix.resolveParentLocked(rec)
		if err != nil {
			return err
		}

		node, ok := ix.nodes[rec.ID]
		if !ok {
			node = &StructuralNode{ID: rec.ID}
			ix.nodes[rec.ID] = node
		} else if node.ParentID != parentID {
			ix.detachChildLocked(node.ParentID, rec.ID)
			touchedParents[node.ParentID] = true
		}

		if old := node.StructureID; old != "" && old != rec.StructureID {
			delete(ix.byStructure, old)
		}
		node.ParentID = parentID
		node.StructureID = rec.StructureID
		node.SortKey = rec.SortKey
		node.Kind = rec.Kind
		node.Level = structid.Depth(rec.StructureID)
		node.HasChildren = rec.HasChildren
		node.ChildCount = rec.ChildCount
		node.RenderHeight = rec.Height
		node.LoadState = ports.LoadIdle
		ix.byStructure[rec.StructureID] = rec.ID

		ix.attachChildLocked(parentID, rec.ID)
		touchedParents[parentID] = true
	}

	for parent := range touchedParents {
		ix.sortChildrenLocked(parent)
	}
	observability.TreeNodes.Set(float64(len(ix.nodes)))
	return nil
}

func (ix *Index) resolveParentLocked(rec ports.Record) (string, error) {
	switch ix.source {
	case ParentFromAttribute:
		return rec.ParentID, nil
	case ParentFromStructure:
		parentSID, ok := structid.Parent(rec.StructureID)
		if !ok {
			return "", nil
		}
		parentID, ok := ix.byStructure[parentSID]
		if !ok {
			return "", fmt.Errorf("record %q references unknown structure parent %q", rec.ID, parentSID)
		}
		return parentID, nil
	case ParentFromAssociation:
		return ix.assoc[rec.ID], nil
	default:
		return "", fmt.Errorf("unknown parent source %d", ix.source)
	}
}

// MarkChildrenLoaded records that a parent's full child set is resident.
func (ix *Index) MarkChildrenLoaded(parentID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.fullyLoaded[parentID] = true
	if node, ok := ix.nodes[parentID]; ok {
		node.ChildCount = len(node.ChildIDs)
		node.HasChildren = len(node.ChildIDs) > 0
	}
}

// ChildrenLoaded reports whether the full child set of a parent has been
// observed.
func (ix *Index) ChildrenLoaded(parentID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.fullyLoaded[parentID]
}

func (ix *Index) Node(id string) (*StructuralNode, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	node, ok := ix.nodes[id]
	if !ok {
		return nil, false
	}
	return node.clone(), true
}

func (ix *Index) HasNode(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.nodes[id]
	return ok
}

func (ix *Index) NodeCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.nodes)
}

func (ix *Index) Roots() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]string(nil), ix.roots...)
}

func (ix *Index) Children(id string) []*StructuralNode {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	node, ok := ix.nodes[id]
	if !ok {
		return nil
	}
	out := make([]*StructuralNode, 0, len(node.ChildIDs))
	for _, childID := range node.ChildIDs {
		if child, ok := ix.nodes[childID]; ok {
			out = append(out, child.clone())
		}
	}
	return out
}

// Ancestors returns the parent chain from the node's parent up to a root.
func (ix *Index) Ancestors(id string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.ancestorsLocked(id)
}

func (ix *Index) ancestorsLocked(id string) []string {
	var chain []string
	node, ok := ix.nodes[id]
	for ok && node.ParentID != "" {
		chain = append(chain, node.ParentID)
		node, ok = ix.nodes[node.ParentID]
	}
	return chain
}

// Subtree returns the node and all resident descendants. The walk uses an
// explicit worklist so depth is not bounded by the goroutine stack.
func (ix *Index) Subtree(id string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.subtreeLocked(id)
}

func (ix *Index) subtreeLocked(id string) []string {
	if _, ok := ix.nodes[id]; !ok {
		return nil
	}
	out := make([]string, 0, 16)
	worklist := []string{id}
	for len(worklist) > 0 {
		n := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		out = append(out, n)
		if node, ok := ix.nodes[n]; ok {
			for i := len(node.ChildIDs) - 1; i >= 0; i-- {
				worklist = append(worklist, node.ChildIDs[i])
			}
		}
	}
	return out
}

// PreOrder lists every resident node in structure-id order.
func (ix *Index) PreOrder() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]string, 0, len(ix.nodes))
	for _, root := range ix.roots {
		out = append(out, ix.subtreeLocked(root)...)
	}
	return out
}

// StructureIDs snapshots the current id assignment for validation.
func (ix *Index) StructureIDs() map[string]structid.ID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	assigned := make(map[string]structid.ID, len(ix.nodes))
	for id, node := range ix.nodes {
		assigned[id] = node.StructureID
	}
	return assigned
}

func (ix *Index) SetLoadState(id string, state ports.LoadState) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if node, ok := ix.nodes[id]; ok {
		node.LoadState = state
	}
}

// ApplyChanges applies a move changeset as one atomic batch. No
// intermediate state is observable: the lock is held across the whole
// batch and children lists are resorted before it is released.
func (ix *Index) ApplyChanges(changes []ports.StructureChange) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, change := range changes {
		if _, ok := ix.nodes[change.NodeID]; !ok {
			return fmt.Errorf("change references unknown node %q", change.NodeID)
		}
	}

	// Siblings may exchange ids within one batch, so the structure lookup
	// updates in two phases: every old id is dropped before any new id is
	// written.
	for _, change := range changes {
		delete(ix.byStructure, ix.nodes[change.NodeID].StructureID)
	}

	touched := make(map[string]bool)
	for _, change := range changes {
		node := ix.nodes[change.NodeID]
		if node.ParentID != change.NewParentID {
			ix.detachChildLocked(node.ParentID, node.ID)
			touched[node.ParentID] = true
			node.ParentID = change.NewParentID
			ix.attachChildLocked(change.NewParentID, node.ID)
		}
		touched[change.NewParentID] = true

		node.StructureID = change.NewStructureID
		node.Level = structid.Depth(change.NewStructureID)
		ix.byStructure[node.StructureID] = node.ID
	}

	for parent := range touched {
		ix.sortChildrenLocked(parent)
		if node, ok := ix.nodes[parent]; ok && ix.fullyLoaded[parent] {
			node.ChildCount = len(node.ChildIDs)
			node.HasChildren = len(node.ChildIDs) > 0
		}
	}
	return nil
}

// ApplyRollback restores the pre-move shape from RollbackData alone.
// Moved branches go back under their old parents at their old structure
// ids; orphaned siblings get their old ids back; every touched parent's
// children are re-sorted by structure id.
func (ix *Index) ApplyRollback(rb ports.RollbackData) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	touched := make(map[string]bool)
	var rewrites []idRewrite

	for _, branch := range rb.MovedBranches {
		node, ok := ix.nodes[branch.NodeID]
		if !ok {
			return fmt.Errorf("rollback references unknown node %q", branch.NodeID)
		}
		if node.ParentID != branch.OldParentID {
			ix.detachChildLocked(node.ParentID, node.ID)
			touched[node.ParentID] = true
			node.ParentID = branch.OldParentID
			ix.attachChildLocked(branch.OldParentID, node.ID)
		}
		touched[branch.OldParentID] = true
		rewrites = append(rewrites, ix.collectSubtreeRestoresLocked(branch.NodeID, branch.NewStructureID, branch.OldStructureID)...)
	}

	for _, orphan := range rb.OrphanedNodes {
		node, ok := ix.nodes[orphan.NodeID]
		if !ok {
			return fmt.Errorf("rollback references unknown node %q", orphan.NodeID)
		}
		touched[node.ParentID] = true
		rewrites = append(rewrites, ix.collectSubtreeRestoresLocked(orphan.NodeID, orphan.NewStructureID, orphan.OldStructureID)...)
	}

	// Same two-phase discipline as ApplyChanges: ids exchanged during the
	// move must be released before any restored id is written back.
	for _, rw := range rewrites {
		delete(ix.byStructure, rw.node.StructureID)
	}
	for _, rw := range rewrites {
		rw.node.StructureID = rw.to
		rw.node.Level = structid.Depth(rw.to)
		ix.byStructure[rw.to] = rw.node.ID
	}

	for parent := range touched {
		ix.sortChildrenLocked(parent)
		if node, ok := ix.nodes[parent]; ok && ix.fullyLoaded[parent] {
			node.ChildCount = len(node.ChildIDs)
			node.HasChildren = len(node.ChildIDs) > 0
		}
	}
	for parent := range rb.StaleChildCounts {
		if node, ok := ix.nodes[parent]; ok {
			node.StaleChildCount = true
		}
	}
	observability.RollbacksTotal.Inc()
	return nil
}

// idRewrite is one pending structure-id restore collected before the
// two-phase lookup update.
type idRewrite struct {
	node *StructuralNode
	to   structid.ID
}

// collectSubtreeRestoresLocked computes the restored structure ids of a
// node and its resident descendants by replacing fromPrefix with
// toPrefix. Nothing is written yet.
func (ix *Index) collectSubtreeRestoresLocked(id string, fromPrefix, toPrefix structid.ID) []idRewrite {
	var out []idRewrite
	for _, n := range ix.subtreeLocked(id) {
		node := ix.nodes[n]
		restored, ok := structid.ReplacePrefix(node.StructureID, fromPrefix, toPrefix)
		if !ok {
			continue
		}
		out = append(out, idRewrite{node: node, to: restored})
	}
	return out
}

// RemoveSubtree destroys a node and every resident descendant.
func (ix *Index) RemoveSubtree(id string) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	removed := ix.subtreeLocked(id)
	if len(removed) == 0 {
		return nil
	}
	if node, ok := ix.nodes[id]; ok {
		ix.detachChildLocked(node.ParentID, id)
		ix.sortChildrenLocked(node.ParentID)
	}
	for _, n := range removed {
		if node, ok := ix.nodes[n]; ok {
			delete(ix.byStructure, node.StructureID)
			delete(ix.nodes, n)
			delete(ix.fullyLoaded, n)
		}
	}
	observability.TreeNodes.Set(float64(len(ix.nodes)))
	return removed
}

func (ix *Index) attachChildLocked(parentID, childID string) {
	if parentID == "" {
		for _, r := range ix.roots {
			if r == childID {
				return
			}
		}
		ix.roots = append(ix.roots, childID)
		return
	}
	parent, ok := ix.nodes[parentID]
	if !ok {
		// Parent shape not observed yet: create a placeholder so the
		// child is reachable once the parent record arrives.
		parent = &StructuralNode{ID: parentID, HasChildren: true}
		ix.nodes[parentID] = parent
	}
	for _, c := range parent.ChildIDs {
		if c == childID {
			return
		}
	}
	parent.ChildIDs = append(parent.ChildIDs, childID)
}

func (ix *Index) detachChildLocked(parentID, childID string) {
	if parentID == "" {
		for i, r := range ix.roots {
			if r == childID {
				ix.roots = append(ix.roots[:i], ix.roots[i+1:]...)
				return
			}
		}
		return
	}
	parent, ok := ix.nodes[parentID]
	if !ok {
		return
	}
	for i, c := range parent.ChildIDs {
		if c == childID {
			parent.ChildIDs = append(parent.ChildIDs[:i], parent.ChildIDs[i+1:]...)
			return
		}
	}
}

func (ix *Index) sortChildrenLocked(parentID string) {
	var ids []string
	if parentID == "" {
		ids = ix.roots
	} else {
		parent, ok := ix.nodes[parentID]
		if !ok {
			return
		}
		ids = parent.ChildIDs
	}
	sort.SliceStable(ids, func(i, j int) bool {
		a, okA := ix.nodes[ids[i]]
		b, okB := ix.nodes[ids[j]]
		if !okA || !okB {
			return ids[i] < ids[j]
		}
		return structid.Compare(a.StructureID, b.StructureID) < 0
	})
}
