package dragdrop

import (
	"sort"

	"arbor/internal/core/ports"
	"arbor/internal/core/structid"
	"arbor/internal/dispatch"
	"arbor/internal/tree"
)

// movePlan is the synchronous part of a changeset: every direct child of
// a touched parent renumbered, plus the prefix remaps and the descendant
// snapshot the remap step needs. The remap itself runs either inline or
// on the dispatcher; both paths feed finish().
type movePlan struct {
	op          *Operation
	remaps      []dispatch.Remap
	descendants []dispatch.MinimalRecord

	// claims lists every node the transaction must hold exclusively: the
	// moved units, each renumbered sibling, and each parent whose child
	// list changes ("" for the root level).
	claims []string
}

// moveUnits resolves what actually moves. A connected, completely
// selected branch moves as one unit; any other selection is flattened
// into independent sibling units in pre-order.
func moveUnits(mc *moveContext) []*tree.StructuralNode {
	draggedSet := make(map[string]bool, len(mc.dragged))
	for _, n := range mc.dragged {
		draggedSet[n.ID] = true
	}

	tops := make([]*tree.StructuralNode, 0, len(mc.dragged))
	for _, n := range mc.dragged {
		top := true
		for _, anc := range mc.shape.Ancestors(n.ID) {
			if draggedSet[anc] {
				top = false
				break
			}
		}
		if top {
			tops = append(tops, n)
		}
	}

	if len(tops) == 1 {
		subtree := mc.shape.Subtree(tops[0].ID)
		if len(subtree) == len(draggedSet) {
			complete := true
			for _, id := range subtree {
				if !draggedSet[id] {
					complete = false
					break
				}
			}
			if complete {
				return tops[:1]
			}
		}
	}

	units := append([]*tree.StructuralNode(nil), mc.dragged...)
	sort.SliceStable(units, func(i, j int) bool {
		return structid.Compare(units[i].StructureID, units[j].StructureID) < 0
	})
	return units
}

// computePlan turns a validated move into the top-level changes and the
// descendant remap work. Nothing is applied here.
func computePlan(mc *moveContext, requestID string) (*movePlan, error) {
	units := moveUnits(mc)
	unitSet := make(map[string]bool, len(units))
	unitIDs := make([]string, 0, len(units))
	for _, u := range units {
		unitSet[u.ID] = true
		unitIDs = append(unitIDs, u.ID)
	}

	// Final ordered child lists for every parent the move touches.
	finalChildren := make(map[string][]string)
	destFinal := withoutUnits(siblingIDs(mc.shape, mc.destParentID), unitSet)
	at := mc.insertIndex - 1
	if at < 0 {
		at = 0
	}
	if at > len(destFinal) {
		at = len(destFinal)
	}
	destFinal = append(destFinal[:at:at], append(append([]string(nil), unitIDs...), destFinal[at:]...)...)
	finalChildren[mc.destParentID] = destFinal
	for _, u := range units {
		if _, ok := finalChildren[u.ParentID]; !ok {
			finalChildren[u.ParentID] = withoutUnits(siblingIDs(mc.shape, u.ParentID), unitSet)
		}
	}
	touched := make(map[string]bool, len(finalChildren))
	for p := range finalChildren {
		touched[p] = true
	}

	// Renumber direct children top-down. Deeper touched parents resolve
	// their own new position through the nearest remapped ancestor first.
	parents := make([]string, 0, len(finalChildren))
	for p := range finalChildren {
		parents = append(parents, p)
	}
	sort.Slice(parents, func(i, j int) bool {
		return parentDepth(mc.shape, parents[i]) < parentDepth(mc.shape, parents[j])
	})

	newSID := make(map[string]structid.ID)
	oldTopSID := make(map[string]structid.ID)
	var remaps []dispatch.Remap

	resolveParentSID := func(p string) structid.ID {
		if p == "" {
			return ""
		}
		if sid, ok := newSID[p]; ok {
			return sid
		}
		node, ok := mc.shape.Node(p)
		if !ok {
			return ""
		}
		for _, chain := range append([]string{p}, mc.shape.Ancestors(p)...) {
			if to, ok := newSID[chain]; ok {
				if replaced, ok := structid.ReplacePrefix(node.StructureID, oldTopSID[chain], to); ok {
					return replaced
				}
			}
		}
		return node.StructureID
	}

	type topChange struct {
		node     *tree.StructuralNode
		newSID   structid.ID
		newIndex int
	}
	var unitChanges, orphanChanges []topChange

	for _, p := range parents {
		pSID := resolveParentSID(p)
		for i, kid := range finalChildren[p] {
			node, ok := mc.shape.Node(kid)
			if !ok {
				continue
			}
			want := structid.Child(pSID, i+1)
			if want == node.StructureID {
				continue
			}
			newSID[kid] = want
			oldTopSID[kid] = node.StructureID
			remaps = append(remaps, dispatch.Remap{From: node.StructureID, To: want})
			tc := topChange{node: node, newSID: want, newIndex: i + 1}
			if unitSet[kid] {
				unitChanges = append(unitChanges, tc)
			} else {
				orphanChanges = append(orphanChanges, tc)
			}
		}
	}

	// Units keep destination order; orphans follow in old pre-order.
	sort.SliceStable(unitChanges, func(i, j int) bool {
		return unitChanges[i].newIndex < unitChanges[j].newIndex
	})
	sort.SliceStable(orphanChanges, func(i, j int) bool {
		return structid.Compare(orphanChanges[i].node.StructureID, orphanChanges[j].node.StructureID) < 0
	})

	op := &Operation{
		RequestID:       requestID,
		TopLevelNodeIDs: unitIDs,
		Rollback: ports.RollbackData{
			StaleChildCounts: make(map[string]bool),
		},
	}
	for _, tc := range unitChanges {
		change := ports.StructureChange{
			NodeID:         tc.node.ID,
			OldStructureID: tc.node.StructureID,
			NewStructureID: tc.newSID,
			OldParentID:    tc.node.ParentID,
			NewParentID:    mc.destParentID,
			OldIndex:       siblingPosition(mc.shape, tc.node),
			NewIndex:       tc.newIndex,
		}
		op.Changes = append(op.Changes, change)
		op.Rollback.MovedBranches = append(op.Rollback.MovedBranches, ports.MovedBranch{
			NodeID:         change.NodeID,
			OldStructureID: change.OldStructureID,
			NewStructureID: change.NewStructureID,
			OldParentID:    change.OldParentID,
			OldIndex:       change.OldIndex,
		})
	}
	for _, tc := range orphanChanges {
		oldIdx, _ := structid.SiblingIndex(tc.node.StructureID)
		change := ports.StructureChange{
			NodeID:         tc.node.ID,
			OldStructureID: tc.node.StructureID,
			NewStructureID: tc.newSID,
			OldParentID:    tc.node.ParentID,
			NewParentID:    tc.node.ParentID,
			OldIndex:       oldIdx,
			NewIndex:       tc.newIndex,
		}
		op.Changes = append(op.Changes, change)
		op.Rollback.OrphanedNodes = append(op.Rollback.OrphanedNodes, change)
	}

	// Snapshot the descendants needing a prefix remap. Walks prune moved
	// units, skip nodes the direct loop already renumbered, and stop at
	// touched parents; the seen set keeps overlapping walks from emitting
	// a node twice.
	var descendants []dispatch.MinimalRecord
	seen := make(map[string]bool)
	for top := range newSID {
		worklist := childIDsFiltered(mc.shape, top, unitSet)
		for len(worklist) > 0 {
			id := worklist[len(worklist)-1]
			worklist = worklist[:len(worklist)-1]
			if seen[id] {
				continue
			}
			seen[id] = true
			node, ok := mc.shape.Node(id)
			if !ok {
				continue
			}
			if _, renumbered := newSID[id]; !renumbered {
				descendants = append(descendants, dispatch.MinimalRecord{
					ID:          node.ID,
					ParentID:    node.ParentID,
					StructureID: node.StructureID,
					SortKey:     node.SortKey,
				})
			}
			if !touched[id] {
				worklist = append(worklist, childIDsFiltered(mc.shape, id, unitSet)...)
			}
		}
	}

	affected := make(map[string]bool)
	for _, u := range units {
		for _, id := range mc.shape.Subtree(u.ID) {
			affected[id] = true
		}
	}
	op.TotalItemCount = len(affected)

	for p := range finalChildren {
		if p != "" && !mc.shape.ChildrenLoaded(p) {
			op.Rollback.StaleChildCounts[p] = true
		}
	}

	claimSet := make(map[string]bool, len(unitIDs)+len(newSID)+len(finalChildren))
	for _, id := range unitIDs {
		claimSet[id] = true
	}
	for id := range newSID {
		claimSet[id] = true
	}
	for p := range finalChildren {
		claimSet[p] = true
	}
	claims := make([]string, 0, len(claimSet))
	for id := range claimSet {
		claims = append(claims, id)
	}
	sort.Strings(claims)

	return &movePlan{op: op, remaps: remaps, descendants: descendants, claims: claims}, nil
}

// finish joins the remapped descendant records back into the changeset by
// id and returns the completed operation.
func (p *movePlan) finish(remapped []dispatch.MinimalRecord) *Operation {
	nextSID := make(map[string]structid.ID, len(remapped))
	for _, rec := range remapped {
		nextSID[rec.ID] = rec.StructureID
	}

	ordered := append([]dispatch.MinimalRecord(nil), p.descendants...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return structid.Compare(ordered[i].StructureID, ordered[j].StructureID) < 0
	})
	for _, rec := range ordered {
		next, ok := nextSID[rec.ID]
		if !ok || next == rec.StructureID {
			continue
		}
		oldIdx, _ := structid.SiblingIndex(rec.StructureID)
		newIdx, _ := structid.SiblingIndex(next)
		p.op.Changes = append(p.op.Changes, ports.StructureChange{
			NodeID:         rec.ID,
			OldStructureID: rec.StructureID,
			NewStructureID: next,
			OldParentID:    rec.ParentID,
			NewParentID:    rec.ParentID,
			OldIndex:       oldIdx,
			NewIndex:       newIdx,
		})
	}
	return p.op
}

func childIDsFiltered(shape Shape, parentID string, unitSet map[string]bool) []string {
	children := shape.Children(parentID)
	out := make([]string, 0, len(children))
	for _, c := range children {
		if !unitSet[c.ID] {
			out = append(out, c.ID)
		}
	}
	return out
}

func withoutUnits(ids []string, unitSet map[string]bool) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !unitSet[id] {
			out = append(out, id)
		}
	}
	return out
}

func parentDepth(shape Shape, parentID string) int {
	if parentID == "" {
		return 0
	}
	if node, ok := shape.Node(parentID); ok {
		return node.Level
	}
	return 0
}
