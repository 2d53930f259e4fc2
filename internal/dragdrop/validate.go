package dragdrop

import (
	coreerrors "arbor/internal/core/errors"
	"arbor/internal/core/structid"
	"arbor/internal/tree"
)

// RuleNoCycle is not configurable; cycle prevention always runs.
const RuleNoCycle = "no-cycle"

// validate checks a request in fail-fast order and resolves it into a
// moveContext for the changeset step. Nothing is mutated; a rejected
// request never reaches the commit endpoint.
func validate(shape Shape, cfg Config, req MoveRequest, custom Predicate) (*moveContext, error) {
	if len(req.DraggedIDs) == 0 {
		return nil, coreerrors.New(coreerrors.CodeValidationError, "nothing dragged")
	}

	target, ok := shape.Node(req.TargetID)
	if !ok {
		return nil, coreerrors.AddContext(
			coreerrors.New(coreerrors.CodeNotFound, "drop target not found"),
			coreerrors.CtxNode, req.TargetID)
	}

	draggedSet := make(map[string]bool, len(req.DraggedIDs))
	dragged := make([]*tree.StructuralNode, 0, len(req.DraggedIDs))
	for _, id := range req.DraggedIDs {
		node, ok := shape.Node(id)
		if !ok {
			return nil, coreerrors.AddContext(
				coreerrors.New(coreerrors.CodeNotFound, "dragged node not found"),
				coreerrors.CtxNode, id)
		}
		if draggedSet[id] {
			continue
		}
		draggedSet[id] = true
		dragged = append(dragged, node)
	}

	if draggedSet[req.TargetID] {
		return nil, coreerrors.AddContext(
			coreerrors.New(coreerrors.CodeValidationError, "target is among the dragged nodes"),
			coreerrors.CtxNode, req.TargetID)
	}

	for _, n := range dragged {
		if isDescendantOf(shape, target, n) {
			return nil, coreerrors.AddContext(
				coreerrors.Constraint(RuleNoCycle),
				coreerrors.CtxNode, n.ID)
		}
	}

	mc := &moveContext{
		shape:        shape,
		cfg:          cfg,
		req:          req,
		dragged:      dragged,
		kindMatchers: compileKindMatchers(cfg.ContainerKinds),
	}
	resolveDestination(mc, target, draggedSet)

	reparent := false
	for _, n := range dragged {
		if n.ParentID != mc.destParentID {
			reparent = true
			break
		}
	}
	if reparent && !cfg.AllowReparent {
		return nil, coreerrors.Constraint("reparent-disabled")
	}
	if !reparent && !cfg.AllowReorder {
		return nil, coreerrors.Constraint("reorder-disabled")
	}

	if req.Position == Inside && !mc.acceptsChildren(target) {
		return nil, coreerrors.AddContext(
			coreerrors.Constraint("accepts-children"),
			coreerrors.CtxNode, target.ID)
	}

	if err := checkConstraints(mc); err != nil {
		return nil, err
	}

	if custom != nil && !custom(req, shape) {
		return nil, coreerrors.Constraint("custom-predicate")
	}
	return mc, nil
}

// isDescendantOf prefers segment-wise structure-id comparison; when either
// id is absent it falls back to an explicit descendant-set walk.
func isDescendantOf(shape Shape, candidate, ancestor *tree.StructuralNode) bool {
	if candidate.StructureID != "" && ancestor.StructureID != "" {
		return structid.IsDescendant(candidate.StructureID, ancestor.StructureID)
	}
	for _, id := range shape.Subtree(ancestor.ID) {
		if id == candidate.ID && id != ancestor.ID {
			return true
		}
	}
	return false
}

// resolveDestination fixes the destination parent and the 1-based
// insertion position among the destination's children with the dragged
// units removed.
func resolveDestination(mc *moveContext, target *tree.StructuralNode, draggedSet map[string]bool) {
	if mc.req.Position == Inside {
		mc.destParentID = target.ID
		mc.destParent = target
		remaining := 0
		for _, c := range mc.shape.Children(target.ID) {
			if !draggedSet[c.ID] {
				remaining++
			}
		}
		mc.insertIndex = remaining + 1
		return
	}

	mc.destParentID = target.ParentID
	if target.ParentID != "" {
		if parent, ok := mc.shape.Node(target.ParentID); ok {
			mc.destParent = parent
		}
	}

	pos := 0
	for _, id := range siblingIDs(mc.shape, target.ParentID) {
		if draggedSet[id] {
			continue
		}
		pos++
		if id == target.ID {
			break
		}
	}
	if mc.req.Position == Before {
		mc.insertIndex = pos
	} else {
		mc.insertIndex = pos + 1
	}
}

func siblingIDs(shape Shape, parentID string) []string {
	if parentID == "" {
		return shape.Roots()
	}
	children := shape.Children(parentID)
	out := make([]string, len(children))
	for i, c := range children {
		out[i] = c.ID
	}
	return out
}
