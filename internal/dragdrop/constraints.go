package dragdrop

import (
	"github.com/gobwas/glob"

	coreerrors "arbor/internal/core/errors"
	"arbor/internal/tree"
)

// Named constraint rules. The configured set is evaluated in the order
// given; the first failure aborts with a ConstraintViolation carrying the
// rule name.
const (
	RuleSameParent      = "same-parent"
	RuleSameLevel       = "same-level"
	RuleSameBranch      = "same-branch"
	RuleLeafOnly        = "leaf-only"
	RuleParentOnly      = "parent-only"
	RuleNoRootMove      = "no-root-move"
	RuleMaxChildren     = "max-children"
	RuleMaxDepth        = "max-depth"
	RuleDepthBalance    = "depth-balance"
	RuleAdjacencyOnly   = "adjacency-only"
	RuleDirectionalOnly = "directional-only"
)

// moveContext is the resolved view of a request shared by all predicates:
// the dragged nodes, the destination parent, and the 1-based insertion
// index among the destination's children.
type moveContext struct {
	shape        Shape
	cfg          Config
	req          MoveRequest
	dragged      []*tree.StructuralNode
	destParentID string
	destParent   *tree.StructuralNode // nil for top level
	insertIndex  int
	kindMatchers []glob.Glob
}

type rulePredicate func(*moveContext) bool

var rules = map[string]rulePredicate{
	RuleSameParent:      sameParent,
	RuleSameLevel:       sameLevel,
	RuleSameBranch:      sameBranch,
	RuleLeafOnly:        leafOnly,
	RuleParentOnly:      parentOnly,
	RuleNoRootMove:      noRootMove,
	RuleMaxChildren:     maxChildren,
	RuleMaxDepth:        maxDepth,
	RuleDepthBalance:    depthBalance,
	RuleAdjacencyOnly:   adjacencyOnly,
	RuleDirectionalOnly: directionalOnly,
}

// checkConstraints runs the configured named rules in order.
func checkConstraints(mc *moveContext) error {
	for _, name := range mc.cfg.Constraints {
		pred, ok := rules[name]
		if !ok {
			return coreerrors.AddContext(
				coreerrors.New(coreerrors.CodeValidationError, "unknown constraint rule"),
				coreerrors.CtxRule, name)
		}
		if !pred(mc) {
			return coreerrors.Constraint(name)
		}
	}
	return nil
}

func sameParent(mc *moveContext) bool {
	for _, n := range mc.dragged {
		if n.ParentID != mc.destParentID {
			return false
		}
	}
	return true
}

func sameLevel(mc *moveContext) bool {
	destLevel := 1
	if mc.destParent != nil {
		destLevel = mc.destParent.Level + 1
	}
	for _, n := range mc.dragged {
		if n.Level != destLevel {
			return false
		}
	}
	return true
}

// sameBranch requires the destination and every dragged node to share a
// top-level ancestor.
func sameBranch(mc *moveContext) bool {
	destRoot := mc.destParentID
	if destRoot != "" {
		if chain := mc.shape.Ancestors(destRoot); len(chain) > 0 {
			destRoot = chain[len(chain)-1]
		}
	}
	for _, n := range mc.dragged {
		root := n.ID
		if chain := mc.shape.Ancestors(n.ID); len(chain) > 0 {
			root = chain[len(chain)-1]
		}
		if destRoot == "" || root != destRoot {
			return false
		}
	}
	return true
}

func leafOnly(mc *moveContext) bool {
	for _, n := range mc.dragged {
		if n.HasChildren {
			return false
		}
	}
	return true
}

// parentOnly permits drops only into parents that already hold children.
func parentOnly(mc *moveContext) bool {
	return mc.destParent != nil && mc.destParent.HasChildren
}

func noRootMove(mc *moveContext) bool {
	for _, n := range mc.dragged {
		if n.ParentID == "" {
			return false
		}
	}
	return true
}

func maxChildren(mc *moveContext) bool {
	if mc.cfg.MaxChildren <= 0 {
		return true
	}
	existing := len(mc.shape.Children(mc.destParentID))
	if mc.destParentID == "" {
		existing = len(mc.shape.Roots())
	}
	arriving := 0
	for _, n := range mc.dragged {
		if n.ParentID != mc.destParentID {
			arriving++
		}
	}
	return existing+arriving <= mc.cfg.MaxChildren
}

func maxDepth(mc *moveContext) bool {
	if mc.cfg.MaxDepth <= 0 {
		return true
	}
	destLevel := 0
	if mc.destParent != nil {
		destLevel = mc.destParent.Level
	}
	for _, n := range mc.dragged {
		if destLevel+subtreeHeight(mc.shape, n.ID) > mc.cfg.MaxDepth {
			return false
		}
	}
	return true
}

// depthBalance keeps moves within one level of the node's current depth.
func depthBalance(mc *moveContext) bool {
	destLevel := 1
	if mc.destParent != nil {
		destLevel = mc.destParent.Level + 1
	}
	for _, n := range mc.dragged {
		delta := destLevel - n.Level
		if delta < -1 || delta > 1 {
			return false
		}
	}
	return true
}

// adjacencyOnly restricts reorders to the neighboring slot under the same
// parent.
func adjacencyOnly(mc *moveContext) bool {
	for _, n := range mc.dragged {
		if n.ParentID != mc.destParentID {
			return false
		}
		oldIndex := siblingPosition(mc.shape, n)
		delta := mc.insertIndex - oldIndex
		if delta < -1 || delta > 1 {
			return false
		}
	}
	return true
}

// directionalOnly permits moves toward higher sibling positions only.
func directionalOnly(mc *moveContext) bool {
	for _, n := range mc.dragged {
		if n.ParentID != mc.destParentID {
			continue
		}
		if mc.insertIndex < siblingPosition(mc.shape, n) {
			return false
		}
	}
	return true
}

// acceptsChildren reports whether a node may receive an "inside" drop:
// it already has children or its kind matches a configured container
// pattern.
func (mc *moveContext) acceptsChildren(n *tree.StructuralNode) bool {
	if n.HasChildren {
		return true
	}
	for _, m := range mc.kindMatchers {
		if m.Match(n.Kind) {
			return true
		}
	}
	return false
}

func compileKindMatchers(patterns []string) []glob.Glob {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			continue
		}
		out = append(out, g)
	}
	return out
}

// siblingPosition is the node's 1-based position among its current
// siblings.
func siblingPosition(shape Shape, n *tree.StructuralNode) int {
	var siblings []*tree.StructuralNode
	if n.ParentID == "" {
		for i, rootID := range shape.Roots() {
			if rootID == n.ID {
				return i + 1
			}
		}
		return 0
	}
	siblings = shape.Children(n.ParentID)
	for i, s := range siblings {
		if s.ID == n.ID {
			return i + 1
		}
	}
	return 0
}

// subtreeHeight is the number of levels spanned by the node's resident
// subtree: 1 for a leaf.
func subtreeHeight(shape Shape, id string) int {
	base, ok := shape.Node(id)
	if !ok {
		return 1
	}
	max := base.Level
	for _, n := range shape.Subtree(id) {
		if node, ok := shape.Node(n); ok && node.Level > max {
			max = node.Level
		}
	}
	return max - base.Level + 1
}
