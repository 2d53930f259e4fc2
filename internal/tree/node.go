// Package tree keeps the always-resident structural shape of the
// hierarchy and a bounded payload cache on top of it. The index owns its
// maps exclusively; collaborators submit intents (load results, change
// batches, rollbacks) instead of mutating shared state.
package tree

import (
	"time"

	"arbor/internal/core/ports"
	"arbor/internal/core/structid"
)

// StructuralNode is the minimal metadata kept for every observed node.
// It is created the first time a node is seen from any source and removed
// only when its subtree is structurally removed.
type StructuralNode struct {
	ID           string
	ParentID     string
	ChildIDs     []string // ordered by structure id
	StructureID  structid.ID
	SortKey      string
	Kind         string
	Level        int
	HasChildren  bool
	ChildCount   int
	RenderHeight int
	LoadState    ports.LoadState

	// StaleChildCount marks parents whose children were never fully
	// loaded before a move touched them.
	StaleChildCount bool
}

func (n *StructuralNode) clone() *StructuralNode {
	if n == nil {
		return nil
	}
	c := *n
	c.ChildIDs = append([]string(nil), n.ChildIDs...)
	return &c
}

// Node is the materialized view handed to consumers: the structural shape
// plus, when cached, the payload. IsSkeleton means shape-only.
type Node struct {
	StructuralNode
	IsSkeleton bool
	Payload    []byte
	LastAccess time.Time
}
