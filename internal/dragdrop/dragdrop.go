// Package dragdrop validates move requests against the structural shape,
// computes structure-id changesets with rollback data, and drives the
// optimistic-apply / commit / rollback transaction.
package dragdrop

import (
	"time"

	"arbor/internal/core/ports"
	"arbor/internal/tree"
)

// Position is where the dragged unit lands relative to the target.
type Position int

const (
	Before Position = iota
	After
	Inside
)

func (p Position) String() string {
	switch p {
	case Before:
		return "before"
	case After:
		return "after"
	case Inside:
		return "inside"
	default:
		return "unknown"
	}
}

// MoveRequest is one drag gesture: the dragged node ids, the drop target,
// and the position relative to it.
type MoveRequest struct {
	DraggedIDs []string
	TargetID   string
	Position   Position
}

// Operation is the computed transaction: the ordered changeset to apply
// and submit, plus everything needed to undo it from memory alone.
type Operation struct {
	RequestID       string
	Changes         []ports.StructureChange
	Rollback        ports.RollbackData
	TopLevelNodeIDs []string
	TotalItemCount  int
}

// Shape is the read-only view of the structural index the engine needs.
type Shape interface {
	Node(id string) (*tree.StructuralNode, bool)
	Children(id string) []*tree.StructuralNode
	Ancestors(id string) []string
	Subtree(id string) []string
	Roots() []string
	ChildrenLoaded(parentID string) bool
}

var _ Shape = (*tree.Index)(nil)

// Intents is the mutation surface: the engine never touches index maps,
// it submits whole batches.
type Intents interface {
	ApplyChanges(changes []ports.StructureChange) error
	ApplyRollback(rb ports.RollbackData) error
}

var _ Intents = (*tree.Tree)(nil)

// Predicate is the optional custom check evaluated after all named
// constraints pass.
type Predicate func(req MoveRequest, shape Shape) bool

// Config carries the capability flags and constraint selection for one
// engine instance.
type Config struct {
	AllowReparent  bool
	AllowReorder   bool
	Constraints    []string
	ContainerKinds []string
	MaxChildren    int
	MaxDepth       int

	CommitTimeout  time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetryAttempts  int

	// SyncCutover is the affected-node count above which the id remap is
	// handed to the background dispatcher.
	SyncCutover int
}
