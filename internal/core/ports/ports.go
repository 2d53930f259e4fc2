// Package ports declares the boundaries between the tree core and its
// collaborators: the data provider feeding raw records in, the commit
// endpoint receiving structure changes, and the rendering layer exchanging
// visibility for payload requests.
package ports

import (
	"context"

	"arbor/internal/core/structid"
)

// Record is the raw node shape delivered by a data provider. Payload is
// opaque to the core; everything else feeds the structural index.
type Record struct {
	ID          string
	ParentID    string
	StructureID structid.ID
	SortKey     string
	Kind        string
	Level       int
	HasChildren bool
	ChildCount  int
	Height      int
	Payload     []byte
}

// LoadResult is a provider response for any of the load shapes.
type LoadResult struct {
	Records    []Record
	HasMore    bool
	TotalCount int
}

// DataProvider supplies tree records on demand. No transport is mandated;
// implementations range from SQLite files to remote services.
type DataProvider interface {
	// LoadChildren returns the direct children of a node, ordered by sort key.
	LoadChildren(ctx context.Context, parentID string) (LoadResult, error)

	// LoadLevel returns every node at the given depth (level 1 = top).
	LoadLevel(ctx context.Context, level int) (LoadResult, error)

	// LoadRange returns nodes within a pre-order position window.
	LoadRange(ctx context.Context, from, to int) (LoadResult, error)

	// Warm hints that the listed ids will be needed soon. Providers may
	// ignore it; the core never blocks on it.
	Warm(ids []string)
}

// StructureChange records one node's position mutation inside a move.
type StructureChange struct {
	NodeID         string
	OldStructureID structid.ID
	NewStructureID structid.ID
	OldParentID    string
	NewParentID    string
	OldIndex       int
	NewIndex       int
}

// CommitEndpoint receives a finished changeset for the system of record.
// A returned error triggers the caller's rollback path.
type CommitEndpoint interface {
	Commit(ctx context.Context, requestID string, changes []StructureChange) error
}

// MovedBranch remembers where a dragged branch root came from so it can be
// reinserted at its exact prior position.
type MovedBranch struct {
	NodeID         string
	OldStructureID structid.ID
	NewStructureID structid.ID
	OldParentID    string
	OldIndex       int
}

// RollbackData restores the tree to its pre-move shape using in-memory
// data only; no provider refetch is required.
type RollbackData struct {
	MovedBranches []MovedBranch

	// OrphanedNodes are siblings that were renumbered but not dragged.
	OrphanedNodes []StructureChange

	// StaleChildCounts flags parents whose children were never fully
	// loaded; their child counts may be wrong after the move.
	StaleChildCounts map[string]bool
}

// VisibleFeed is what the rendering layer pushes into the core: the
// currently visible node ids, in display order.
type VisibleFeed interface {
	SetVisible(ids []string)
}

// PayloadRequester is the callback the core exposes to the rendering
// layer: it fires when skeleton nodes are encountered and payloads need
// to be fetched.
type PayloadRequester func(ids []string)

// LoadState tracks the async fetch lifecycle of a single node.
type LoadState int

const (
	LoadIdle LoadState = iota
	LoadPending
	LoadFailed
)

func (s LoadState) String() string {
	switch s {
	case LoadPending:
		return "pending"
	case LoadFailed:
		return "failed"
	default:
		return "idle"
	}
}
