package dispatch

import (
	"sort"

	coreerrors "arbor/internal/core/errors"
	"arbor/internal/core/structid"
)

// operation is the stateful chunk processor behind a job. Chunks arrive
// sequentially; result() runs once after the last chunk. State across
// chunks is what keeps chunked and unchunked runs identical.
type operation interface {
	process(chunk []MinimalRecord) error
	result() Result
}

func newOperation(job Job) (operation, error) {
	switch job.Tag {
	case TagBuildTree:
		return &idAssignOp{preOrderOutput: true}, nil
	case TagComputeIDs:
		return &idAssignOp{}, nil
	case TagRecalcSubtree:
		if job.RootID == "" {
			return nil, coreerrors.New(coreerrors.CodeValidationError, "recalc-subtree requires a root id")
		}
		return &idAssignOp{rootID: job.RootID}, nil
	case TagValidateIDs:
		return &validateOp{assigned: make(map[string]structid.ID)}, nil
	case TagUpdateAfterMove:
		return &remapOp{remaps: job.Remaps}, nil
	default:
		return nil, coreerrors.AddContext(
			coreerrors.New(coreerrors.CodeValidationError, "unknown operation tag"),
			coreerrors.CtxOperation, string(job.Tag))
	}
}

// idAssignOp accumulates the full record set, then derives structure ids
// top-down from parent links and sibling order. Sibling order is sort key
// first, arrival order as the tiebreak.
type idAssignOp struct {
	preOrderOutput bool
	rootID         string

	records []MinimalRecord
	arrival map[string]int
}

func (o *idAssignOp) process(chunk []MinimalRecord) error {
	if o.arrival == nil {
		o.arrival = make(map[string]int)
	}
	for _, rec := range chunk {
		if _, ok := o.arrival[rec.ID]; ok {
			continue
		}
		o.arrival[rec.ID] = len(o.records)
		o.records = append(o.records, rec)
	}
	return nil
}

func (o *idAssignOp) result() Result {
	byID := make(map[string]int, len(o.records))
	children := make(map[string][]string)
	for i, rec := range o.records {
		byID[rec.ID] = i
	}
	for _, rec := range o.records {
		parent := rec.ParentID
		if _, ok := byID[parent]; !ok {
			parent = ""
		}
		children[parent] = append(children[parent], rec.ID)
	}
	for parent := range children {
		kids := children[parent]
		sort.SliceStable(kids, func(i, j int) bool {
			a, b := o.records[byID[kids[i]]], o.records[byID[kids[j]]]
			if a.SortKey != b.SortKey {
				return a.SortKey < b.SortKey
			}
			return o.arrival[a.ID] < o.arrival[b.ID]
		})
	}

	out := make([]MinimalRecord, len(o.records))
	copy(out, o.records)

	type frame struct {
		id  string
		sid structid.ID
	}
	var worklist []frame
	if o.rootID != "" {
		rootIdx, ok := byID[o.rootID]
		if !ok {
			return Result{Err: coreerrors.AddContext(
				coreerrors.New(coreerrors.CodeNotFound, "recalc root not in record set"),
				coreerrors.CtxNode, o.rootID)}
		}
		base := o.records[rootIdx].StructureID
		for i, kid := range children[o.rootID] {
			worklist = append(worklist, frame{kid, structid.Child(base, i+1)})
		}
	} else {
		for i, kid := range children[""] {
			worklist = append(worklist, frame{kid, structid.Child("", i+1)})
		}
	}
	for len(worklist) > 0 {
		f := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		out[byID[f.id]].StructureID = f.sid
		for i, kid := range children[f.id] {
			worklist = append(worklist, frame{kid, structid.Child(f.sid, i+1)})
		}
	}

	if o.preOrderOutput {
		sort.SliceStable(out, func(i, j int) bool {
			return structid.Compare(out[i].StructureID, out[j].StructureID) < 0
		})
	}
	return Result{Records: out}
}

// validateOp accumulates the id assignment and reports malformed ids,
// duplicates, and sibling gaps as one diagnostics report.
type validateOp struct {
	assigned map[string]structid.ID
}

func (o *validateOp) process(chunk []MinimalRecord) error {
	for _, rec := range chunk {
		o.assigned[rec.ID] = rec.StructureID
	}
	return nil
}

func (o *validateOp) result() Result {
	report := structid.Validate(o.assigned)
	return Result{Report: &report}
}

// remapOp rewrites each record's structure id by the deepest applicable
// prefix remap. Stateless per record, so any chunking yields the same
// output.
type remapOp struct {
	remaps []Remap
	out    []MinimalRecord
}

func (o *remapOp) process(chunk []MinimalRecord) error {
	for _, rec := range chunk {
		o.out = append(o.out, ApplyRemap(rec, o.remaps))
	}
	return nil
}

func (o *remapOp) result() Result {
	return Result{Records: o.out}
}

// ApplyRemap rewrites one record by the deepest matching prefix remap.
// Shared with the synchronous fallback path so both produce identical
// output.
func ApplyRemap(rec MinimalRecord, remaps []Remap) MinimalRecord {
	bestDepth := -1
	var best *Remap
	for i := range remaps {
		r := &remaps[i]
		if rec.StructureID != r.From && !structid.IsDescendant(rec.StructureID, r.From) {
			continue
		}
		if d := structid.Depth(r.From); d > bestDepth {
			bestDepth = d
			best = r
		}
	}
	if best == nil {
		return rec
	}
	if replaced, ok := structid.ReplacePrefix(rec.StructureID, best.From, best.To); ok {
		rec.StructureID = replaced
	}
	return rec
}
