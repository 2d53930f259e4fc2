package structid

import (
	"fmt"
	"sort"
)

// IssueKind classifies a structure-id validation finding.
type IssueKind string

const (
	// IssueMalformed marks IDs that do not match the (\d+\.)+ shape.
	IssueMalformed IssueKind = "malformed"

	// IssueDuplicate marks an ID assigned to more than one node.
	IssueDuplicate IssueKind = "duplicate"

	// IssueGap marks a parent whose children do not form a contiguous
	// 1..N sibling sequence.
	IssueGap IssueKind = "gap"
)

type Issue struct {
	Kind   IssueKind
	NodeID string
	Detail string
}

// Report is consumed by diagnostics only; findings are never self-enforced.
type Report struct {
	IsValid bool
	Issues  []Issue
	Counts  map[IssueKind]int
}

// Validate inspects the id assignment of a whole tree, keyed by node id.
// All three issue kinds are collected; none aborts the scan.
func Validate(assigned map[string]ID) Report {
	report := Report{IsValid: true, Counts: make(map[IssueKind]int)}

	nodeIDs := make([]string, 0, len(assigned))
	for nodeID := range assigned {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)

	seen := make(map[ID]string, len(assigned))
	siblings := make(map[ID][]int)

	for _, nodeID := range nodeIDs {
		id := assigned[nodeID]
		if !IsWellFormed(id) {
			report.add(Issue{Kind: IssueMalformed, NodeID: nodeID, Detail: fmt.Sprintf("structure id %q is malformed", id)})
			continue
		}
		if first, dup := seen[id]; dup {
			report.add(Issue{Kind: IssueDuplicate, NodeID: nodeID, Detail: fmt.Sprintf("structure id %q already assigned to node %q", id, first)})
		} else {
			seen[id] = nodeID
		}
		parent, _ := Parent(id)
		if idx, ok := SiblingIndex(id); ok {
			siblings[parent] = append(siblings[parent], idx)
		}
	}

	parents := make([]ID, 0, len(siblings))
	for parent := range siblings {
		parents = append(parents, parent)
	}
	SortIDs(parents)

	for _, parent := range parents {
		idxs := siblings[parent]
		sort.Ints(idxs)
		expected := 1
		for _, idx := range idxs {
			if idx == expected-1 {
				// Duplicate index under the same parent is already reported
				// as a duplicate id; skip the gap noise.
				continue
			}
			if idx != expected {
				report.add(Issue{
					Kind:   IssueGap,
					NodeID: string(parent),
					Detail: fmt.Sprintf("children of %q jump from %d to %d", parentLabel(parent), expected-1, idx),
				})
				expected = idx
			}
			expected++
		}
	}

	return report
}

func (r *Report) add(issue Issue) {
	r.IsValid = false
	r.Issues = append(r.Issues, issue)
	r.Counts[issue.Kind]++
}

func parentLabel(parent ID) string {
	if parent == "" {
		return "root"
	}
	return string(parent)
}
