package tree

import "sort"

// computeWarmSet builds the prefetch request for a viewport change:
// siblings of each visible node, children of visible expandable nodes,
// the parent of each visible node, and radius pre-order neighbors of the
// window. Ids whose payload is already cached are skipped; the remainder
// is surfaced to the provider as a warming hint, never loaded inline.
func computeWarmSet(ix *Index, visible []string, radius int, cached func(string) bool) []string {
	if len(visible) == 0 {
		return nil
	}

	want := make(map[string]bool)
	for _, id := range visible {
		node, ok := ix.Node(id)
		if !ok {
			continue
		}

		if node.ParentID != "" {
			want[node.ParentID] = true
			for _, sibling := range ix.Children(node.ParentID) {
				want[sibling.ID] = true
			}
		} else {
			for _, rootID := range ix.Roots() {
				want[rootID] = true
			}
		}

		if node.HasChildren {
			for _, child := range ix.Children(id) {
				want[child.ID] = true
			}
		}
	}

	for _, id := range preOrderWindow(ix, visible, radius) {
		want[id] = true
	}

	out := make([]string, 0, len(want))
	for id := range want {
		if cached != nil && cached(id) {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
