package tree

// computeProtected derives the set of node ids that must survive any
// eviction pass: the viewport widened by the prefetch radius, the
// ancestors of every expanded node, and selected branch roots with their
// ancestors. The set is derived on demand and never persisted.
func computeProtected(ix *Index, visible []string, expanded, selected map[string]bool, radius int) map[string]bool {
	protected := make(map[string]bool)

	for _, id := range preOrderWindow(ix, visible, radius) {
		protected[id] = true
	}

	for id := range expanded {
		if !expanded[id] || !ix.HasNode(id) {
			continue
		}
		protected[id] = true
		for _, ancestor := range ix.Ancestors(id) {
			protected[ancestor] = true
		}
	}

	for id := range selected {
		if !selected[id] || !ix.HasNode(id) {
			continue
		}
		protected[id] = true
		for _, ancestor := range ix.Ancestors(id) {
			protected[ancestor] = true
		}
	}

	return protected
}

// preOrderWindow widens the visible id span by radius nodes on each side
// in pre-order traversal order.
func preOrderWindow(ix *Index, visible []string, radius int) []string {
	if len(visible) == 0 {
		return nil
	}
	order := ix.PreOrder()
	if len(order) == 0 {
		return append([]string(nil), visible...)
	}

	position := make(map[string]int, len(order))
	for i, id := range order {
		position[id] = i
	}

	lo, hi := len(order), -1
	for _, id := range visible {
		pos, ok := position[id]
		if !ok {
			continue
		}
		if pos < lo {
			lo = pos
		}
		if pos > hi {
			hi = pos
		}
	}
	if hi < 0 {
		return append([]string(nil), visible...)
	}

	lo -= radius
	if lo < 0 {
		lo = 0
	}
	hi += radius
	if hi >= len(order) {
		hi = len(order) - 1
	}
	return append([]string(nil), order[lo:hi+1]...)
}
