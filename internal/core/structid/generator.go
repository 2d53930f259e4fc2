package structid

import (
	"fmt"
	"sync"
)

// Mode selects where structure IDs come from. The mode is resolved once at
// tree-build time; every placement afterwards goes through the same path.
type Mode int

const (
	// ModeServer treats externally supplied IDs as the only source.
	ModeServer Mode = iota

	// ModeClient derives IDs lazily, top-down, from {parent, sibling index}
	// placements and caches them per node.
	ModeClient

	// ModeHybrid accepts both; a server value wins over a derived one.
	ModeHybrid
)

func (m Mode) String() string {
	switch m {
	case ModeServer:
		return "server"
	case ModeClient:
		return "client"
	case ModeHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// Generator produces structure IDs for nodes according to its Mode.
// Safe for concurrent use.
type Generator struct {
	mode Mode

	mu       sync.RWMutex
	parentOf map[string]string
	indexOf  map[string]int
	children map[string][]string
	serverID map[string]ID
	cache    map[string]ID
}

func NewGenerator(mode Mode) *Generator {
	return &Generator{
		mode:     mode,
		parentOf: make(map[string]string),
		indexOf:  make(map[string]int),
		children: make(map[string][]string),
		serverID: make(map[string]ID),
		cache:    make(map[string]ID),
	}
}

func (g *Generator) Mode() Mode {
	return g.mode
}

// SetPlacement records a node's parent and one-based sibling index.
// An empty parentID marks a top-level node. Re-placing a node drops any
// cached ID for it and its subtree.
func (g *Generator) SetPlacement(nodeID, parentID string, siblingIndex int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.parentOf[nodeID]; ok && old != parentID {
		g.removeChildLocked(old, nodeID)
	}
	g.parentOf[nodeID] = parentID
	g.indexOf[nodeID] = siblingIndex

	found := false
	for _, c := range g.children[parentID] {
		if c == nodeID {
			found = true
			break
		}
	}
	if !found {
		g.children[parentID] = append(g.children[parentID], nodeID)
	}
	g.invalidateLocked(nodeID)
}

// SetServerID records an authoritative external ID for a node.
func (g *Generator) SetServerID(nodeID string, id ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.serverID[nodeID] = id
}

// Invalidate drops cached IDs for the node and its entire subtree.
func (g *Generator) Invalidate(nodeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invalidateLocked(nodeID)
}

// Forget removes all state for a node that left the tree.
func (g *Generator) Forget(nodeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invalidateLocked(nodeID)
	if parent, ok := g.parentOf[nodeID]; ok {
		g.removeChildLocked(parent, nodeID)
	}
	delete(g.parentOf, nodeID)
	delete(g.indexOf, nodeID)
	delete(g.serverID, nodeID)
}

// IDFor resolves the structure ID for a node. Client-mode resolution walks
// ancestors with an explicit worklist so deep trees cannot exhaust the
// goroutine stack, then fills the cache top-down.
func (g *Generator) IDFor(nodeID string) (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.idForLocked(nodeID)
}

func (g *Generator) idForLocked(nodeID string) (ID, error) {
	if g.mode != ModeClient {
		if id, ok := g.serverID[nodeID]; ok {
			return id, nil
		}
		if g.mode == ModeServer {
			return "", fmt.Errorf("no server structure id for node %q", nodeID)
		}
	}

	if id, ok := g.cache[nodeID]; ok {
		return id, nil
	}

	// Collect the uncached ancestor chain, nearest first.
	chain := make([]string, 0, 8)
	cur := nodeID
	var base ID
	for {
		if id, ok := g.cache[cur]; ok {
			base = id
			break
		}
		idx, ok := g.indexOf[cur]
		if !ok || idx < 1 {
			return "", fmt.Errorf("node %q has no placement", cur)
		}
		chain = append(chain, cur)
		parent := g.parentOf[cur]
		if parent == "" {
			break
		}
		cur = parent
	}

	// Materialize from the top of the chain down.
	for i := len(chain) - 1; i >= 0; i-- {
		n := chain[i]
		base = Child(base, g.indexOf[n])
		g.cache[n] = base
	}
	return base, nil
}

func (g *Generator) invalidateLocked(nodeID string) {
	worklist := []string{nodeID}
	for len(worklist) > 0 {
		n := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if _, ok := g.cache[n]; ok {
			delete(g.cache, n)
		}
		worklist = append(worklist, g.children[n]...)
	}
}

func (g *Generator) removeChildLocked(parentID, nodeID string) {
	kids := g.children[parentID]
	for i, c := range kids {
		if c == nodeID {
			g.children[parentID] = append(kids[:i], kids[i+1:]...)
			return
		}
	}
}
