package tree

import (
	"context"
	"sync"
	"testing"
	"time"

	"arbor/internal/core/ports"
	"arbor/internal/core/structid"
)

type stubProvider struct {
	mu     sync.Mutex
	warmed [][]string
}

var _ ports.DataProvider = (*stubProvider)(nil)

func (s *stubProvider) LoadChildren(ctx context.Context, parentID string) (ports.LoadResult, error) {
	return ports.LoadResult{}, nil
}
func (s *stubProvider) LoadLevel(ctx context.Context, level int) (ports.LoadResult, error) {
	return ports.LoadResult{}, nil
}
func (s *stubProvider) LoadRange(ctx context.Context, from, to int) (ports.LoadResult, error) {
	return ports.LoadResult{}, nil
}
func (s *stubProvider) Warm(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warmed = append(s.warmed, ids)
}

func (s *stubProvider) warmCalls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warmed
}

func newTestTree(t *testing.T, opts Options) (*Tree, *stubProvider) {
	t.Helper()
	provider := &stubProvider{}
	tr := New(opts, provider, nil)
	t.Cleanup(tr.Close)
	return tr, provider
}

func seedRecords() []ports.Record {
	return []ports.Record{
		{ID: "a", StructureID: "1.", HasChildren: true, ChildCount: 2, Payload: []byte("pa")},
		{ID: "b", ParentID: "a", StructureID: "1.1.", Payload: []byte("pb")},
		{ID: "c", ParentID: "a", StructureID: "1.2.", Payload: []byte("pc")},
		{ID: "e", StructureID: "2.", Payload: []byte("pe")},
	}
}

func TestTreeGetNodeFull(t *testing.T) {
	tr, _ := newTestTree(t, Options{})
	if err := tr.ApplyLoadResult("", ports.LoadResult{Records: seedRecords()}, true); err != nil {
		t.Fatalf("ApplyLoadResult: %v", err)
	}

	node, ok := tr.GetNode("b")
	if !ok {
		t.Fatal("b should exist")
	}
	if node.IsSkeleton {
		t.Error("cached node should not be a skeleton")
	}
	if string(node.Payload) != "pb" {
		t.Errorf("payload = %q, want pb", node.Payload)
	}
}

func TestTreeGetNodeRecoversEvictedPayload(t *testing.T) {
	tr, _ := newTestTree(t, Options{CacheSize: 2})
	if err := tr.ApplyLoadResult("", ports.LoadResult{Records: seedRecords()}, true); err != nil {
		t.Fatalf("ApplyLoadResult: %v", err)
	}

	// Capacity 2 with 4 payloads inserted: the first two were evicted but
	// remain recoverable from the loaded-items index.
	if tr.CachedPayloads() != 2 {
		t.Fatalf("cached = %d, want 2", tr.CachedPayloads())
	}
	node, ok := tr.GetNode("a")
	if !ok {
		t.Fatal("a should exist")
	}
	if node.IsSkeleton {
		t.Error("payload should be recovered without a provider round trip")
	}
	if string(node.Payload) != "pa" {
		t.Errorf("payload = %q, want pa", node.Payload)
	}
}

func TestTreeGetNodeSkeletonQueuesReload(t *testing.T) {
	tr, _ := newTestTree(t, Options{FlushInterval: time.Hour, WaitTimeout: time.Hour})

	// Structure without payloads: shape known, payloads never loaded.
	records := []ports.Record{{ID: "a", StructureID: "1."}}
	if err := tr.ApplyLoadResult("", ports.LoadResult{Records: records}, true); err != nil {
		t.Fatalf("ApplyLoadResult: %v", err)
	}

	node, ok := tr.GetNode("a")
	if !ok {
		t.Fatal("a should exist")
	}
	if !node.IsSkeleton {
		t.Error("uncached node should come back as a skeleton")
	}
	if tr.reload.Len() != 1 {
		t.Errorf("reload queue len = %d, want 1", tr.reload.Len())
	}
	if n, _ := tr.index.Node("a"); n.LoadState != ports.LoadPending {
		t.Errorf("load state = %v, want pending", n.LoadState)
	}
}

func TestTreeReloadResolvedByLoadResult(t *testing.T) {
	tr, _ := newTestTree(t, Options{FlushInterval: time.Hour, WaitTimeout: time.Hour})
	records := []ports.Record{{ID: "a", StructureID: "1."}}
	if err := tr.ApplyLoadResult("", ports.LoadResult{Records: records}, true); err != nil {
		t.Fatalf("ApplyLoadResult: %v", err)
	}
	tr.GetNode("a")

	records[0].Payload = []byte("pa")
	if err := tr.ApplyLoadResult("", ports.LoadResult{Records: records}, true); err != nil {
		t.Fatalf("ApplyLoadResult: %v", err)
	}

	node, _ := tr.GetNode("a")
	if node.IsSkeleton {
		t.Error("payload arrival should resolve the pending reload")
	}
	if n, _ := tr.index.Node("a"); n.LoadState != ports.LoadIdle {
		t.Errorf("load state = %v, want idle", n.LoadState)
	}
}

func TestTreeReloadFlushReachesRequester(t *testing.T) {
	var mu sync.Mutex
	var batches [][]string
	tr := New(Options{FlushInterval: 10 * time.Millisecond, WaitTimeout: time.Hour}, &stubProvider{}, func(ids []string) {
		mu.Lock()
		batches = append(batches, ids)
		mu.Unlock()
	})
	t.Cleanup(tr.Close)

	records := []ports.Record{{ID: "a", StructureID: "1."}}
	if err := tr.ApplyLoadResult("", ports.LoadResult{Records: records}, true); err != nil {
		t.Fatalf("ApplyLoadResult: %v", err)
	}
	tr.GetNode("a")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(batches)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(batches) == 0 || len(batches[0]) != 1 || batches[0][0] != "a" {
		t.Fatalf("requester batches = %v, want [[a]]", batches)
	}
}

func TestTreeReloadTimeoutFlipsToFailed(t *testing.T) {
	tr, _ := newTestTree(t, Options{FlushInterval: time.Hour, WaitTimeout: 10 * time.Millisecond})

	var mu sync.Mutex
	var failed []string
	tr.SetErrorHandler(func(nodeID string, err error) {
		mu.Lock()
		failed = append(failed, nodeID)
		mu.Unlock()
	})

	records := []ports.Record{{ID: "a", StructureID: "1."}}
	if err := tr.ApplyLoadResult("", ports.LoadResult{Records: records}, true); err != nil {
		t.Fatalf("ApplyLoadResult: %v", err)
	}
	tr.GetNode("a")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := tr.index.Node("a"); n.LoadState == ports.LoadFailed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n, _ := tr.index.Node("a"); n.LoadState != ports.LoadFailed {
		t.Fatal("bounded wait should flip the node to a failed load state")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 || failed[0] != "a" {
		t.Errorf("error handler calls = %v, want [a]", failed)
	}
}

func TestTreeSetVisibleWarmsNeighborhood(t *testing.T) {
	tr, provider := newTestTree(t, Options{CacheSize: 1, PrefetchRadius: 2})
	if err := tr.ApplyLoadResult("", ports.LoadResult{Records: seedRecords()}, true); err != nil {
		t.Fatalf("ApplyLoadResult: %v", err)
	}

	tr.SetVisible([]string{"b"})

	calls := provider.warmCalls()
	if len(calls) == 0 {
		t.Fatal("viewport change should surface a warm request")
	}
	found := false
	for _, id := range calls[0] {
		if id == "c" {
			found = true
		}
	}
	if !found {
		t.Errorf("warm set %v should include sibling c", calls[0])
	}
}

func TestTreeOffloadKeepsProtected(t *testing.T) {
	tr, _ := newTestTree(t, Options{CacheAge: 10 * time.Millisecond, PrefetchRadius: 0})
	if err := tr.ApplyLoadResult("", ports.LoadResult{Records: seedRecords()}, true); err != nil {
		t.Fatalf("ApplyLoadResult: %v", err)
	}
	tr.SetVisible([]string{"b"})
	tr.SetSelected([]string{"b"})

	time.Sleep(20 * time.Millisecond)
	tr.offload()

	node, _ := tr.GetNode("b")
	if node.IsSkeleton {
		t.Error("visible selected node must survive the idle offload pass")
	}
}

func TestTreeClientModeAssignsIDs(t *testing.T) {
	tr, _ := newTestTree(t, Options{IDMode: structid.ModeClient})
	records := []ports.Record{
		{ID: "a"},
		{ID: "e"},
	}
	if err := tr.ApplyLoadResult("", ports.LoadResult{Records: records}, true); err != nil {
		t.Fatalf("ApplyLoadResult: %v", err)
	}
	kids := []ports.Record{
		{ID: "b", ParentID: "a"},
		{ID: "c", ParentID: "a"},
	}
	if err := tr.ApplyLoadResult("a", ports.LoadResult{Records: kids}, true); err != nil {
		t.Fatalf("ApplyLoadResult: %v", err)
	}

	for id, want := range map[string]structid.ID{
		"a": "1.", "e": "2.", "b": "1.1.", "c": "1.2.",
	} {
		node, ok := tr.index.Node(id)
		if !ok {
			t.Fatalf("%s missing", id)
		}
		if node.StructureID != want {
			t.Errorf("%s = %s, want %s", id, node.StructureID, want)
		}
	}
}

func TestTreeRemoveSubtreePurges(t *testing.T) {
	tr, _ := newTestTree(t, Options{})
	if err := tr.ApplyLoadResult("", ports.LoadResult{Records: seedRecords()}, true); err != nil {
		t.Fatalf("ApplyLoadResult: %v", err)
	}

	tr.RemoveSubtree("a")
	if _, ok := tr.GetNode("b"); ok {
		t.Error("descendants should be gone after subtree removal")
	}
	tr.mu.Lock()
	_, loaded := tr.loaded["b"]
	tr.mu.Unlock()
	if loaded {
		t.Error("recovery index should be purged with the subtree")
	}
}

func TestActivityTrackerIdleFiresOnce(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	a := newActivityTracker(10*time.Millisecond, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer a.stop()

	a.mark()
	if !a.isActive() {
		t.Fatal("should be active after input")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && a.isActive() {
		time.Sleep(5 * time.Millisecond)
	}
	if a.isActive() {
		t.Fatal("should go idle after the timeout")
	}
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired != 1 {
		t.Errorf("offload fired %d times, want exactly once per idle transition", fired)
	}
}
