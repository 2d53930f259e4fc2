package tree

import (
	"log/slog"
	"sync"
	"time"

	coreerrors "arbor/internal/core/errors"
	"arbor/internal/core/ports"
	"arbor/internal/core/structid"
	"arbor/internal/data/queue"
	"arbor/internal/shared/observability"
	"arbor/internal/shared/util"
)

// Options configures a Tree. Zero values fall back to safe defaults.
type Options struct {
	ParentSource   ParentSource
	IDMode         structid.Mode
	CacheSize      int
	CacheAge       time.Duration
	PrefetchRadius int
	IdleTimeout    time.Duration
	ReloadRate     float64
	ReloadBurst    int
	FlushInterval  time.Duration
	WaitTimeout    time.Duration
}

func (o *Options) withDefaults() {
	if o.CacheSize <= 0 {
		o.CacheSize = 2000
	}
	if o.CacheAge <= 0 {
		o.CacheAge = 5 * time.Minute
	}
	if o.PrefetchRadius <= 0 {
		o.PrefetchRadius = 20
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Second
	}
	if o.ReloadRate <= 0 {
		o.ReloadRate = 50
	}
	if o.ReloadBurst <= 0 {
		o.ReloadBurst = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 100 * time.Millisecond
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 10 * time.Second
	}
}

type pendingLoad struct {
	seq   uint64
	timer *time.Timer
}

// Tree is the facade over the structural index and the payload cache.
// It owns all interactive state: viewport, expansion, selection, pending
// reloads, and the activity/idle machinery.
type Tree struct {
	opts  Options
	index *Index
	gen   *structid.Generator

	provider  ports.DataProvider
	requester ports.PayloadRequester
	onError   func(nodeID string, err error)

	reload   *queue.Coalescer
	limiter  *util.Limiter
	activity *activityTracker

	mu        sync.Mutex
	cache     *payloadCache
	loaded    map[string][]byte // recovery index surviving cache eviction
	visible   []string
	expanded  map[string]bool
	selected  map[string]bool
	protected map[string]bool
	pending   map[string]*pendingLoad
	seq       uint64
	now       func() time.Time
}

var _ ports.VisibleFeed = (*Tree)(nil)

func New(opts Options, provider ports.DataProvider, requester ports.PayloadRequester) *Tree {
	opts.withDefaults()
	t := &Tree{
		opts:      opts,
		index:     NewIndex(opts.ParentSource),
		gen:       structid.NewGenerator(opts.IDMode),
		provider:  provider,
		requester: requester,
		cache:     newPayloadCache(opts.CacheSize, opts.CacheAge),
		loaded:    make(map[string][]byte),
		expanded:  make(map[string]bool),
		selected:  make(map[string]bool),
		protected: make(map[string]bool),
		pending:   make(map[string]*pendingLoad),
		limiter:   util.NewLimiter(opts.ReloadRate, opts.ReloadBurst),
		now:       time.Now,
	}
	t.reload = queue.NewCoalescer(opts.FlushInterval, t.flushReloads)
	t.activity = newActivityTracker(opts.IdleTimeout, t.offload)
	return t
}

// Index exposes the structural index for components that consume shape
// (the drag-drop engine reads it, never writes).
func (t *Tree) Index() *Index {
	return t.index
}

// SetErrorHandler installs the callback raised when a reload exceeds its
// bounded wait.
func (t *Tree) SetErrorHandler(handler func(nodeID string, err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = handler
}

// ApplyLoadResult folds a provider response into the tree: structure into
// the index, payloads into the cache and the recovery index. complete
// marks the parent's child set as fully observed.
func (t *Tree) ApplyLoadResult(parentID string, res ports.LoadResult, complete bool) error {
	records := res.Records
	if t.gen.Mode() != structid.ModeServer {
		records = t.assignStructureIDs(parentID, records)
	}
	if err := t.index.AddRecords(records); err != nil {
		return err
	}
	if complete && parentID != "" {
		t.index.MarkChildrenLoaded(parentID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for _, rec := range records {
		if rec.Payload != nil {
			t.loaded[rec.ID] = rec.Payload
			t.cache.put(rec.ID, rec.Payload, now, t.isProtectedLocked)
		}
		t.resolvePendingLocked(rec.ID)
	}
	return nil
}

// assignStructureIDs fills in client-generated ids for records that lack
// a server-provided one, using their order within the batch.
func (t *Tree) assignStructureIDs(parentID string, records []ports.Record) []ports.Record {
	out := make([]ports.Record, len(records))
	base := 0
	if parent, ok := t.index.Node(parentID); ok {
		base = len(parent.ChildIDs)
	}
	for i, rec := range records {
		if rec.StructureID != "" && t.gen.Mode() == structid.ModeHybrid {
			t.gen.SetServerID(rec.ID, rec.StructureID)
			out[i] = rec
			continue
		}
		if rec.StructureID == "" || t.gen.Mode() == structid.ModeClient {
			siblingIndex := base + i + 1
			if t.index.HasNode(rec.ID) {
				if existing, ok := t.index.Node(rec.ID); ok {
					if idx, okIdx := structid.SiblingIndex(existing.StructureID); okIdx {
						siblingIndex = idx
					}
				}
			}
			t.gen.SetPlacement(rec.ID, rec.ParentID, siblingIndex)
			if id, err := t.gen.IDFor(rec.ID); err == nil {
				rec.StructureID = id
			}
		}
		out[i] = rec
	}
	return out
}

// GetNode materializes a node view. A cached payload yields a full node;
// a payload recoverable from the loaded-items index is re-adopted into
// the cache; otherwise a skeleton is returned and an asynchronous reload
// is queued for the id.
func (t *Tree) GetNode(id string) (Node, bool) {
	structural, ok := t.index.Node(id)
	if !ok {
		return Node{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()

	if payload, access, hit := t.cache.get(id, now); hit {
		observability.CacheHitsTotal.WithLabelValues("hit").Inc()
		return Node{StructuralNode: *structural, Payload: payload, LastAccess: access}, true
	}

	if payload, ok := t.loaded[id]; ok {
		observability.CacheHitsTotal.WithLabelValues("recovered").Inc()
		t.cache.put(id, payload, now, t.isProtectedLocked)
		return Node{StructuralNode: *structural, Payload: payload, LastAccess: now}, true
	}

	observability.CacheHitsTotal.WithLabelValues("skeleton").Inc()
	t.queueReloadLocked(id)
	return Node{StructuralNode: *structural, IsSkeleton: true, LastAccess: now}, true
}

// queueReloadLocked schedules an async payload fetch for a skeleton hit.
// A newer request for the same id supersedes the outstanding one; a
// request that exceeds the bounded wait flips the node to a failed load
// state and raises the error signal.
func (t *Tree) queueReloadLocked(id string) {
	t.seq++
	seq := t.seq

	if prev, ok := t.pending[id]; ok {
		prev.timer.Stop()
	}
	p := &pendingLoad{seq: seq}
	p.timer = time.AfterFunc(t.opts.WaitTimeout, func() { t.reloadTimedOut(id, seq) })
	t.pending[id] = p

	t.index.SetLoadState(id, ports.LoadPending)
	t.reload.Add(id)
	observability.ReloadQueueDepth.Set(float64(t.reload.Len()))
}

func (t *Tree) resolvePendingLocked(id string) {
	if p, ok := t.pending[id]; ok {
		p.timer.Stop()
		delete(t.pending, id)
	}
	t.index.SetLoadState(id, ports.LoadIdle)
}

func (t *Tree) reloadTimedOut(id string, seq uint64) {
	t.mu.Lock()
	p, ok := t.pending[id]
	if !ok || p.seq != seq {
		t.mu.Unlock()
		return
	}
	delete(t.pending, id)
	handler := t.onError
	t.mu.Unlock()

	t.index.SetLoadState(id, ports.LoadFailed)
	t.reload.Discard(id)
	err := coreerrors.AddContext(
		coreerrors.New(coreerrors.CodeTimeout, "payload reload exceeded bounded wait"),
		coreerrors.CtxNode, id)
	slog.Warn("payload reload timed out", "node", id)
	if handler != nil {
		handler(id, err)
	}
}

// flushReloads is the coalescer callback: it surfaces the batch to the
// rendering layer's payload requester, rate limited.
func (t *Tree) flushReloads(ids []string) {
	observability.ReloadFlushTotal.Inc()
	observability.ReloadQueueDepth.Set(0)
	if t.requester == nil {
		return
	}
	if !t.limiter.Allow(len(ids)) {
		// Over budget: requeue and let the next flush retry.
		t.reload.Add(ids...)
		return
	}
	t.requester(ids)
}

// SetVisible receives the rendering layer's current visible id list.
// It recomputes the protected set and surfaces a warm request for the
// uncached neighborhood.
func (t *Tree) SetVisible(ids []string) {
	t.MarkActivity(InputScroll)

	t.mu.Lock()
	t.visible = util.UniqueStrings(ids)
	t.recomputeProtectedLocked()
	warm := computeWarmSet(t.index, t.visible, t.opts.PrefetchRadius, t.cache.has)
	t.mu.Unlock()

	if len(warm) > 0 && t.provider != nil {
		observability.PrefetchRequestedTotal.Add(float64(len(warm)))
		t.provider.Warm(warm)
	}
}

// SetExpanded records an expansion change and refreshes protection.
func (t *Tree) SetExpanded(id string, expanded bool) {
	t.MarkActivity(InputExpand)
	t.mu.Lock()
	defer t.mu.Unlock()
	if expanded {
		t.expanded[id] = true
	} else {
		delete(t.expanded, id)
	}
	t.recomputeProtectedLocked()
}

// SetSelected replaces the selection and refreshes protection.
func (t *Tree) SetSelected(ids []string) {
	t.MarkActivity(InputPointer)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selected = make(map[string]bool, len(ids))
	for _, id := range ids {
		t.selected[id] = true
	}
	t.recomputeProtectedLocked()
}

// Selected returns the current selection.
func (t *Tree) Selected() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return util.SortedStringKeys(t.selected)
}

// IsExpanded reports the expansion state of a node.
func (t *Tree) IsExpanded(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expanded[id]
}

// MarkActivity registers a user input and resets the inactivity timer.
func (t *Tree) MarkActivity(kind InputKind) {
	_ = kind
	t.activity.mark()
}

// Active reports whether the tree is currently in the active state.
func (t *Tree) Active() bool {
	return t.activity.isActive()
}

func (t *Tree) recomputeProtectedLocked() {
	t.protected = computeProtected(t.index, t.visible, t.expanded, t.selected, t.opts.PrefetchRadius)
	observability.ProtectedSetSize.Set(float64(len(t.protected)))
}

func (t *Tree) isProtectedLocked(id string) bool {
	return t.protected[id]
}

// offload runs once when the inactivity timer fires: protected ids get
// their recency refreshed, then ordinary LRU/TTL reclaim takes the rest.
func (t *Tree) offload() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recomputeProtectedLocked()
	now := t.now()
	for id := range t.protected {
		t.cache.touch(id, now)
	}
	removed := t.cache.reclaim(now, t.isProtectedLocked)
	observability.IdleOffloadTotal.Inc()
	slog.Debug("idle offload pass", "reclaimed", removed, "protected", len(t.protected))
}

// ApplyChanges applies a move changeset to the index as one atomic batch.
func (t *Tree) ApplyChanges(changes []ports.StructureChange) error {
	if err := t.index.ApplyChanges(changes); err != nil {
		return err
	}
	for _, change := range changes {
		t.gen.Invalidate(change.NodeID)
	}
	return nil
}

// ApplyRollback restores the pre-move shape from rollback data alone.
func (t *Tree) ApplyRollback(rb ports.RollbackData) error {
	if err := t.index.ApplyRollback(rb); err != nil {
		return err
	}
	for _, branch := range rb.MovedBranches {
		t.gen.Invalidate(branch.NodeID)
	}
	return nil
}

// RemoveSubtree structurally removes a node and its descendants, dropping
// their payloads from cache and recovery index.
func (t *Tree) RemoveSubtree(id string) {
	removed := t.index.RemoveSubtree(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range removed {
		t.cache.remove(n)
		delete(t.loaded, n)
		t.gen.Forget(n)
		if p, ok := t.pending[n]; ok {
			p.timer.Stop()
			delete(t.pending, n)
		}
	}
}

// CachedPayloads reports the current cache occupancy.
func (t *Tree) CachedPayloads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.len()
}

// Close stops timers and drops queued work.
func (t *Tree) Close() {
	t.activity.stop()
	t.reload.Close()
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, p := range t.pending {
		p.timer.Stop()
		delete(t.pending, id)
	}
}
