package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"arbor/internal/config"
	"arbor/internal/core/ports"
	"arbor/internal/core/structid"
	"arbor/internal/data/provider"
	"arbor/internal/dispatch"
	"arbor/internal/dragdrop"
	"arbor/internal/tree"
)

// App wires the store, the tree, the drag-drop engine, and the
// dispatcher into one runnable unit.
type App struct {
	cfg        *config.Config
	store      *provider.Store
	tree       *tree.Tree
	engine     *dragdrop.Engine
	dispatcher *dispatch.Dispatcher
	watcher    *provider.Watcher
}

func NewApp(cfg *config.Config) (*App, error) {
	store, err := provider.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	// The requester closes the skeleton-reload loop against the store; it
	// fires only after tree.New returns.
	var t *tree.Tree
	requester := func(ids []string) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Reload.WaitTimeout)
		defer cancel()
		res, err := store.LoadByIDs(ctx, ids)
		if err != nil {
			slog.Warn("payload reload failed", "count", len(ids), "error", err)
			return
		}
		if err := t.ApplyLoadResult("", res, false); err != nil {
			slog.Warn("payload reload not applied", "error", err)
		}
	}
	t = tree.New(tree.Options{
		ParentSource:   tree.ParentFromAttribute,
		IDMode:         structid.ModeServer,
		CacheSize:      cfg.Cache.MaxSize,
		CacheAge:       cfg.Cache.MaxAge,
		PrefetchRadius: cfg.Prefetch.Radius,
		IdleTimeout:    cfg.Activity.IdleTimeout,
		ReloadRate:     cfg.Reload.RatePerSecond,
		ReloadBurst:    cfg.Reload.Burst,
		FlushInterval:  cfg.Reload.FlushInterval,
		WaitTimeout:    cfg.Reload.WaitTimeout,
	}, store, requester)

	dispatcher := dispatch.New(cfg.Dispatch.ChunkSize, cfg.Dispatch.QueueDepth, cfg.Dispatch.JobTimeout)

	engine := dragdrop.NewEngine(dragdrop.Config{
		AllowReparent:  cfg.DragDrop.AllowReparent,
		AllowReorder:   cfg.DragDrop.AllowReorder,
		Constraints:    cfg.DragDrop.Constraints,
		ContainerKinds: cfg.DragDrop.ContainerKinds,
		MaxChildren:    cfg.DragDrop.MaxChildren,
		MaxDepth:       cfg.DragDrop.MaxDepth,
		CommitTimeout:  cfg.DragDrop.CommitTimeout,
		RetryBaseDelay: cfg.DragDrop.RetryBaseDelay,
		RetryMaxDelay:  cfg.DragDrop.RetryMaxDelay,
		RetryAttempts:  cfg.DragDrop.RetryAttempts,
		SyncCutover:    cfg.Dispatch.SyncCutover,
	}, t.Index(), t, store, dispatcher)

	app := &App{
		cfg:        cfg,
		store:      store,
		tree:       t,
		engine:     engine,
		dispatcher: dispatcher,
	}

	watcher, err := provider.NewWatcher(store.Path(), 500*time.Millisecond, app.onStoreChanged)
	if err != nil {
		slog.Warn("store watcher unavailable", "error", err)
	} else {
		app.watcher = watcher
	}
	return app, nil
}

// LoadTopLevel pulls the first level into the tree.
func (a *App) LoadTopLevel(ctx context.Context) error {
	res, err := a.store.LoadLevel(ctx, 1)
	if err != nil {
		return fmt.Errorf("loading top level: %w", err)
	}
	return a.tree.ApplyLoadResult("", res, !res.HasMore)
}

// Expand loads the children of a node on first expansion.
func (a *App) Expand(ctx context.Context, id string) error {
	a.tree.SetExpanded(id, true)
	if a.tree.Index().ChildrenLoaded(id) {
		return nil
	}
	res, err := a.store.LoadChildren(ctx, id)
	if err != nil {
		return fmt.Errorf("loading children of %s: %w", id, err)
	}
	return a.tree.ApplyLoadResult(id, res, !res.HasMore)
}

func (a *App) Collapse(id string) {
	a.tree.SetExpanded(id, false)
}

// MoveNode runs one drag-drop transaction end to end.
func (a *App) MoveNode(ctx context.Context, req dragdrop.MoveRequest) (*dragdrop.Operation, error) {
	return a.engine.Move(ctx, req)
}

// ValidateIDs runs the id diagnostics over the whole store through the
// dispatcher.
func (a *App) ValidateIDs(ctx context.Context) (*structid.Report, error) {
	assigned, err := a.store.AllIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading ids: %w", err)
	}
	records := make([]dispatch.MinimalRecord, 0, len(assigned))
	for id, sid := range assigned {
		records = append(records, dispatch.MinimalRecord{ID: id, StructureID: sid})
	}
	res := a.dispatcher.RunSync(dispatch.Job{
		Key:     "validate",
		Tag:     dispatch.TagValidateIDs,
		Records: records,
	})
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Report, nil
}

// Check implements the health endpoint.
func (a *App) Check(ctx context.Context) healthStatus {
	ids, err := a.store.AllIDs(ctx)
	if err != nil {
		return healthStatus{Status: "down"}
	}
	return healthStatus{Status: "up", Nodes: len(ids)}
}

// onStoreChanged reloads the top level when the database file changes
// underneath us.
func (a *App) onStoreChanged() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.LoadTopLevel(ctx); err != nil {
		slog.Warn("reload after store change failed", "error", err)
	}
}

// SeedSample fills an empty store with a demo hierarchy.
func (a *App) SeedSample(ctx context.Context, branches, leaves int) error {
	records := make([]ports.Record, 0, branches*(leaves+1))
	for b := 1; b <= branches; b++ {
		branchID := fmt.Sprintf("branch-%d", b)
		records = append(records, ports.Record{
			ID:          branchID,
			StructureID: structid.Encode([]int{b}),
			SortKey:     fmt.Sprintf("%03d", b),
			Kind:        "folder",
			HasChildren: leaves > 0,
			ChildCount:  leaves,
			Level:       1,
			Payload:     []byte(fmt.Sprintf("branch %d", b)),
		})
		for l := 1; l <= leaves; l++ {
			records = append(records, ports.Record{
				ID:          fmt.Sprintf("%s-leaf-%d", branchID, l),
				ParentID:    branchID,
				StructureID: structid.Encode([]int{b, l}),
				SortKey:     fmt.Sprintf("%03d", l),
				Kind:        "item",
				Level:       2,
				Payload:     []byte(fmt.Sprintf("leaf %d of branch %d", l, b)),
			})
		}
	}
	return a.store.Seed(ctx, records)
}

func (a *App) Close() {
	if a.watcher != nil {
		a.watcher.Close()
	}
	a.dispatcher.Close()
	a.tree.Close()
	if err := a.store.Close(); err != nil {
		slog.Warn("store close failed", "error", err)
	}
}
