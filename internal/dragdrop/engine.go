package dragdrop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	coreerrors "arbor/internal/core/errors"
	"arbor/internal/core/ports"
	"arbor/internal/core/structid"
	"arbor/internal/dispatch"
	"arbor/internal/shared/observability"
)

// Engine drives the whole transaction: validate, compute, optimistic
// apply, commit, and rollback on failure. It holds at most one in-flight
// transaction per subtree; a conflicting request is rejected.
type Engine struct {
	cfg        Config
	shape      Shape
	intents    Intents
	endpoint   ports.CommitEndpoint
	dispatcher *dispatch.Dispatcher
	custom     Predicate

	mu       sync.Mutex
	inflight map[string]structid.ID // unit root id → structure id at acquire time
}

func NewEngine(cfg Config, shape Shape, intents Intents, endpoint ports.CommitEndpoint, dispatcher *dispatch.Dispatcher) *Engine {
	if cfg.SyncCutover <= 0 {
		cfg.SyncCutover = 100
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 10 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	return &Engine{
		cfg:        cfg,
		shape:      shape,
		intents:    intents,
		endpoint:   endpoint,
		dispatcher: dispatcher,
		inflight:   make(map[string]structid.ID),
	}
}

// SetPredicate installs the custom check evaluated after all named
// constraints.
func (e *Engine) SetPredicate(p Predicate) {
	e.custom = p
}

// Preview validates a request and computes its changeset without applying
// or committing anything.
func (e *Engine) Preview(req MoveRequest) (*Operation, error) {
	mc, err := validate(e.shape, e.cfg, req, e.custom)
	if err != nil {
		return nil, err
	}
	plan, err := computePlan(mc, uuid.NewString())
	if err != nil {
		return nil, err
	}
	return plan.finish(e.remapInline(plan)), nil
}

// Move runs one full transaction. On commit failure the tree is rolled
// back before the error is returned alongside the operation.
func (e *Engine) Move(ctx context.Context, req MoveRequest) (*Operation, error) {
	ctx, span := observability.Tracer.Start(ctx, "dragdrop.move")
	defer span.End()
	start := time.Now()

	mc, err := validate(e.shape, e.cfg, req, e.custom)
	if err != nil {
		observability.MovesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	requestID := uuid.NewString()
	plan, err := computePlan(mc, requestID)
	if err != nil {
		observability.MovesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if err := e.acquire(plan.claims); err != nil {
		observability.MovesTotal.WithLabelValues("conflict").Inc()
		return nil, err
	}
	defer e.release(plan.claims)

	path := "sync"
	var remapped []dispatch.MinimalRecord
	if len(plan.descendants) > e.cfg.SyncCutover && e.dispatcher != nil {
		remapped, err = e.remapViaDispatcher(ctx, plan)
		if err != nil {
			slog.Warn("dispatcher remap failed, running inline", "request", requestID, "error", err)
			remapped = e.remapInline(plan)
		} else {
			path = "dispatch"
		}
	} else {
		remapped = e.remapInline(plan)
	}
	op := plan.finish(remapped)

	if err := e.intents.ApplyChanges(op.Changes); err != nil {
		observability.MovesTotal.WithLabelValues("error").Inc()
		return nil, coreerrors.Wrap(err, coreerrors.CodeInternal, "optimistic apply failed")
	}

	if err := e.commit(ctx, op); err != nil {
		if rbErr := e.intents.ApplyRollback(op.Rollback); rbErr != nil {
			slog.Error("rollback failed after commit error", "request", requestID, "error", rbErr)
		}
		observability.MovesTotal.WithLabelValues("rolled_back").Inc()
		observability.MoveDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		return op, err
	}

	observability.MovesTotal.WithLabelValues("committed").Inc()
	observability.MoveDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	slog.Info("move committed",
		"request", requestID,
		"units", len(op.TopLevelNodeIDs),
		"changes", len(op.Changes),
		"path", path)
	return op, nil
}

// Rollback undoes a previously applied operation on explicit request.
func (e *Engine) Rollback(op *Operation) error {
	if err := e.intents.ApplyRollback(op.Rollback); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeInternal, "rollback failed")
	}
	return nil
}

// acquire claims everything a transaction renumbers: the dragged units
// plus the parents whose child lists change. Two transactions conflict
// when any claim of one contains or is contained by a claim of the other.
// The root level claims the empty id and matches exactly.
func (e *Engine) acquire(claimIDs []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range claimIDs {
		sid := e.claimSID(id)
		for heldID, heldSID := range e.inflight {
			if heldID == id ||
				(sid != "" && heldSID != "" &&
					(structid.IsDescendant(sid, heldSID) || structid.IsDescendant(heldSID, sid))) {
				return coreerrors.AddContext(
					coreerrors.New(coreerrors.CodeConflict, "subtree has a transaction in flight"),
					coreerrors.CtxNode, heldID)
			}
		}
	}
	for _, id := range claimIDs {
		e.inflight[id] = e.claimSID(id)
	}
	return nil
}

func (e *Engine) claimSID(id string) structid.ID {
	if node, ok := e.shape.Node(id); ok {
		return node.StructureID
	}
	return ""
}

func (e *Engine) release(claimIDs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range claimIDs {
		delete(e.inflight, id)
	}
}

func (e *Engine) remapInline(plan *movePlan) []dispatch.MinimalRecord {
	out := make([]dispatch.MinimalRecord, 0, len(plan.descendants))
	for _, rec := range plan.descendants {
		out = append(out, dispatch.ApplyRemap(rec, plan.remaps))
	}
	return out
}

func (e *Engine) remapViaDispatcher(ctx context.Context, plan *movePlan) ([]dispatch.MinimalRecord, error) {
	job := dispatch.Job{
		Key:     "move:" + plan.op.RequestID,
		Tag:     dispatch.TagUpdateAfterMove,
		Records: plan.descendants,
		Remaps:  plan.remaps,
	}
	events, err := e.dispatcher.Submit(ctx, job)
	if err != nil {
		return nil, err
	}
	for ev := range events {
		if ev.Result != nil {
			if ev.Result.Err != nil {
				return nil, ev.Result.Err
			}
			return ev.Result.Records, nil
		}
	}
	return nil, coreerrors.New(coreerrors.CodeInternal, "dispatcher stream closed without result")
}

// commit submits the changeset, retrying transient failures with
// exponential backoff.
func (e *Engine) commit(ctx context.Context, op *Operation) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.RetryAttempts; attempt++ {
		commitCtx, cancel := context.WithTimeout(ctx, e.cfg.CommitTimeout)
		err := e.endpoint.Commit(commitCtx, op.RequestID, op.Changes)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !coreerrors.Retryable(err) {
			break
		}
		select {
		case <-ctx.Done():
			return coreerrors.Wrap(ctx.Err(), coreerrors.CodeTimeout, "commit abandoned")
		case <-time.After(backoffDelay(e.cfg, attempt)):
		}
	}
	return coreerrors.AddContext(lastErr, coreerrors.CtxRequest, op.RequestID)
}

func backoffDelay(cfg Config, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.RetryBaseDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := cfg.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
