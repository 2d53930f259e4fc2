// Package dispatch runs large id recomputations off the interactive
// path: records are copied snapshots, work proceeds in fixed-size chunks
// with progress events, and chunking never changes the computed output.
package dispatch

import (
	"context"
	"sync"
	"time"

	coreerrors "arbor/internal/core/errors"
	"arbor/internal/core/structid"
	"arbor/internal/shared/observability"
)

// MinimalRecord is the serializable per-node snapshot crossing the
// dispatcher boundary. No live references; callers re-join payload
// handles by id afterwards.
type MinimalRecord struct {
	ID          string
	ParentID    string
	StructureID structid.ID
	SortKey     string
}

// Tag names the operation to run.
type Tag string

const (
	TagBuildTree       Tag = "build-tree"
	TagComputeIDs      Tag = "compute-ids"
	TagRecalcSubtree   Tag = "recalc-subtree"
	TagValidateIDs     Tag = "validate-ids"
	TagUpdateAfterMove Tag = "update-after-move"
)

// Remap is one prefix rewrite applied by update-after-move.
type Remap struct {
	From structid.ID
	To   structid.ID
}

// Job is one unit of background work. Key identifies the logical
// operation: a newer job with the same key supersedes the outstanding one.
type Job struct {
	Key     string
	Tag     Tag
	Records []MinimalRecord

	// Remaps parameterizes update-after-move.
	Remaps []Remap

	// RootID parameterizes recalc-subtree: that node's id is kept as the
	// renumbering base.
	RootID string
}

// Progress reports how far a running job has come.
type Progress struct {
	Processed int
	Total     int
}

// Result carries the complete output of a finished job.
type Result struct {
	Records []MinimalRecord
	Report  *structid.Report
	Err     error
}

// Event is either a progress update or the final result.
type Event struct {
	Progress *Progress
	Result   *Result
}

// progressEvery controls how many chunks pass between progress events.
const progressEvery = 2

// Dispatcher schedules jobs on worker goroutines. One job per logical
// key is in flight at a time; submitting a new one cancels its
// predecessor.
type Dispatcher struct {
	chunkSize  int
	queueDepth int
	timeout    time.Duration

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	closed   bool
}

// New builds a dispatcher. queueDepth bounds each job's event buffer:
// progress events beyond it are dropped, the final result never is.
func New(chunkSize, queueDepth int, timeout time.Duration) *Dispatcher {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if queueDepth <= 0 {
		queueDepth = 8
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		chunkSize:  chunkSize,
		queueDepth: queueDepth,
		timeout:    timeout,
		inflight:   make(map[string]context.CancelFunc),
	}
}

// Submit starts a job and returns its event stream. The channel delivers
// zero or more progress events and exactly one final result, then closes.
func (d *Dispatcher) Submit(ctx context.Context, job Job) (<-chan Event, error) {
	op, err := newOperation(job)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, coreerrors.New(coreerrors.CodeInternal, "dispatcher closed")
	}
	if cancel, ok := d.inflight[job.Key]; ok {
		cancel()
	}
	jobCtx, cancel := context.WithTimeout(ctx, d.timeout)
	d.inflight[job.Key] = cancel
	d.mu.Unlock()

	events := make(chan Event, d.queueDepth)
	go func() {
		defer close(events)
		defer func() {
			d.mu.Lock()
			delete(d.inflight, job.Key)
			d.mu.Unlock()
			cancel()
		}()

		res := d.run(jobCtx, job, op, events)
		outcome := "ok"
		if res.Err != nil {
			outcome = "error"
		}
		observability.DispatchJobsTotal.WithLabelValues(string(job.Tag), outcome).Inc()
		events <- Event{Result: &res}
	}()
	return events, nil
}

func (d *Dispatcher) run(ctx context.Context, job Job, op operation, events chan<- Event) Result {
	total := len(job.Records)
	processed := 0
	chunkIndex := 0

	for processed < total {
		select {
		case <-ctx.Done():
			err := ctx.Err()
			code := coreerrors.CodeTimeout
			if err == context.Canceled {
				code = coreerrors.CodeConflict
			}
			return Result{Err: coreerrors.Wrap(err, code, "job aborted")}
		default:
		}

		end := processed + d.chunkSize
		if end > total {
			end = total
		}
		start := time.Now()
		if err := op.process(job.Records[processed:end]); err != nil {
			return Result{Err: err}
		}
		observability.DispatchChunkDuration.Observe(time.Since(start).Seconds())
		processed = end
		chunkIndex++

		if chunkIndex%progressEvery == 0 && processed < total {
			select {
			case events <- Event{Progress: &Progress{Processed: processed, Total: total}}:
			default:
			}
		}
	}
	return op.result()
}

// RunSync executes the identical algorithm inline, chunked the same way,
// for callers falling back when the dispatcher is unavailable.
func (d *Dispatcher) RunSync(job Job) Result {
	op, err := newOperation(job)
	if err != nil {
		return Result{Err: err}
	}
	total := len(job.Records)
	for processed := 0; processed < total; {
		end := processed + d.chunkSize
		if end > total {
			end = total
		}
		if err := op.process(job.Records[processed:end]); err != nil {
			return Result{Err: err}
		}
		processed = end
	}
	return op.result()
}

// Close cancels every in-flight job and rejects further submissions.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for key, cancel := range d.inflight {
		cancel()
		delete(d.inflight, key)
	}
}
