package orchestrator

import (
	"context"
	"sync/atomic"
)

const (
	runQueued int32 = iota
	runStarted
	runCancelled
)

// run is one queued or executing stage of a job
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32
}

// begin claims the run for execution. It fails when the run was cancelled
// while still queued.
func (r *run) begin() bool {
	return r.state.CompareAndSwap(runQueued, runStarted)
}

// stop cancels the run and waits for it when it is already executing
func (r *run) stop() {
	r.cancel()
	if r.state.CompareAndSwap(runQueued, runCancelled) {
		return
	}
	<-r.done
}

type stageFunc func(ctx context.Context, jobID string)

// enqueue schedules stage for the job on the worker pool
func (o *Orchestrator) enqueue(jobID string, stage stageFunc) bool {
	o.mu.Lock()
	if o.deleting[jobID] {
		o.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(o.baseCtx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	o.active[jobID] = r
	o.mu.Unlock()

	ok := o.pool.Submit(func() {
		defer o.finish(jobID, r)
		if !r.begin() {
			return
		}
		stage(ctx, jobID)
	})
	if !ok {
		o.finish(jobID, r)
	}
	return ok
}

func (o *Orchestrator) finish(jobID string, r *run) {
	r.cancel()
	close(r.done)
	o.mu.Lock()
	if o.active[jobID] == r {
		delete(o.active, jobID)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) activeRun(jobID string) *run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[jobID]
}
