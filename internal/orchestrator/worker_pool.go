package orchestrator

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool runs job stage tasks on a fixed number of goroutines behind a
// bounded queue.
type WorkerPool struct {
	workers  int
	jobQueue chan func()
	wg       sync.WaitGroup
	once     sync.Once

	mu     sync.RWMutex
	closed bool

	totalJobs     atomic.Int64
	completedJobs atomic.Int64
	activeWorkers atomic.Int64
}

// WorkerPoolStats is a point-in-time view of the pool counters
type WorkerPoolStats struct {
	Workers       int   `json:"workers"`
	Queued        int   `json:"queued"`
	TotalJobs     int64 `json:"total_jobs"`
	CompletedJobs int64 `json:"completed_jobs"`
	ActiveWorkers int64 `json:"active_workers"`
}

// NewWorkerPool creates a pool with the given number of workers and queue
// capacity. Non-positive values fall back to runtime.NumCPU() workers and a
// queue twice that size.
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan func(), queueSize),
	}
}

// Start launches the workers. Calling it again has no effect.
func (wp *WorkerPool) Start() {
	wp.once.Do(func() {
		for i := 0; i < wp.workers; i++ {
			go wp.worker()
		}
	})
}

func (wp *WorkerPool) worker() {
	for job := range wp.jobQueue {
		wp.activeWorkers.Add(1)
		job()
		wp.activeWorkers.Add(-1)
		wp.completedJobs.Add(1)
		wp.wg.Done()
	}
}

// Submit queues a task without blocking. It returns false when the queue is
// full or the pool is closed.
func (wp *WorkerPool) Submit(job func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return false
	}
	wp.wg.Add(1)
	select {
	case wp.jobQueue <- job:
		wp.totalJobs.Add(1)
		return true
	default:
		wp.wg.Done()
		return false
	}
}

// Wait blocks until every accepted task has finished
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Close stops accepting tasks. Queued tasks still run.
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.closed {
		return
	}
	wp.closed = true
	close(wp.jobQueue)
}

// GetStats returns the current counters
func (wp *WorkerPool) GetStats() WorkerPoolStats {
	return WorkerPoolStats{
		Workers:       wp.workers,
		Queued:        len(wp.jobQueue),
		TotalJobs:     wp.totalJobs.Load(),
		CompletedJobs: wp.completedJobs.Load(),
		ActiveWorkers: wp.activeWorkers.Load(),
	}
}
