package orchestrator

import (
	"sync"
	"testing"
)

func TestNewWorkerPool_Defaults(t *testing.T) {
	pool := NewWorkerPool(0, 0)
	stats := pool.GetStats()
	if stats.Workers <= 0 {
		t.Errorf("Expected workers to default to NumCPU, got %d", stats.Workers)
	}
	if cap(pool.jobQueue) != stats.Workers*2 {
		t.Errorf("Expected queue capacity %d, got %d", stats.Workers*2, cap(pool.jobQueue))
	}
}

func TestWorkerPool_Submit(t *testing.T) {
	pool := NewWorkerPool(2, 10)
	pool.Start()
	defer pool.Close()

	var counter int
	var mu sync.Mutex

	for i := 0; i < 5; i++ {
		if !pool.Submit(func() {
			mu.Lock()
			counter++
			mu.Unlock()
		}) {
			t.Fatalf("Expected submit %d to be accepted", i)
		}
	}

	pool.Wait()

	if counter != 5 {
		t.Errorf("Expected counter to be 5, got %d", counter)
	}
}

func TestWorkerPool_StartOnce(t *testing.T) {
	pool := NewWorkerPool(2, 4)

	pool.Start()
	pool.Start()
	defer pool.Close()

	var executed bool
	pool.Submit(func() {
		executed = true
	})

	pool.Wait()

	if !executed {
		t.Error("Expected job to be executed")
	}
}

func TestWorkerPool_QueueFull(t *testing.T) {
	// not started: nothing drains the queue
	pool := NewWorkerPool(1, 2)
	defer pool.Close()

	if !pool.Submit(func() {}) || !pool.Submit(func() {}) {
		t.Fatal("Expected the first two submissions to be queued")
	}
	if pool.Submit(func() {}) {
		t.Error("Expected submission to a full queue to be rejected")
	}
	if stats := pool.GetStats(); stats.TotalJobs != 2 || stats.Queued != 2 {
		t.Errorf("Expected 2 queued jobs, got %+v", stats)
	}

	pool.Start()
	pool.Wait()
}

func TestWorkerPool_CloseRejectsSubmissions(t *testing.T) {
	pool := NewWorkerPool(2, 4)
	pool.Start()

	var executed bool
	pool.Submit(func() {
		executed = true
	})
	pool.Wait()
	pool.Close()
	pool.Close()

	if !executed {
		t.Error("Expected job to be executed before close")
	}
	if pool.Submit(func() {}) {
		t.Error("Expected submit after close to be rejected")
	}
}

func TestWorkerPool_Stats(t *testing.T) {
	pool := NewWorkerPool(4, 20)
	pool.Start()
	defer pool.Close()

	const numJobs = 5
	for i := 0; i < numJobs; i++ {
		pool.Submit(func() {
			for j := 0; j < 1000; j++ {
				_ = j * j
			}
		})
	}

	pool.Wait()

	stats := pool.GetStats()
	if stats.TotalJobs != numJobs {
		t.Errorf("Expected %d total jobs, got %d", numJobs, stats.TotalJobs)
	}
	if stats.CompletedJobs != numJobs {
		t.Errorf("Expected %d completed jobs, got %d", numJobs, stats.CompletedJobs)
	}
	if stats.ActiveWorkers != 0 {
		t.Errorf("Expected 0 active workers after completion, got %d", stats.ActiveWorkers)
	}
}

func TestWorkerPool_ConcurrentStatsAccess(t *testing.T) {
	pool := NewWorkerPool(2, 32)
	pool.Start()
	defer pool.Close()

	const numJobs = 20
	var wg sync.WaitGroup

	for i := 0; i < numJobs; i++ {
		pool.Submit(func() {
			for j := 0; j < 5000; j++ {
				_ = j * j
			}
		})
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = pool.GetStats()
			}
		}()
	}

	wg.Wait()
	pool.Wait()

	if stats := pool.GetStats(); stats.CompletedJobs != numJobs {
		t.Errorf("Expected %d completed jobs, got %d", numJobs, stats.CompletedJobs)
	}
}
