package util

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Task represents a unit of work to be executed
type Task func()

// WorkerPool runs tasks on a fixed set of goroutines. Model inference can
// block for hundreds of milliseconds, so upstream stages submit work here
// instead of calling into a backend directly.
type WorkerPool struct {
	workers   int
	taskQueue chan Task
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	started   int32
	stats     PoolStats
}

// PoolStats tracks pool counters
type PoolStats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksRejected  int64
}

// NewWorkerPool creates a pool with the given worker count and queue size
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = workers * 8
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		workers:   workers,
		taskQueue: make(chan Task, queueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *WorkerPool) Start() {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			task()
			atomic.AddInt64(&p.stats.TasksCompleted, 1)
		case <-p.ctx.Done():
			// Drain remaining tasks so queued audio is not silently lost.
			for {
				select {
				case task, ok := <-p.taskQueue:
					if !ok {
						return
					}
					task()
					atomic.AddInt64(&p.stats.TasksCompleted, 1)
				default:
					return
				}
			}
		}
	}
}

// Submit enqueues a task without blocking. Returns false when the queue is
// full or the pool is stopped.
func (p *WorkerPool) Submit(task Task) bool {
	if task == nil {
		return false
	}

	select {
	case <-p.ctx.Done():
		atomic.AddInt64(&p.stats.TasksRejected, 1)
		return false
	default:
	}

	select {
	case p.taskQueue <- task:
		atomic.AddInt64(&p.stats.TasksSubmitted, 1)
		return true
	default:
		atomic.AddInt64(&p.stats.TasksRejected, 1)
		return false
	}
}

// Drain waits until all submitted tasks have completed or the timeout
// expires. Returns true when the queue fully drained.
func (p *WorkerPool) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&p.stats.TasksCompleted) >= atomic.LoadInt64(&p.stats.TasksSubmitted) &&
			len(p.taskQueue) == 0 {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// Stop cancels the pool and waits for workers to exit
func (p *WorkerPool) Stop() {
	p.cancel()
	if atomic.LoadInt32(&p.started) == 1 {
		p.wg.Wait()
	}
}

// Stats returns a snapshot of pool counters
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		TasksSubmitted: atomic.LoadInt64(&p.stats.TasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.stats.TasksCompleted),
		TasksRejected:  atomic.LoadInt64(&p.stats.TasksRejected),
	}
}
