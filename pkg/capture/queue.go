package capture

import (
	"sync"
	"sync/atomic"
)

// BufferQueue is a bounded FIFO of audio buffers. Pushing to a full queue
// evicts the oldest buffer and increments the dropped counter, so producers
// never block on slow consumers.
type BufferQueue struct {
	ch      chan *AudioBuffer
	dropped int64
	closed  int32
	mu      sync.Mutex
}

// NewBufferQueue creates a queue with the given depth
func NewBufferQueue(depth int) *BufferQueue {
	if depth <= 0 {
		depth = 1
	}
	return &BufferQueue{
		ch: make(chan *AudioBuffer, depth),
	}
}

// Push enqueues a buffer, evicting the oldest entry when full.
// It returns true when an eviction happened.
func (q *BufferQueue) Push(buf *AudioBuffer) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if atomic.LoadInt32(&q.closed) == 1 {
		return false
	}

	evicted := false
	for {
		select {
		case q.ch <- buf:
			return evicted
		default:
			// Full: drop oldest-first, never block the producer.
			select {
			case <-q.ch:
				atomic.AddInt64(&q.dropped, 1)
				evicted = true
			default:
			}
		}
	}
}

// C returns the receive side of the queue
func (q *BufferQueue) C() <-chan *AudioBuffer {
	return q.ch
}

// Dropped returns how many buffers have been evicted so far
func (q *BufferQueue) Dropped() int64 {
	return atomic.LoadInt64(&q.dropped)
}

// Len returns the number of buffers currently queued
func (q *BufferQueue) Len() int {
	return len(q.ch)
}

// Close closes the queue. Subsequent pushes are discarded.
func (q *BufferQueue) Close() {
	if atomic.CompareAndSwapInt32(&q.closed, 0, 1) {
		q.mu.Lock()
		close(q.ch)
		q.mu.Unlock()
	}
}
