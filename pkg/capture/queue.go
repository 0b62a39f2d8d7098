package capture

import (
	"sync"
	"sync/atomic"
)

// FrameQueue is a bounded FIFO between one producer and one consumer.
// A push into a full queue is dropped, never blocked; the consumer keeps
// up by draining to the newest item.
type FrameQueue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	dropped  atomic.Uint64
}

// NewFrameQueue creates a queue holding at most capacity items.
func NewFrameQueue[T any](capacity int) *FrameQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue[T]{items: make([]T, 0, capacity), capacity: capacity}
}

// Push appends item. It returns false and leaves the queue unchanged when
// the queue is full.
func (q *FrameQueue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.dropped.Add(1)
		return false
	}
	q.items = append(q.items, item)
	return true
}

// DrainLatest returns the newest item and empties the queue.
func (q *FrameQueue[T]) DrainLatest() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	latest := q.items[len(q.items)-1]
	clear(q.items)
	q.items = q.items[:0]
	return latest, true
}

// Drain empties the queue and returns everything it held, oldest first.
func (q *FrameQueue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := append([]T(nil), q.items...)
	clear(q.items)
	q.items = q.items[:0]
	return out
}

// Len returns the current number of items.
func (q *FrameQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the capacity.
func (q *FrameQueue[T]) Cap() int { return q.capacity }

// Dropped returns how many pushes were rejected.
func (q *FrameQueue[T]) Dropped() uint64 { return q.dropped.Load() }
