package queue

import (
	"sync"
)

// Queue is a generic thread-safe FIFO queue. A bounded queue keeps at most
// capacity items and drops the oldest ones when more are pushed.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	dropped  uint64
}

// New creates a new empty unbounded queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items: make([]T, 0),
	}
}

// NewBounded creates a queue holding at most capacity items. A capacity
// below one yields an unbounded queue.
func NewBounded[T any](capacity int) *Queue[T] {
	q := New[T]()
	if capacity > 0 {
		q.capacity = capacity
	}
	return q
}

// Push appends items to the queue, evicting the oldest items of a full
// bounded queue.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	if q.capacity > 0 && len(q.items) > q.capacity {
		over := len(q.items) - q.capacity
		q.dropped += uint64(over)
		var zero T
		for i := range over {
			q.items[i] = zero
		}
		q.items = q.items[over:]
	}
}

// Pop removes and returns the first item. Returns zero value if empty.
func (q *Queue[T]) Pop() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

// Empty returns true if the queue has no items.
func (q *Queue[T]) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items a bounded queue has evicted so far.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// GetAndEmpty returns all items and clears the queue.
func (q *Queue[T]) GetAndEmpty() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]T, 0, len(result))
	return result
}

// Requeue puts items back at the front, e.g. after a failed batch write.
// A bounded queue keeps the newest items when they no longer fit.
func (q *Queue[T]) Requeue(items []T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	merged := make([]T, 0, len(items)+len(q.items))
	merged = append(merged, items...)
	merged = append(merged, q.items...)
	if q.capacity > 0 && len(merged) > q.capacity {
		over := len(merged) - q.capacity
		q.dropped += uint64(over)
		merged = merged[over:]
	}
	q.items = merged
}
