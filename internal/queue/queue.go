// Package queue provides the FIFO collection that holds pending requests
// between submission and execution.
package queue

import "sync"

// Queue is an unbounded, ordered collection safe for concurrent use.
//
// Items are never inspected, de-duplicated or reordered. [Queue.DrainAll]
// hands the whole contents to a single caller and empties the queue in one
// step, so an item is drained at most once; items enqueued afterwards stay
// for the next drain.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// New creates an empty [Queue].
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Enqueue appends v to the end of the queue.
func (q *Queue[T]) Enqueue(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

// DrainAll returns every queued item in submission order and empties the
// queue. Returns nil when the queue is empty.
func (q *Queue[T]) DrainAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Restore puts previously drained items back at the front of the queue,
// ahead of anything enqueued since the drain.
func (q *Queue[T]) Restore(items []T) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	restored := make([]T, 0, len(items)+len(q.items))
	restored = append(restored, items...)
	restored = append(restored, q.items...)
	q.items = restored
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
