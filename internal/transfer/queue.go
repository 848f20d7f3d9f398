package transfer

import "sync/atomic"

// Queue is a fixed set of pending work items drained cooperatively by workers.
// Items are handed out at most once and Clear stops any further hand-out.
type Queue[T any] struct {
	items   []T
	next    atomic.Int64
	cleared atomic.Bool
}

// NewQueue returns a queue holding a copy of items.
func NewQueue[T any](items []T) *Queue[T] {
	q := &Queue[T]{items: make([]T, len(items))}
	copy(q.items, items)

	return q
}

// TryTake returns the next item, or false when the queue is empty or cleared. It never blocks.
func (q *Queue[T]) TryTake() (T, bool) {
	var zero T

	if q.cleared.Load() {
		return zero, false
	}

	i := q.next.Add(1) - 1
	if i >= int64(len(q.items)) {
		return zero, false
	}

	return q.items[i], true
}

// Clear empties the queue. Items already taken are unaffected.
func (q *Queue[T]) Clear() {
	q.cleared.Store(true)
}

// Cleared reports whether Clear was called.
func (q *Queue[T]) Cleared() bool {
	return q.cleared.Load()
}

// Len returns the number of items that can still be taken.
func (q *Queue[T]) Len() int {
	if q.cleared.Load() {
		return 0
	}

	remaining := int64(len(q.items)) - q.next.Load()
	if remaining < 0 {
		return 0
	}

	return int(remaining)
}

// Drain clears the queue and returns the items that were never taken.
func (q *Queue[T]) Drain() []T {
	q.cleared.Store(true)

	i := q.next.Swap(int64(len(q.items)))
	if i >= int64(len(q.items)) {
		return nil
	}

	return q.items[i:]
}
