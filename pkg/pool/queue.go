package pool

import "sync/atomic"

// Queue is an unbounded lock-free multi-producer multi-consumer FIFO
// (Michael and Scott, 1996). Items enqueued by one goroutine are dequeued in
// the order they were enqueued; there is no ordering between producers.
type Queue[T any] struct {
	head   atomic.Pointer[queueNode[T]]
	tail   atomic.Pointer[queueNode[T]]
	length atomic.Int64
}

type queueNode[T any] struct {
	value T
	next  atomic.Pointer[queueNode[T]]
}

// NewQueue returns an empty queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	sentinel := &queueNode[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// Enqueue appends v. It never blocks.
func (q *Queue[T]) Enqueue(v T) {
	n := &queueNode[T]{value: v}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next != nil {
			// Tail is lagging; help it forward.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.length.Add(1)
			return
		}
	}
}

// Dequeue removes and returns the oldest item. ok is false when the queue
// is empty.
func (q *Queue[T]) Dequeue() (v T, ok bool) {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}
		if head == tail {
			if next == nil {
				return v, false
			}
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if q.head.CompareAndSwap(head, next) {
			// next is now the sentinel and only this goroutine touches its
			// value; clear it so the item is not retained.
			v = next.value
			var zero T
			next.value = zero
			q.length.Add(-1)
			return v, true
		}
	}
}

// Len is the approximate number of queued items.
func (q *Queue[T]) Len() int {
	if n := q.length.Load(); n > 0 {
		return int(n)
	}
	return 0
}
