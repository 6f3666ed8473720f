package feed

import (
	"sync"
)

// Queue is a thread-safe ring buffer that doubles its capacity when it
// reaches 70% full, up to an optional hard limit. With a limit set,
// Enqueue rejects instead of blocking once the queue is full, so a slow
// consumer backpressures producers without stalling them.
type Queue[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int
	tail     int
	depth    int
	capacity int
	limit    int // 0 = unbounded
	closed   bool

	enqueued int64
	dequeued int64
	dropped  int64
	resizes  int
}

// NewQueue creates a queue with the given initial capacity. maxCapacity
// bounds growth; zero means the queue grows without limit.
func NewQueue[T any](initialCapacity, maxCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if maxCapacity > 0 && maxCapacity < initialCapacity {
		maxCapacity = initialCapacity
	}
	q := &Queue[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		limit:    maxCapacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds an item. It reports false when the queue is closed or has
// reached its hard limit.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.depth+1 >= threshold {
		q.grow()
	}
	if q.depth == q.capacity {
		q.dropped++
		return false
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.depth++
	q.enqueued++

	q.cond.Signal()
	return true
}

// Dequeue removes and returns an item, blocking until one is available or
// the queue is closed and drained.
func (q *Queue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.depth == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.depth == 0 {
		var zero T
		return zero, false
	}
	return q.take(), true
}

// TryDequeue removes an item without blocking.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.depth == 0 {
		var zero T
		return zero, false
	}
	return q.take(), true
}

// take must be called with the lock held and depth > 0.
func (q *Queue[T]) take() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % q.capacity
	q.depth--
	q.dequeued++
	return item
}

// Close stops accepting items. Consumers drain the remainder, then Dequeue
// reports false.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the current queue depth.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// QueueStats is a point-in-time snapshot of queue counters.
type QueueStats struct {
	Depth    int
	Capacity int
	Enqueued int64
	Dequeued int64
	Dropped  int64
	Resizes  int
}

// Stats returns current counters.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Depth:    q.depth,
		Capacity: q.capacity,
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

// grow doubles capacity, respecting the hard limit. Must be called with the
// lock held.
func (q *Queue[T]) grow() {
	newCapacity := q.capacity * 2
	if q.limit > 0 && newCapacity > q.limit {
		newCapacity = q.limit
	}
	if newCapacity <= q.capacity {
		return
	}

	newBuf := make([]T, newCapacity)
	if q.depth > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.depth
	q.capacity = newCapacity
	q.resizes++
}
