package queue

import "sync"

// FIFO is a thread-safe, unbounded first-in first-out queue.
type FIFO[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int // read position
	count  int
	closed bool

	// Stats
	totalPushed int64
	totalPopped int64
	growCount   int
}

// Stats contains queue statistics.
type Stats struct {
	Len         int
	Capacity    int
	TotalPushed int64
	TotalPopped int64
	GrowCount   int
}

// New creates a queue with the given initial capacity.
func New[T any](initialCapacity int) *FIFO[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &FIFO[T]{buf: make([]T, initialCapacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. Returns false if the queue is closed.
func (q *FIFO[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.count == len(q.buf) {
		q.grow()
	}

	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.totalPushed++
	q.cond.Signal()
	return true
}

// Pop removes and returns the oldest item, blocking until one is available.
// Returns false once the queue is closed. Items still queued at Close are
// discarded, so nothing is handed out after Close returns.
func (q *FIFO[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		var zero T
		return zero, false
	}
	return q.take(), true
}

// Close wakes all waiters and rejects further pushes. Safe to call twice.
func (q *FIFO[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for i := range q.buf {
		var zero T
		q.buf[i] = zero
	}
	q.count = 0
	q.cond.Broadcast()
}

// Stats returns queue statistics.
func (q *FIFO[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:         q.count,
		Capacity:    len(q.buf),
		TotalPushed: q.totalPushed,
		TotalPopped: q.totalPopped,
		GrowCount:   q.growCount,
	}
}

// take pops the head. Must be called with lock held and count > 0.
func (q *FIFO[T]) take() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // release reference for GC
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.totalPopped++
	return item
}

// grow doubles the ring, unwrapping it so head is 0. Must be called with lock held.
func (q *FIFO[T]) grow() {
	next := make([]T, len(q.buf)*2)
	n := copy(next, q.buf[q.head:])
	copy(next[n:], q.buf[:q.head])

	q.buf = next
	q.head = 0
	q.growCount++
}
