// Package queue provides a growable FIFO used to hand work between a
// producer that must never block and a batching consumer.
package queue

import "sync"

// growThreshold is the fill percentage at which the ring doubles.
const growThreshold = 70

// Queue is a thread-safe ring buffer that doubles its capacity when it
// reaches 70% full, up to an optional limit. Consumers wait on Ready and
// take items in batches with Drain.
type Queue[T any] struct {
	mu     sync.Mutex
	ring   []T
	head   int
	count  int
	limit  int
	closed bool
	ready  chan struct{}

	pushed  int64
	drained int64
	dropped int64
	resizes int
}

// Stats contains queue statistics.
type Stats struct {
	Len      int
	Capacity int
	Pushed   int64
	Drained  int64
	Dropped  int64
	Resizes  int
}

// New creates a queue with the given initial capacity. A positive limit
// caps the capacity; pushes beyond it are dropped. Zero means unbounded.
func New[T any](initial, limit int) *Queue[T] {
	if initial < 1 {
		initial = 1
	}
	if limit > 0 && initial > limit {
		initial = limit
	}
	return &Queue[T]{
		ring:  make([]T, initial),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends item without blocking. It returns false if the queue is
// closed or full at its limit.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if (q.count+1)*100 >= len(q.ring)*growThreshold {
		q.grow()
	}
	if q.count == len(q.ring) {
		q.dropped++
		return false
	}

	q.ring[(q.head+q.count)%len(q.ring)] = item
	q.count++
	q.pushed++

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled after a push. A single signal may cover many items.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Drain removes up to max items in FIFO order. max <= 0 drains everything.
func (q *Queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}

	var zero T
	out := make([]T, n)
	for i := range out {
		out[i] = q.ring[q.head]
		q.ring[q.head] = zero
		q.head = (q.head + 1) % len(q.ring)
	}
	q.count -= n
	q.drained += int64(n)

	// Leftovers need another pass.
	if q.count > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return out
}

// Close rejects further pushes. Items already queued remain drainable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:      q.count,
		Capacity: len(q.ring),
		Pushed:   q.pushed,
		Drained:  q.drained,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

// grow doubles the ring, bounded by limit. Must be called with lock held.
func (q *Queue[T]) grow() {
	size := len(q.ring) * 2
	if q.limit > 0 && size > q.limit {
		size = q.limit
	}
	if size <= len(q.ring) {
		return
	}

	ring := make([]T, size)
	n := copy(ring, q.ring[q.head:min(q.head+q.count, len(q.ring))])
	if n < q.count {
		copy(ring[n:], q.ring[:q.count-n])
	}

	q.ring = ring
	q.head = 0
	q.resizes++
}
