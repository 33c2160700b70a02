// Package ring implements the bounded single-producer/single-consumer
// queues that couple the network and disk goroutines: a "free" ring of
// empty chunks and a "ready" ring of filled chunks. Values are moved,
// never copied.
//
// A plain buffered channel closed by the producer can't distinguish
// "empty and stopped" from "empty and about to receive more" without a
// second nil-check convention at every call site, so Ring makes that
// outcome an explicit return value instead.
package ring

import "sync"

// Ring is a bounded SPSC queue of T that supports an explicit stop
// signal waking any blocked Push/Pop.
type Ring[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []T
	cap      int
	stopped  bool
}

// New creates a Ring with the given capacity.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	r := &Ring[T]{
		items: make([]T, 0, capacity),
		cap:   capacity,
	}
	r.notEmpty = sync.NewCond(&r.mu)
	r.notFull = sync.NewCond(&r.mu)
	return r
}

// Push enqueues v, blocking while the ring is full. Returns false if
// the ring was stopped before v could be enqueued.
func (r *Ring[T]) Push(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.items) >= r.cap && !r.stopped {
		r.notFull.Wait()
	}
	if r.stopped {
		return false
	}

	r.items = append(r.items, v)
	r.notEmpty.Signal()
	return true
}

// Pop dequeues a value, blocking while the ring is empty. Returns
// the zero value and false once the ring has been stopped AND drained.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.items) == 0 && !r.stopped {
		r.notEmpty.Wait()
	}
	if len(r.items) == 0 {
		var zero T
		return zero, false
	}

	v := r.items[0]
	var zero T
	r.items[0] = zero // drop reference so a recycled chunk doesn't linger
	r.items = r.items[1:]
	r.notFull.Signal()
	return v, true
}

// Stop marks the ring stopped and wakes every blocked Push/Pop. Safe
// to call more than once.
func (r *Ring[T]) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	r.notEmpty.Broadcast()
	r.notFull.Broadcast()
}

// Len reports the number of items currently queued.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
