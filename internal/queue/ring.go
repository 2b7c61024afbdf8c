// Package queue provides the bounded, drop-oldest buffer used between the
// workflow worker and the transport, telemetry and overlay workers.
package queue

import (
	"context"
	"sync"
)

// Ring is a fixed-capacity FIFO. Pushing into a full ring evicts the oldest
// entry so producers never block.
type Ring[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int
	size    int
	dropped uint64
	notify  chan struct{}
	onDrop  func()
}

// NewRing builds a ring holding at most capacity items. Capacity below one is raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &Ring[T]{
		items:  make([]T, capacity),
		notify: make(chan struct{}, 1),
	}
}

// OnDrop registers a callback invoked (outside the lock) for every evicted item.
func (r *Ring[T]) OnDrop(fn func()) {
	r.mu.Lock()
	r.onDrop = fn
	r.mu.Unlock()
}

// Push appends v and reports whether an older item was evicted to make room.
func (r *Ring[T]) Push(v T) bool {
	r.mu.Lock()
	evicted := false
	capacity := len(r.items)
	if r.size == capacity {
		var zero T
		r.items[r.head] = zero
		r.head = (r.head + 1) % capacity
		r.size--
		r.dropped++
		evicted = true
	}
	r.items[(r.head+r.size)%capacity] = v
	r.size++
	onDrop := r.onDrop
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}

	if evicted && onDrop != nil {
		onDrop()
	}

	return evicted
}

// PushFront puts v back at the head so it is popped next, for an item taken
// but not consumed. A full ring already holds newer items, so v counts as the
// oldest one and is dropped. It reports whether v was dropped.
func (r *Ring[T]) PushFront(v T) bool {
	r.mu.Lock()
	capacity := len(r.items)
	if r.size == capacity {
		r.dropped++
		onDrop := r.onDrop
		r.mu.Unlock()

		if onDrop != nil {
			onDrop()
		}
		return true
	}

	r.head = (r.head - 1 + capacity) % capacity
	r.items[r.head] = v
	r.size++
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}

	return false
}

// Pop removes and returns the oldest item.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	v := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--

	return v, true
}

// Wait blocks until an item is available or ctx is done.
func (r *Ring[T]) Wait(ctx context.Context) (T, error) {
	for {
		if v, ok := r.Pop(); ok {
			return v, nil
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-r.notify:
		}
	}
}

// Drain removes and returns every buffered item in FIFO order.
func (r *Ring[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, 0, r.size)
	var zero T
	for r.size > 0 {
		out = append(out, r.items[r.head])
		r.items[r.head] = zero
		r.head = (r.head + 1) % len(r.items)
		r.size--
	}

	return out
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Dropped returns how many items have been evicted since creation.
func (r *Ring[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
