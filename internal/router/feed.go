package router

import (
	"context"
	"sync"
)

// Feed is a bounded, thread-safe FIFO of observed items. Publishing never
// blocks: when the ring is full the oldest item is dropped, so a slow consumer
// loses history instead of stalling the transport's read goroutine.
type Feed[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	// Stats
	published int64
	delivered int64
	dropped   int64
}

// FeedStats contains feed statistics.
type FeedStats struct {
	Count     int
	Capacity  int
	Published int64
	Delivered int64
	Dropped   int64
}

// NewFeed creates a feed holding at most capacity items.
func NewFeed[T any](capacity int) *Feed[T] {
	if capacity < 1 {
		capacity = 1
	}
	f := &Feed[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Publish appends item, evicting the oldest item when full.
// Returns false if the feed is closed.
func (f *Feed[T]) Publish(item T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}

	if f.count == f.capacity {
		var zero T
		f.buf[f.head] = zero
		f.head = (f.head + 1) % f.capacity
		f.count--
		f.dropped++
	}

	f.buf[f.tail] = item
	f.tail = (f.tail + 1) % f.capacity
	f.count++
	f.published++

	f.cond.Signal()
	return true
}

// Receive removes and returns the oldest item, blocking until one is
// available, the feed is closed or ctx is done. The bool is false when no
// item was returned.
func (f *Feed[T]) Receive(ctx context.Context) (T, bool) {
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	defer stop()

	f.mu.Lock()
	defer f.mu.Unlock()

	for f.count == 0 && !f.closed && ctx.Err() == nil {
		f.cond.Wait()
	}

	if f.count == 0 {
		var zero T
		return zero, false
	}
	return f.popLocked(), true
}

// TryReceive returns the oldest item without blocking.
func (f *Feed[T]) TryReceive() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.count == 0 {
		var zero T
		return zero, false
	}
	return f.popLocked(), true
}

// DrainTo removes up to max items (all when max <= 0).
func (f *Feed[T]) DrainTo(max int) []T {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.count == 0 {
		return nil
	}

	n := f.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = f.popLocked()
	}
	return result
}

// Close closes the feed. Receivers get the remaining items, then false.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.cond.Broadcast()
}

// Len returns the number of buffered items.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Stats returns feed statistics.
func (f *Feed[T]) Stats() FeedStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FeedStats{
		Count:     f.count,
		Capacity:  f.capacity,
		Published: f.published,
		Delivered: f.delivered,
		Dropped:   f.dropped,
	}
}

// popLocked removes the head item. Must be called with lock held and count > 0.
func (f *Feed[T]) popLocked() T {
	item := f.buf[f.head]
	var zero T
	f.buf[f.head] = zero // Clear reference for GC
	f.head = (f.head + 1) % f.capacity
	f.count--
	f.delivered++
	return item
}
