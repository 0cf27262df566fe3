package queue

import "github.com/zalando/dup/request"

type ring struct {
	items []request.Item
	next  int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{items: make([]request.Item, capacity)}
}

func (r *ring) full() bool {
	return r.size == len(r.items)
}

// enqueue expects that the ring is not full.
func (r *ring) enqueue(it request.Item) {
	r.items[r.next] = it
	r.size++
	r.next++
	if r.next == len(r.items) {
		r.next = 0
	}
}

func (r *ring) dequeueOldest() request.Item {
	i := r.next - r.size
	if i < 0 {
		i += len(r.items)
	}

	var it request.Item
	it, r.items[i] = r.items[i], nil
	r.size--
	return it
}

func (r *ring) rangeOver(f func(request.Item)) {
	start := r.next - r.size
	if start < 0 {
		start = len(r.items) + start
	}

	finish := min(start+r.size, len(r.items))

	for i := start; i < finish; i++ {
		f(r.items[i])
	}

	finish = r.size + start - finish
	start = 0
	for i := start; i < finish; i++ {
		f(r.items[i])
	}
}

// resize returns a ring with the same items in the same order. The
// capacity never drops below the current size.
func (r *ring) resize(capacity int) *ring {
	capacity = max(capacity, r.size)
	if capacity == len(r.items) {
		return r
	}

	rr := newRing(capacity)
	r.rangeOver(rr.enqueue)
	return rr
}
