package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zalando/dup/request"
)

func paths(r *ring) []string {
	var p []string
	r.rangeOver(func(it request.Item) {
		p = append(p, it.(*request.Info).Path)
	})

	return p
}

func TestRingRangeOverWrapped(t *testing.T) {
	r := newRing(3)
	r.enqueue(info("a"))
	r.enqueue(info("b"))
	r.enqueue(info("c"))
	r.dequeueOldest()
	r.enqueue(info("d"))

	assert.True(t, r.full())
	assert.Equal(t, []string{"b", "c", "d"}, paths(r))
}

func TestRingResize(t *testing.T) {
	r := newRing(3)
	r.enqueue(info("a"))
	r.enqueue(info("b"))
	r.dequeueOldest()
	r.enqueue(info("c"))
	r.enqueue(info("d"))

	grown := r.resize(5)
	assert.Equal(t, 5, len(grown.items))
	assert.Equal(t, []string{"b", "c", "d"}, paths(grown))

	shrunk := grown.resize(1)
	assert.Equal(t, 3, len(shrunk.items))
	assert.Equal(t, []string{"b", "c", "d"}, paths(shrunk))

	assert.Same(t, shrunk, shrunk.resize(2))
}
