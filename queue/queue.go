// Package queue implements the bounded, blocking FIFO used to hand
// captured requests over to the duplicating workers.
//
// Producers calling Push are blocked while the queue is at its maximum
// size, nothing is dropped. Consumers calling Pop are blocked while the
// queue is empty. The queue does not know about stopping: shutting
// down the consumers is done by pushing one request.Stop for each of
// them.
package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/dup/request"
)

const (
	DefaultMinSize = 100
	DefaultMaxSize = 1000
)

// ErrInvalidBounds is returned when the maximum is lower than the
// minimum, or the maximum is not positive.
var ErrInvalidBounds = errors.New("invalid queue bounds")

// Status reports the current state of a queue. MinSize is the backlog
// threshold, MaxSize is the capacity.
type Status struct {
	Size    int
	MinSize int
	MaxSize int
}

// Queue is a multi-producer, multi-consumer FIFO of request items.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    *ring
	minSize  int
	maxSize  int
}

func checkBounds(minSize, maxSize int) error {
	if minSize < 0 || maxSize < 1 || maxSize < minSize {
		return fmt.Errorf("%w: min %d, max %d", ErrInvalidBounds, minSize, maxSize)
	}

	return nil
}

// New creates a queue. The maximum size is the capacity, pushing to a
// queue holding that many items blocks. The minimum size is the backlog
// above which the worker pool considers the consumers too few.
func New(minSize, maxSize int) (*Queue, error) {
	if err := checkBounds(minSize, maxSize); err != nil {
		return nil, err
	}

	q := &Queue{
		items:   newRing(maxSize),
		minSize: minSize,
		maxSize: maxSize,
	}

	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q, nil
}

// SetBounds changes the bounds of the queue. It is meant to be called
// during configuration, but it is safe to call it any time: items
// already in the queue are kept, even when there are more of them than
// the new maximum.
func (q *Queue) SetBounds(minSize, maxSize int) error {
	if err := checkBounds(minSize, maxSize); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.minSize = minSize
	q.maxSize = maxSize
	q.items = q.items.resize(maxSize)
	q.notFull.Broadcast()
	return nil
}

// Push appends an item to the queue, blocking while the queue is full.
func (q *Queue) Push(it request.Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.size >= q.maxSize || q.items.full() {
		q.notFull.Wait()
	}

	q.items.enqueue(it)
	q.notEmpty.Signal()
}

// Pop removes the oldest item from the queue, blocking while the queue
// is empty.
func (q *Queue) Pop() request.Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.size == 0 {
		q.notEmpty.Wait()
	}

	it := q.items.dequeueOldest()
	q.notFull.Signal()
	return it
}

// Len returns the number of items waiting in the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.size
}

// Status returns a snapshot of the queue state.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		Size:    q.items.size,
		MinSize: q.minSize,
		MaxSize: q.maxSize,
	}
}
