// Package queue is the in-process FIFO that hands accepted job ids to
// pipeline workers.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Enqueue after Close, and by Dequeue once the
// queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue delivers each enqueued id to exactly one Dequeue call, in the order
// the Enqueue calls acquired the lock. It does not deduplicate.
//
// A zero capacity means unbounded. A positive capacity makes Enqueue block
// until space frees up; that backpressure is a deployment choice.
type Queue struct {
	mu       sync.Mutex
	items    []string
	capacity int
	closed   bool

	ready chan struct{} // signalled when items become available
	space chan struct{} // signalled when a slot frees up (bounded only)
	done  chan struct{}
}

func New(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *Queue) Enqueue(ctx context.Context, id string) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.capacity == 0 || len(q.items) < q.capacity {
			q.items = append(q.items, id)
			if q.capacity > 0 && len(q.items) < q.capacity {
				signal(q.space)
			}
			q.mu.Unlock()
			signal(q.ready)
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.space:
		case <-q.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Dequeue blocks until an id is available, ctx is done, or the queue is
// closed with nothing left to drain.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			if len(q.items) > 0 {
				// pass the wake-up on so a second waiter is not stranded
				signal(q.ready)
			}
			q.mu.Unlock()
			if q.capacity > 0 {
				signal(q.space)
			}
			return id, nil
		}
		if q.closed {
			q.mu.Unlock()
			return "", ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Close stops accepting new ids. Queued ids remain deliverable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Capacity() int { return q.capacity }

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
