package queue

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Enqueue once the queue has been closed.
var ErrClosed = errors.New("queue: closed")

// Item is an opaque entity identifier.
type Item = string

// Queue is a multi-producer multi-consumer FIFO of entity identifiers.
//
// Consumers terminate on the closed signal: Next returns io.EOF only after
// Close has been called and every item has been handed out. IsEmpty is a
// hint and must not be used to decide that no more work will arrive.
type Queue struct {
	mu     sync.Mutex
	items  []Item
	closed bool

	// ready is closed and replaced whenever the queue changes, waking
	// consumers blocked in Next.
	ready chan struct{}
}

// New creates an open queue seeded with items.
func New(items ...Item) *Queue {
	q := &Queue{ready: make(chan struct{})}
	q.items = append(q.items, items...)
	return q
}

// Enqueue appends an item. It returns ErrClosed after Close.
func (q *Queue) Enqueue(item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.notifyLocked()
	return nil
}

// TryDequeue removes and returns the head of the queue without blocking.
// ok is false when the queue is currently empty.
func (q *Queue) TryDequeue() (item Item, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Next blocks until an item is available and returns it.
// Returns io.EOF when the queue is closed and drained.
// Returns the context error if ctx is cancelled first.
func (q *Queue) Next(ctx context.Context) (Item, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		q.mu.Lock()
		if item, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return "", io.EOF
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ready:
		}
	}
}

// Close signals that no further items will be enqueued. Items already in
// the queue are still handed out. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notifyLocked()
}

// IsEmpty reports whether the queue currently holds no items.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) popLocked() (Item, bool) {
	if len(q.items) == 0 {
		return "", false
	}
	item := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return item, true
}

func (q *Queue) notifyLocked() {
	close(q.ready)
	q.ready = make(chan struct{})
}
