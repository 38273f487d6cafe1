// Package queue provides the bounded hand-off between manifest enumeration
// and the download orchestrator.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("queue: closed")

// Queue is a bounded FIFO of batches. Pop reports end of input only once the
// queue has been closed and every buffered batch has been taken.
type Queue[T any] struct {
	mu       sync.RWMutex
	closed   bool
	items    chan []T
	done     chan struct{}
	doneOnce sync.Once
}

// New returns a queue holding at most capacity batches.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{items: make(chan []T, capacity), done: make(chan struct{})}
}

// Push blocks while the queue is full. A push blocked when Close is called
// returns ErrClosed.
func (q *Queue[T]) Push(ctx context.Context, batch []T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.items <- batch:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop blocks until a batch is available. ok is false once the queue is closed and drained.
func (q *Queue[T]) Pop(ctx context.Context) (batch []T, ok bool, err error) {
	select {
	case batch, ok = <-q.items:
		return batch, ok, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Close marks the end of input. It may be called from any goroutine; blocked
// pushes are released before the item channel is closed.
func (q *Queue[T]) Close() {
	q.doneOnce.Do(func() { close(q.done) })
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.items)
}

// Len reports the number of buffered batches.
func (q *Queue[T]) Len() int {
	return len(q.items)
}
