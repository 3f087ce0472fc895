// Package delivery provides the two per-session work queues: an unbounded
// ordered queue and a single-slot queue that sheds work while busy.
package delivery

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned when pushing to a queue whose session has ended.
	ErrClosed = errors.New("delivery queue closed")
	// ErrBusy is returned by Slot.TryPush while the single slot is occupied.
	ErrBusy = errors.New("delivery slot busy")
)

// Ordered is an unbounded FIFO drained by exactly one Run loop.
type Ordered[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewOrdered constructs an empty ordered queue.
func NewOrdered[T any]() *Ordered[T] {
	return &Ordered[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Push appends item; it never blocks and fails only after Close.
func (q *Ordered[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len reports the number of queued, not yet delivered items.
func (q *Ordered[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue and discards anything still queued.
func (q *Ordered[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}

// Run hands items to handle in push order until Close or ctx cancellation.
func (q *Ordered[T]) Run(ctx context.Context, handle func(context.Context, T)) error {
	for {
		item, ok := q.next(ctx)
		if !ok {
			return nil
		}
		handle(ctx, item)
	}
}

func (q *Ordered[T]) next(ctx context.Context) (T, bool) {
	var zero T
	for {
		if ctx.Err() != nil {
			return zero, false
		}
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return zero, false
		}
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.done:
			return zero, false
		case <-ctx.Done():
			return zero, false
		}
	}
}

// Slot holds at most one item from TryPush until its handler has returned.
type Slot[T any] struct {
	mu       sync.Mutex
	occupied bool
	closed   bool

	items chan T
	done  chan struct{}
}

// NewSlot constructs an empty single-slot queue.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{
		items: make(chan T, 1),
		done:  make(chan struct{}),
	}
}

// TryPush queues item if the slot is free; it never blocks.
func (s *Slot[T]) TryPush(item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.occupied {
		return ErrBusy
	}
	s.occupied = true
	s.items <- item
	return nil
}

// Busy reports whether an item is queued or being handled.
func (s *Slot[T]) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.occupied
}

// Close stops the slot; a queued but unhandled item is dropped.
func (s *Slot[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// Run handles one item at a time and frees the slot only after handle returns.
func (s *Slot[T]) Run(ctx context.Context, handle func(context.Context, T)) error {
	for {
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return nil
		case item := <-s.items:
			if s.isClosed() || ctx.Err() != nil {
				return nil
			}
			handle(ctx, item)
			s.release()
		}
	}
}

func (s *Slot[T]) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Slot[T]) release() {
	s.mu.Lock()
	s.occupied = false
	s.mu.Unlock()
}
