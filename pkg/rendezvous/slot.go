// Package rendezvous provides a single-item hand-off slot that blocks one
// consumer until a producer deposits a value.
package rendezvous

import (
	"context"
	"sync"
)

// Slot hands one value from a producer to a single waiting consumer. It holds
// at most one value: a second Offer before the value is consumed replaces it.
// The value is cleared when the consumer takes it, so a value deposited while
// nobody is waiting is kept for the next Take. Create slots with New.
type Slot[E any] struct {
	mu    sync.Mutex
	ready bool
	val   E
	wake  chan struct{}
}

// New creates an empty slot.
func New[E any]() *Slot[E] {
	return &Slot[E]{wake: make(chan struct{}, 1)}
}

// Offer deposits v and wakes the consumer. A previous value that was never
// consumed is overwritten.
func (s *Slot[E]) Offer(v E) {
	s.mu.Lock()
	s.val = v
	s.ready = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Take blocks until a value is available, then consumes it and clears the
// slot. A value offered before Take was called is returned immediately.
func (s *Slot[E]) Take() E {
	v, _ := s.TakeContext(context.Background())
	return v
}

// TakeContext is Take with cancellation: it gives up with ctx.Err() when ctx
// is done before a value arrives. The slot is left untouched in that case, so
// a late value stays available for the next consumer.
func (s *Slot[E]) TakeContext(ctx context.Context) (E, error) {
	for {
		s.mu.Lock()
		if s.ready {
			v := s.val
			var zero E
			s.val = zero
			s.ready = false
			s.mu.Unlock()
			return v, nil
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-ctx.Done():
			var zero E
			return zero, ctx.Err()
		}
	}
}
