package rendezvous

import (
	"context"
	"testing"
	"time"
)

func TestTakeBlocksUntilOffer(t *testing.T) {
	s := New[string]()
	got := make(chan string, 1)
	go func() {
		got <- s.Take()
	}()

	select {
	case v := <-got:
		t.Fatalf("Take() returned %q before any Offer", v)
	case <-time.After(50 * time.Millisecond):
	}

	s.Offer("hello")

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("Take() = %q, want %q", v, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("Take() did not return after Offer")
	}
}

func TestOfferBeforeTake(t *testing.T) {
	s := New[string]()
	s.Offer("early")
	if got := s.Take(); got != "early" {
		t.Errorf("Take() = %q, want %q", got, "early")
	}
}

func TestOfferOverwritesUnconsumed(t *testing.T) {
	s := New[string]()
	s.Offer("first")
	s.Offer("second")
	if got := s.Take(); got != "second" {
		t.Errorf("Take() = %q, want %q", got, "second")
	}
}

func TestTakeClearsSlot(t *testing.T) {
	s := New[string]()
	s.Offer("one")
	s.Take()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if v, err := s.TakeContext(ctx); err == nil {
		t.Errorf("TakeContext() after consuming = %q, want timeout", v)
	}
}

func TestSequentialHandOffs(t *testing.T) {
	s := New[int]()
	go func() {
		for i := 1; i <= 3; i++ {
			s.Offer(i)
			// Wait for the consumer before the next deposit.
			for {
				s.mu.Lock()
				consumed := !s.ready
				s.mu.Unlock()
				if consumed {
					break
				}
				time.Sleep(time.Millisecond)
			}
		}
	}()

	for want := 1; want <= 3; want++ {
		if got := s.Take(); got != want {
			t.Fatalf("Take() = %d, want %d", got, want)
		}
	}
}

func TestTakeContextCanceled(t *testing.T) {
	s := New[string]()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.TakeContext(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("TakeContext() error = %v, want %v", err, context.Canceled)
		}
	case <-time.After(time.Second):
		t.Fatal("TakeContext() did not return after cancel")
	}

	// A value deposited after the abandoned wait is still delivered.
	s.Offer("late")
	if got := s.Take(); got != "late" {
		t.Errorf("Take() = %q, want %q", got, "late")
	}
}
