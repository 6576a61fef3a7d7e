package client

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// recordingSession captures writes and writability requests without any
// delivery behind them, so tests drive the callbacks by hand.
type recordingSession struct {
	mu       sync.Mutex
	writes   []string
	requests int
}

func (s *recordingSession) WriteText(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, message)
	return nil
}

func (s *recordingSession) RequestWritable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
}

func (s *recordingSession) snapshot() ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...), s.requests
}

func newTestConn(handler EventHandler) *conn {
	return newConn(newDispatcher(handler, false, zerolog.Nop()), zerolog.Nop())
}

func TestConnStateTransitions(t *testing.T) {
	c := newTestConn(nil)
	sess := &recordingSession{}

	if got := c.State(); got != Disconnected {
		t.Fatalf("initial State() = %v, want %v", got, Disconnected)
	}

	c.markConnecting()
	if got := c.State(); got != Connecting {
		t.Fatalf("State() after markConnecting = %v, want %v", got, Connecting)
	}

	c.OnEstablished(sess)
	if got := c.State(); got != Connected {
		t.Fatalf("State() after OnEstablished = %v, want %v", got, Connected)
	}
	select {
	case <-c.connected:
	default:
		t.Error("connected channel not closed after OnEstablished")
	}

	c.OnClosed(fmt.Errorf("connection reset"))
	if got := c.State(); got != Disconnected {
		t.Fatalf("State() after OnClosed = %v, want %v", got, Disconnected)
	}

	c.markConnecting()
	c.OnConnError(fmt.Errorf("connection refused"))
	if got := c.State(); got != Disconnected {
		t.Fatalf("State() after OnConnError = %v, want %v", got, Disconnected)
	}
}

func TestConnMarkConnectingOnlyFromDisconnected(t *testing.T) {
	c := newTestConn(nil)
	c.OnEstablished(&recordingSession{})

	c.markConnecting()
	if got := c.State(); got != Connected {
		t.Errorf("State() = %v, want %v", got, Connected)
	}
}

func TestConnSendQueuesUntilWritable(t *testing.T) {
	c := newTestConn(nil)
	sess := &recordingSession{}

	c.SendAsync("first")

	c.OnEstablished(sess)
	if _, requests := sess.snapshot(); requests != 1 {
		t.Fatalf("writability requests after establish = %d, want 1", requests)
	}

	// One queued message leaves per notification, then the session goes
	// writable and the next send is immediate.
	c.OnWritable()
	if writes, requests := sess.snapshot(); len(writes) != 1 || writes[0] != "first" || requests != 2 {
		t.Fatalf("after first notification: writes = %v, requests = %d", writes, requests)
	}

	c.OnWritable()
	c.SendAsync("second")
	writes, _ := sess.snapshot()
	if len(writes) != 2 || writes[1] != "second" {
		t.Fatalf("writes = %v, want [first second]", writes)
	}
}

func TestConnQueueDrainsInOrder(t *testing.T) {
	c := newTestConn(nil)
	sess := &recordingSession{}

	for _, m := range []string{"one", "two", "three"} {
		c.SendAsync(m)
	}
	c.OnEstablished(sess)
	for i := 0; i < 3; i++ {
		c.OnWritable()
	}

	writes, _ := sess.snapshot()
	want := []string{"one", "two", "three"}
	if len(writes) != len(want) {
		t.Fatalf("writes = %v, want %v", writes, want)
	}
	for i := range want {
		if writes[i] != want[i] {
			t.Errorf("writes[%d] = %q, want %q", i, writes[i], want[i])
		}
	}
}

func TestConnWritableIgnoredWithoutSession(t *testing.T) {
	c := newTestConn(nil)
	c.SendAsync("keep")

	// A stale notification with no live session must not consume the queue.
	c.OnWritable()

	sess := &recordingSession{}
	c.OnEstablished(sess)
	c.OnWritable()

	writes, _ := sess.snapshot()
	if len(writes) != 1 || writes[0] != "keep" {
		t.Errorf("writes = %v, want [keep]", writes)
	}
}

func TestConnQueueSurvivesReconnect(t *testing.T) {
	c := newTestConn(nil)

	c.SendAsync("a")
	c.SendAsync("b")

	first := &recordingSession{}
	c.OnEstablished(first)
	c.OnClosed(fmt.Errorf("connection reset"))

	second := &recordingSession{}
	c.OnEstablished(second)
	c.OnWritable()
	c.OnWritable()

	writes, _ := second.snapshot()
	if len(writes) != 2 || writes[0] != "a" || writes[1] != "b" {
		t.Errorf("writes after reconnect = %v, want [a b]", writes)
	}
	if firstWrites, _ := first.snapshot(); len(firstWrites) != 0 {
		t.Errorf("first session received writes %v, want none", firstWrites)
	}
}

func TestConnSessionDropClearsWritable(t *testing.T) {
	c := newTestConn(nil)

	c.OnEstablished(&recordingSession{})
	c.OnWritable()
	c.OnClosed(fmt.Errorf("connection reset"))

	sess := &recordingSession{}
	c.OnEstablished(sess)
	c.SendAsync("queued")
	if writes, _ := sess.snapshot(); len(writes) != 0 {
		t.Fatalf("message written before writability notification: %v", writes)
	}

	c.OnWritable()
	if writes, _ := sess.snapshot(); len(writes) != 1 {
		t.Errorf("writes = %v, want [queued]", writes)
	}
}

func TestConnMessageRouting(t *testing.T) {
	events := make(chan string, 4)
	c := newTestConn(EventHandlerFunc(func(msg string) { events <- msg }))

	eventMsg := `{"jsonrpc":"2.0","method":"client.events.1.statechange","params":{}}`
	c.OnMessage(eventMsg)
	select {
	case got := <-events:
		if got != eventMsg {
			t.Errorf("handler received %q, want %q", got, eventMsg)
		}
	default:
		t.Fatal("event message did not reach the handler")
	}

	response := `{"jsonrpc":"2.0","id":"1","result":0}`
	c.OnMessage(response)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := c.dispatch.slot.TakeContext(ctx)
	if err != nil {
		t.Fatalf("response did not reach the slot: %v", err)
	}
	if got != response {
		t.Errorf("slot received %q, want %q", got, response)
	}

	// Malformed input reaches neither destination.
	c.OnMessage(`{"jsonrpc":`)
	select {
	case got := <-events:
		t.Errorf("handler received malformed message %q", got)
	default:
	}
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	if msg, err := c.dispatch.slot.TakeContext(shortCtx); err == nil {
		t.Errorf("slot received malformed message %q", msg)
	}
}
