package client

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rpcwire/jsonrpc-ws/pkg/wsengine"
)

// fakeEngine scripts transport events for supervisor tests. It mirrors the
// delivery discipline of the real engines: events queue up and reach the
// handler only through Service.
type fakeEngine struct {
	handler wsengine.Handler
	attempt int

	events    chan fakeEvent
	writable  chan struct{}
	interrupt chan struct{}
	done      chan struct{}

	mu      sync.Mutex
	written []string
	sess    *fakeSession
	closed  bool

	// failConnect makes Connect report a connection error instead of a
	// session. manualWritable suppresses automatic writability, leaving
	// the test to fire notifications by hand. respond builds a reply for
	// each written message.
	failConnect    bool
	manualWritable bool
	respond        func(written string) (string, bool)
}

type fakeEvent struct {
	kind eventKind
	err  error
	text string
}

type eventKind int

const (
	evEstablished eventKind = iota
	evConnError
	evClosed
	evMessage
)

func newFakeEngine(h wsengine.Handler) *fakeEngine {
	return &fakeEngine{
		handler:   h,
		events:    make(chan fakeEvent, 64),
		writable:  make(chan struct{}, 1),
		interrupt: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (e *fakeEngine) Connect(ep wsengine.Endpoint) error {
	if e.failConnect {
		e.push(fakeEvent{kind: evConnError, err: fmt.Errorf("connection refused")})
		return nil
	}
	e.mu.Lock()
	e.sess = &fakeSession{eng: e}
	e.mu.Unlock()
	e.push(fakeEvent{kind: evEstablished})
	return nil
}

func (e *fakeEngine) Service(maxWait time.Duration) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case ev := <-e.events:
		e.deliver(ev)
	case <-e.writable:
		e.handler.OnWritable()
	case <-e.interrupt:
		return
	case <-e.done:
		return
	case <-timer.C:
		return
	}

	for {
		select {
		case ev := <-e.events:
			e.deliver(ev)
		case <-e.writable:
			e.handler.OnWritable()
		default:
			return
		}
	}
}

func (e *fakeEngine) deliver(ev fakeEvent) {
	switch ev.kind {
	case evEstablished:
		e.mu.Lock()
		sess := e.sess
		e.mu.Unlock()
		e.handler.OnEstablished(sess)
	case evConnError:
		e.handler.OnConnError(ev.err)
	case evClosed:
		e.handler.OnClosed(ev.err)
	case evMessage:
		e.handler.OnMessage(ev.text)
	}
}

func (e *fakeEngine) Interrupt() {
	select {
	case e.interrupt <- struct{}{}:
	default:
	}
}

func (e *fakeEngine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	close(e.done)
}

func (e *fakeEngine) push(ev fakeEvent) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func (e *fakeEngine) fireWritable() {
	select {
	case e.writable <- struct{}{}:
	default:
	}
}

func (e *fakeEngine) pushMessage(text string) {
	e.push(fakeEvent{kind: evMessage, text: text})
}

func (e *fakeEngine) pushClosed(err error) {
	e.push(fakeEvent{kind: evClosed, err: err})
}

func (e *fakeEngine) writtenMessages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.written...)
}

func (e *fakeEngine) isShutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// fakeSession records writes and answers writability requests immediately
// unless the engine runs in manual mode.
type fakeSession struct {
	eng *fakeEngine
}

func (s *fakeSession) WriteText(message string) error {
	s.eng.mu.Lock()
	s.eng.written = append(s.eng.written, message)
	respond := s.eng.respond
	s.eng.mu.Unlock()

	if respond != nil {
		if reply, ok := respond(message); ok {
			s.eng.pushMessage(reply)
		}
	}
	return nil
}

func (s *fakeSession) RequestWritable() {
	s.eng.mu.Lock()
	manual := s.eng.manualWritable
	s.eng.mu.Unlock()
	if manual {
		return
	}
	s.eng.fireWritable()
}

// fakeFactory hands out one scripted engine per connection attempt.
type fakeFactory struct {
	mu        sync.Mutex
	engines   []*fakeEngine
	configure func(attempt int, e *fakeEngine)
}

func (f *fakeFactory) new(h wsengine.Handler) wsengine.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := newFakeEngine(h)
	e.attempt = len(f.engines) + 1
	if f.configure != nil {
		f.configure(e.attempt, e)
	}
	f.engines = append(f.engines, e)
	return e
}

func (f *fakeFactory) engineCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

func (f *fakeFactory) engine(i int) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[i]
}

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
