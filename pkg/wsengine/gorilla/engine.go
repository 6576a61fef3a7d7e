// Package gorilla implements the websocket engine contract on top of
// github.com/gorilla/websocket.
package gorilla

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rpcwire/jsonrpc-ws/pkg/wsengine"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

type eventKind int

const (
	evEstablished eventKind = iota
	evConnError
	evClosed
	evMessage
)

type event struct {
	kind eventKind
	sess *session
	err  error
	text string
}

// Engine drives a single gorilla websocket connection attempt. Create
// engines with New or through Factory.
type Engine struct {
	handler wsengine.Handler
	log     zerolog.Logger

	// events carries dial and read outcomes from their goroutines to
	// Service. writable is separate so arming a notification from inside
	// a handler callback can never block the delivery loop.
	events    chan event
	writable  chan struct{}
	interrupt chan struct{}
	done      chan struct{}

	mu       sync.Mutex
	conn     *websocket.Conn
	started  bool
	shutdown bool
}

// New creates an engine reporting to h.
func New(h wsengine.Handler, log zerolog.Logger) *Engine {
	id := uuid.New()
	return &Engine{
		handler:   h,
		log:       log.With().Str("engine", id.String()).Logger(),
		events:    make(chan event, 32),
		writable:  make(chan struct{}, 1),
		interrupt: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Factory returns an engine factory that logs through log.
func Factory(log zerolog.Logger) wsengine.Factory {
	return func(h wsengine.Handler) wsengine.Engine {
		return New(h, log)
	}
}

// Connect starts dialing ep in the background.
func (e *Engine) Connect(ep wsengine.Endpoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown {
		return fmt.Errorf("engine is shut down")
	}
	if e.started {
		return fmt.Errorf("engine already connecting")
	}
	e.started = true

	go e.dial(ep)
	return nil
}

func (e *Engine) dial(ep wsengine.Endpoint) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	if ep.Protocol != "" {
		dialer.Subprotocols = []string{ep.Protocol}
	}

	conn, _, err := dialer.Dial(ep.URL(), nil)
	if err != nil {
		e.push(event{kind: evConnError, err: fmt.Errorf("failed to connect to server: %w", err)})
		return
	}

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		conn.Close()
		return
	}
	e.conn = conn
	e.mu.Unlock()

	e.log.Debug().Str("url", ep.URL()).Msg("handshake complete")
	e.push(event{kind: evEstablished, sess: &session{engine: e, conn: conn}})
	e.readLoop(conn)
}

func (e *Engine) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			e.push(event{kind: evClosed, err: err})
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		e.push(event{kind: evMessage, text: string(data)})
	}
}

// push queues ev for delivery. It drops events once the engine is shut down
// so the dial and read goroutines can never block forever.
func (e *Engine) push(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// Service delivers pending events to the handler, waiting up to maxWait for
// the first one, then draining whatever else is already queued.
func (e *Engine) Service(maxWait time.Duration) {
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

func (e *Engine) deliver(ev event) {
	switch ev.kind {
	case evEstablished:
		e.handler.OnEstablished(ev.sess)
	case evConnError:
		e.handler.OnConnError(ev.err)
	case evClosed:
		e.handler.OnClosed(ev.err)
	case evMessage:
		e.handler.OnMessage(ev.text)
	}
}

// Interrupt wakes a blocked Service call.
func (e *Engine) Interrupt() {
	select {
	case e.interrupt <- struct{}{}:
	default:
	}
}

// Shutdown closes the session, stops event delivery and releases the engine.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}
	e.shutdown = true
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	close(e.done)
	if conn != nil {
		conn.Close()
	}
	e.log.Debug().Msg("engine shut down")
}

type session struct {
	engine *Engine
	conn   *websocket.Conn
}

// WriteText writes one text frame with a bounded deadline. Gorilla permits
// at most one concurrent writer; the engine contract leaves that to callers.
func (s *session) WriteText(message string) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// RequestWritable arms one writable notification. A gorilla connection can
// accept a write as soon as it is established, so the notification is
// delivered on the next Service pass.
func (s *session) RequestWritable() {
	select {
	case s.engine.writable <- struct{}{}:
	default:
	}
}
