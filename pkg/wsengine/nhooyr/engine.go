// Package nhooyr implements the websocket engine contract on top of
// nhooyr.io/websocket. It mirrors the gorilla engine; the two exist so the
// transport can be swapped without touching the client core.
package nhooyr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

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

// Engine drives a single nhooyr websocket connection attempt. Create
// engines with New or through Factory.
type Engine struct {
	handler wsengine.Handler
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

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
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		handler:   h,
		log:       log.With().Str("engine", id.String()).Logger(),
		ctx:       ctx,
		cancel:    cancel,
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
	opts := &websocket.DialOptions{}
	if ep.Protocol != "" {
		opts.Subprotocols = []string{ep.Protocol}
	}

	// The dial context bounds only the handshake; the conn outlives it.
	dialCtx, cancel := context.WithTimeout(e.ctx, handshakeTimeout)
	conn, _, err := websocket.Dial(dialCtx, ep.URL(), opts)
	cancel()
	if err != nil {
		e.push(event{kind: evConnError, err: fmt.Errorf("failed to connect to server: %w", err)})
		return
	}

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
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
		messageType, data, err := conn.Read(e.ctx)
		if err != nil {
			e.push(event{kind: evClosed, err: err})
			return
		}
		if messageType != websocket.MessageText {
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
	e.cancel()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
	e.log.Debug().Msg("engine shut down")
}

type session struct {
	engine *Engine
	conn   *websocket.Conn
}

// WriteText writes one text frame with a bounded deadline.
func (s *session) WriteText(message string) error {
	ctx, cancel := context.WithTimeout(s.engine.ctx, writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, []byte(message)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// RequestWritable arms one writable notification, delivered on the next
// Service pass.
func (s *session) RequestWritable() {
	select {
	case s.engine.writable <- struct{}{}:
	default:
	}
}
