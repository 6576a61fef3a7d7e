// Package gobwas implements the websocket engine contract on top of
// github.com/gobwas/ws.
package gobwas

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
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

// Engine drives a single websocket connection attempt over gobwas frames.
// Create engines with New or through Factory.
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

	// writeMu serializes WriteText frames with the control-frame replies
	// the read loop sends; gobwas writes frames in more than one syscall.
	writeMu sync.Mutex

	mu       sync.Mutex
	conn     net.Conn
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
	dialer := ws.Dialer{Timeout: handshakeTimeout}
	if ep.Protocol != "" {
		dialer.Protocols = []string{ep.Protocol}
	}

	conn, br, hs, err := dialer.Dial(context.Background(), ep.URL())
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

	e.log.Debug().Str("url", ep.URL()).Str("protocol", hs.Protocol).Msg("handshake complete")
	e.push(event{kind: evEstablished, sess: &session{engine: e, conn: conn}})
	e.readLoop(conn, br)
}

// readLoop delivers text messages and answers control frames. br holds bytes
// the server sent on the heels of the handshake response; when set, frames
// are read from it first (it keeps reading conn once drained).
func (e *Engine) readLoop(conn net.Conn, br *bufio.Reader) {
	var src io.Reader = conn
	if br != nil {
		src = br
	}

	reply := wsutil.ControlFrameHandler(conn, ws.StateClientSide)
	control := func(hdr ws.Header, rd io.Reader) error {
		e.writeMu.Lock()
		defer e.writeMu.Unlock()
		return reply(hdr, rd)
	}

	rd := &wsutil.Reader{
		Source:         src,
		State:          ws.StateClientSide,
		OnIntermediate: control,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			e.push(event{kind: evClosed, err: err})
			return
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				e.push(event{kind: evClosed, err: err})
				return
			}
			continue
		}

		data, err := io.ReadAll(rd)
		if err != nil {
			e.push(event{kind: evClosed, err: err})
			return
		}
		if hdr.OpCode != ws.OpText {
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
		// Courtesy close frame; the conn is going away regardless.
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		e.writeMu.Lock()
		wsutil.WriteClientMessage(conn, ws.OpClose, nil)
		e.writeMu.Unlock()
		conn.Close()
	}
	e.log.Debug().Msg("engine shut down")
}

type session struct {
	engine *Engine
	conn   net.Conn
}

// WriteText writes one masked text frame with a bounded deadline.
func (s *session) WriteText(message string) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	s.engine.writeMu.Lock()
	defer s.engine.writeMu.Unlock()
	if err := wsutil.WriteClientText(s.conn, []byte(message)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// RequestWritable arms one writable notification. The conn accepts a write
// as soon as the handshake completes, so the notification is delivered on
// the next Service pass.
func (s *session) RequestWritable() {
	select {
	case s.engine.writable <- struct{}{}:
	default:
	}
}
