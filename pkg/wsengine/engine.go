// Package wsengine defines the contract between the client core and the
// websocket engines that drive the actual connection.
//
// An engine lives for exactly one connection attempt: it owns the dial, the
// session the dial yields, and the goroutines reading from the socket. It
// reports progress exclusively through Handler callbacks fired from inside
// Service, so every event reaches the core on the single goroutine that
// pumps the engine regardless of which goroutine produced it.
package wsengine

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Endpoint addresses the websocket service.
type Endpoint struct {
	Host string
	Port int
	// Path is the request path, e.g. "/jsonrpc".
	Path string
	// Protocol is the subprotocol offered during the handshake.
	Protocol string
}

// URL renders the ws:// dial URL for the endpoint.
func (e Endpoint) URL() string {
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(e.Host, strconv.Itoa(e.Port)), e.Path)
}

// Session is a live websocket connection produced by an engine.
type Session interface {
	// WriteText writes one text message. Callers serialize writes.
	WriteText(message string) error

	// RequestWritable arms a single OnWritable notification, delivered
	// through a later Service step once the session can accept a write.
	// It must not block; callers may hold locks across it.
	RequestWritable()
}

// Handler receives engine events. Callbacks fire one at a time from the
// goroutine calling Service.
type Handler interface {
	// OnEstablished reports a completed handshake and hands over the
	// live session.
	OnEstablished(s Session)

	// OnConnError reports a failed connection attempt. The engine is
	// spent; no further events follow.
	OnConnError(err error)

	// OnClosed reports that an established session ended, whether by the
	// peer or by a transport failure.
	OnClosed(err error)

	// OnMessage delivers one inbound text message.
	OnMessage(message string)

	// OnWritable answers an earlier Session.RequestWritable.
	OnWritable()
}

// Engine drives one connection attempt and the session it yields.
type Engine interface {
	// Connect starts dialing the endpoint and returns without waiting for
	// the outcome, which arrives later as OnEstablished or OnConnError.
	// A non-nil error means the attempt was rejected locally and no
	// events will follow.
	Connect(ep Endpoint) error

	// Service delivers pending events to the handler, waiting up to
	// maxWait for the first one. It returns early when Interrupt is
	// called or the engine is shut down.
	Service(maxWait time.Duration)

	// Interrupt wakes a Service call blocked waiting for events.
	Interrupt()

	// Shutdown closes any live session and releases the engine. No
	// events are delivered afterwards. Safe to call more than once.
	Shutdown()
}

// Factory builds a fresh engine for one connection attempt, reporting to h.
type Factory func(h Handler) Engine
