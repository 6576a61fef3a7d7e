package client

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/rpcwire/jsonrpc-ws/pkg/wsengine"
)

// conn tracks the connection state shared between callers and the supervisor
// goroutine: the lifecycle state, the live session, the writability flag and
// the outbound queue. One mutex guards all of it; every transition and every
// send decision happens under that lock, so callers always observe a
// consistent snapshot.
//
// conn implements wsengine.Handler. The engine fires those callbacks from
// the supervisor goroutine only, but callers invoke SendAsync and State
// concurrently from anywhere.
type conn struct {
	log      zerolog.Logger
	dispatch *dispatcher

	mu       sync.Mutex
	state    State
	sess     wsengine.Session
	writable bool
	queue    []string
	drained  *sync.Cond

	connectedOnce sync.Once
	connected     chan struct{}
}

func newConn(d *dispatcher, log zerolog.Logger) *conn {
	c := &conn{
		log:       log,
		dispatch:  d,
		connected: make(chan struct{}),
	}
	c.drained = sync.NewCond(&c.mu)
	return c
}

// State reports the current lifecycle state.
func (c *conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendAsync hands message to the transport without waiting for it: the
// message is written immediately when the session is writable and queued
// otherwise. Queued messages survive reconnects and leave in FIFO order,
// one per writability notification.
func (c *conn) SendAsync(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writable && c.sess != nil {
		c.transmitLocked(message)
		return
	}
	c.queue = append(c.queue, message)
	c.log.Debug().Int("queued", len(c.queue)).Msg("message queued")
}

// transmitLocked writes message on the live session, clears the writability
// flag and re-arms the notification. A write failure is logged and the
// message dropped; the same failure tears the session down through OnClosed
// shortly after.
func (c *conn) transmitLocked(message string) {
	if err := c.sess.WriteText(message); err != nil {
		c.log.Warn().Err(err).Msg("write failed")
	}
	c.writable = false
	c.sess.RequestWritable()
}

// markConnecting records a locally accepted connection attempt.
func (c *conn) markConnecting() {
	c.mu.Lock()
	if c.state == Disconnected {
		c.state = Connecting
	}
	c.mu.Unlock()
}

// waitDrained blocks until the outbound queue is empty.
func (c *conn) waitDrained() {
	c.mu.Lock()
	for len(c.queue) > 0 {
		c.drained.Wait()
	}
	c.mu.Unlock()
}

// OnEstablished records the live session, then requests the first
// writability notification so queued traffic starts moving. The first
// transition ever also releases Dial's wait.
func (c *conn) OnEstablished(s wsengine.Session) {
	c.mu.Lock()
	c.state = Connected
	c.sess = s
	c.mu.Unlock()

	c.log.Info().Msg("connected")
	c.connectedOnce.Do(func() { close(c.connected) })
	s.RequestWritable()
}

// OnConnError records a failed attempt. The supervisor notices the state
// and schedules the next one.
func (c *conn) OnConnError(err error) {
	c.dropSession()
	c.log.Debug().Err(err).Msg("connect failed")
}

// OnClosed records the end of an established session.
func (c *conn) OnClosed(err error) {
	c.dropSession()
	c.log.Info().Err(err).Msg("disconnected")
}

func (c *conn) dropSession() {
	c.mu.Lock()
	c.state = Disconnected
	c.sess = nil
	c.writable = false
	c.mu.Unlock()
}

// OnMessage routes one inbound message to the event handler or to the
// waiting caller. Routing runs under the connection lock, so handlers must
// return promptly and must not call back into the client synchronously.
func (c *conn) OnMessage(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatch.route(message)
}

// OnWritable transmits the oldest queued message, or marks the session
// writable when there is nothing to send. Notifications that outlive their
// session are ignored.
func (c *conn) OnWritable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return
	}
	if len(c.queue) > 0 {
		message := c.queue[0]
		c.queue = c.queue[1:]
		c.transmitLocked(message)
		if len(c.queue) == 0 {
			c.drained.Broadcast()
		}
		return
	}
	c.writable = true
}
