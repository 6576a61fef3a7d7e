package client

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpcwire/jsonrpc-ws/pkg/wsengine"
)

// supervisor owns the connection lifecycle: it pumps the current engine for
// events while an attempt or session is live, and starts a fresh attempt
// with a fresh engine whenever the connection is down. It retries forever
// with a fixed short pause; the service being away for hours changes
// nothing, the next attempt is always scheduled.
//
// Everything runs on one dedicated goroutine, which is also the only
// goroutine engine callbacks fire on.
type supervisor struct {
	conn     *conn
	endpoint wsengine.Endpoint
	factory  wsengine.Factory

	serviceWait    time.Duration
	reconnectDelay time.Duration
	log            zerolog.Logger

	stop chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	engine wsengine.Engine
}

func newSupervisor(c *conn, ep wsengine.Endpoint, f wsengine.Factory, serviceWait, reconnectDelay time.Duration, log zerolog.Logger) *supervisor {
	return &supervisor{
		conn:           c,
		endpoint:       ep,
		factory:        f,
		serviceWait:    serviceWait,
		reconnectDelay: reconnectDelay,
		log:            log,
		stop:           make(chan struct{}),
	}
}

// start launches the supervisor goroutine.
func (s *supervisor) start() {
	s.wg.Add(1)
	go s.run()
}

func (s *supervisor) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stop:
			s.teardown()
			return
		default:
		}

		if s.conn.State() != Disconnected {
			s.currentEngine().Service(s.serviceWait)
			continue
		}

		if !s.sleep(s.reconnectDelay) {
			s.teardown()
			return
		}
		s.reconnect()
	}
}

// reconnect replaces the spent engine with a fresh one and starts the next
// attempt. A locally rejected attempt leaves the state Disconnected, so the
// loop simply comes back here after the next pause.
func (s *supervisor) reconnect() {
	fresh := s.factory(s.conn)

	s.mu.Lock()
	old := s.engine
	s.engine = fresh
	s.mu.Unlock()

	if old != nil {
		old.Shutdown()
	}

	if err := fresh.Connect(s.endpoint); err != nil {
		s.log.Debug().Err(err).Msg("connect rejected")
		return
	}
	s.conn.markConnecting()
	s.log.Debug().Str("url", s.endpoint.URL()).Msg("connecting")
}

func (s *supervisor) currentEngine() wsengine.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// sleep waits d, returning false when a halt arrives first.
func (s *supervisor) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.stop:
		return false
	}
}

// halt asks the loop to stop, wakes a blocked Service call and joins the
// goroutine. The loop shuts the engine down on its way out, so by the time
// halt returns the transport is released.
func (s *supervisor) halt() {
	close(s.stop)
	if eng := s.currentEngine(); eng != nil {
		eng.Interrupt()
	}
	s.wg.Wait()
}

func (s *supervisor) teardown() {
	s.mu.Lock()
	eng := s.engine
	s.engine = nil
	s.mu.Unlock()
	if eng != nil {
		eng.Shutdown()
	}
}
