// Package client provides a JSON-RPC 2.0 client that runs over a supervised
// websocket connection. Calls block until the service answers; transport
// management stays out of sight. A background supervisor dials the service,
// feeds it outbound traffic as the socket becomes writable, and redials
// forever whenever the connection drops, so messages sent while the service
// is away are queued and flushed on reconnect.
//
// A Client is safe for concurrent use. In the default mode responses are
// matched to calls by arrival order and at most one call should be in flight
// at a time; set Config.Multiplex to correlate responses by envelope id and
// issue calls concurrently.
//
//	c, err := client.Dial(ctx, client.Config{
//		Host:    "localhost",
//		Port:    9998,
//		Handler: client.EventHandlerFunc(func(msg string) { fmt.Println(msg) }),
//	})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	response := c.Call("DeviceInfo.1.systeminfo", "")
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpcwire/jsonrpc-ws/pkg/jsonrpc"
	"github.com/rpcwire/jsonrpc-ws/pkg/wsengine"
	"github.com/rpcwire/jsonrpc-ws/pkg/wsengine/gorilla"
)

// Defaults applied by Dial for zero-valued Config fields.
const (
	DefaultPath           = "/jsonrpc"
	DefaultProtocol       = "json"
	DefaultServiceWait    = 500 * time.Millisecond
	DefaultReconnectDelay = 100 * time.Millisecond
)

// Config describes a client. Host and Port are required; zero values
// elsewhere select the defaults above.
type Config struct {
	Host string
	Port int

	// Path is the request path of the websocket endpoint.
	Path string

	// Protocol is the subprotocol offered during the handshake.
	Protocol string

	// Handler consumes unsolicited event messages. A nil handler drops
	// them.
	Handler EventHandler

	// Multiplex correlates responses to calls by envelope id, allowing
	// concurrent in-flight calls. The default matches responses to calls
	// by arrival order, which supports one call at a time.
	Multiplex bool

	// Engine selects the websocket engine implementation. The default is
	// the gorilla engine.
	Engine wsengine.Factory

	// ServiceWait bounds one event-pump step of the supervisor.
	ServiceWait time.Duration

	// ReconnectDelay is the fixed pause before every connection attempt.
	ReconnectDelay time.Duration

	// Logger receives structured logs. Nil disables logging.
	Logger *zerolog.Logger
}

// Client issues blocking JSON-RPC calls over a supervised websocket
// connection. Create clients with Dial and release them with Close.
type Client struct {
	conn     *conn
	sup      *supervisor
	dispatch *dispatcher
	log      zerolog.Logger

	// nextID feeds the request envelopes. Identifiers are unique per
	// client, not per process.
	nextID atomic.Uint64

	closeOnce sync.Once
}

// Dial builds the client, starts its supervisor and blocks until the first
// connection is established. ctx bounds only this initial wait: canceling it
// stops the supervisor and returns the error, while context.Background()
// waits as long as it takes. The supervisor keeps redialing forever either
// way once Dial has returned.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Protocol == "" {
		cfg.Protocol = DefaultProtocol
	}
	if cfg.ServiceWait <= 0 {
		cfg.ServiceWait = DefaultServiceWait
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	log = log.With().Str("host", cfg.Host).Int("port", cfg.Port).Logger()

	if cfg.Engine == nil {
		cfg.Engine = gorilla.Factory(log)
	}

	d := newDispatcher(cfg.Handler, cfg.Multiplex, log)
	cn := newConn(d, log)
	ep := wsengine.Endpoint{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Path:     cfg.Path,
		Protocol: cfg.Protocol,
	}
	sup := newSupervisor(cn, ep, cfg.Engine, cfg.ServiceWait, cfg.ReconnectDelay, log)

	c := &Client{conn: cn, sup: sup, dispatch: d, log: log}
	sup.start()

	select {
	case <-cn.connected:
		return c, nil
	case <-ctx.Done():
		sup.halt()
		return nil, fmt.Errorf("waiting for connection: %w", ctx.Err())
	}
}

// Call sends a request and blocks until a response message arrives,
// returning its raw text. params is raw JSON; pass "" to omit the key. The
// envelope id increments per call but exists for the wire format only: in
// the default mode the response is whichever non-event message arrives next.
// There is no timeout, a response that never comes blocks forever; use
// CallContext for a bounded wait. A nil client returns "" without sending.
func (c *Client) Call(method, params string) string {
	response, _ := c.CallContext(context.Background(), method, params)
	return response
}

// CallContext is Call with cancellation. When ctx expires before the
// response arrives the call is abandoned and ctx's error returned; the
// request itself may still reach the service.
func (c *Client) CallContext(ctx context.Context, method, params string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("no client")
	}

	req := jsonrpc.NewRequest(c.nextID.Add(1), method, params)
	text, err := req.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	if p := c.dispatch.pending; p != nil {
		slot := p.register(req.ID)
		c.conn.SendAsync(text)
		response, err := slot.TakeContext(ctx)
		if err != nil {
			p.cancel(req.ID)
			return "", err
		}
		return response, nil
	}

	c.conn.SendAsync(text)
	return c.dispatch.slot.TakeContext(ctx)
}

// RegisterWithEvent subscribes the client to an event published by object,
// reporting whether the service acknowledged the registration. The service
// acknowledges with a result of 0; any other response, including one that
// does not parse, reads as failure.
func (c *Client) RegisterWithEvent(object, event string) bool {
	return c.eventCall(object+".register", event)
}

// UnregisterWithEvent removes a subscription made with RegisterWithEvent,
// reporting whether the service acknowledged it.
func (c *Client) UnregisterWithEvent(object, event string) bool {
	return c.eventCall(object+".unregister", event)
}

func (c *Client) eventCall(method, event string) bool {
	params, err := jsonrpc.EncodeRegisterParams(event)
	if err != nil {
		return false
	}
	return jsonrpc.ResultIsZero(c.Call(method, params))
}

// State reports the connection lifecycle state.
func (c *Client) State() State {
	return c.conn.State()
}

// Close waits for queued messages to drain, then stops the supervisor and
// waits for it to release the transport. A queue that can never drain
// because the service never comes back blocks Close forever; that is the
// price of never discarding an accepted message.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.conn.waitDrained()
		c.sup.halt()
		c.log.Debug().Msg("client closed")
	})
}
