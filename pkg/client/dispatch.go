package client

import (
	"github.com/rs/zerolog"

	"github.com/rpcwire/jsonrpc-ws/pkg/jsonrpc"
	"github.com/rpcwire/jsonrpc-ws/pkg/rendezvous"
)

// EventHandler consumes unsolicited event messages. Exactly one handler is
// attached per client, at construction.
//
// HandleEvent runs on the connection's delivery goroutine with the
// connection lock held: implementations must return promptly and must not
// call back into the client synchronously. Hand the message to another
// goroutine for anything heavier.
type EventHandler interface {
	HandleEvent(message string)
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc func(message string)

// HandleEvent calls f(message).
func (f EventHandlerFunc) HandleEvent(message string) {
	f(message)
}

// dispatcher routes every inbound message to exactly one destination:
// envelopes carrying a method go to the event handler, everything else is a
// call response for whichever caller is waiting. Messages that do not parse
// go nowhere; defaulting them to either destination would hand a caller a
// bogus response or feed the handler garbage.
type dispatcher struct {
	log     zerolog.Logger
	handler EventHandler

	// slot serves the default single-call mode. pending replaces it when
	// multiplexing is enabled.
	slot    *rendezvous.Slot[string]
	pending *pendingCalls
}

func newDispatcher(handler EventHandler, multiplex bool, log zerolog.Logger) *dispatcher {
	d := &dispatcher{
		log:     log,
		handler: handler,
		slot:    rendezvous.New[string](),
	}
	if multiplex {
		d.pending = newPendingCalls()
	}
	return d
}

func (d *dispatcher) route(message string) {
	isEvent, err := jsonrpc.IsEvent(message)
	if err != nil {
		d.log.Warn().Err(err).Msg("dropping malformed message")
		return
	}

	if isEvent {
		if d.handler == nil {
			d.log.Debug().Msg("dropping event with no handler attached")
			return
		}
		d.handler.HandleEvent(message)
		return
	}

	if d.pending != nil {
		d.pending.deliver(message, d.log)
		return
	}
	d.slot.Offer(message)
}
