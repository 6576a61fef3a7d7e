package client

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/rpcwire/jsonrpc-ws/pkg/jsonrpc"
	"github.com/rpcwire/jsonrpc-ws/pkg/rendezvous"
)

// pendingCalls correlates responses to callers by envelope id, the
// multiplexed alternative to the shared slot. Every in-flight call owns a
// private slot registered under its id, so concurrent calls receive their
// own responses regardless of arrival order.
type pendingCalls struct {
	mu    sync.Mutex
	calls map[string]*rendezvous.Slot[string]
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{calls: make(map[string]*rendezvous.Slot[string])}
}

// register creates the slot that will receive the response for id.
func (p *pendingCalls) register(id string) *rendezvous.Slot[string] {
	s := rendezvous.New[string]()
	p.mu.Lock()
	p.calls[id] = s
	p.mu.Unlock()
	return s
}

// cancel abandons a registered call whose caller gave up waiting.
func (p *pendingCalls) cancel(id string) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

// deliver hands a response to the slot registered under its id. Responses
// without an id, or for calls nobody is waiting on anymore, are dropped.
func (p *pendingCalls) deliver(message string, log zerolog.Logger) {
	id, err := jsonrpc.ResponseID(message)
	if err != nil || id == "" {
		log.Warn().Msg("dropping response without an id")
		return
	}

	p.mu.Lock()
	s, ok := p.calls[id]
	delete(p.calls, id)
	p.mu.Unlock()

	if !ok {
		log.Warn().Str("id", id).Msg("dropping response for unknown call")
		return
	}
	s.Offer(message)
}
