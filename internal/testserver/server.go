// Package testserver runs a small scriptable JSON-RPC websocket service,
// used by the integration tests and the mock server binary.
package testserver

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool, any origin may connect
	},
	Subprotocols: []string{"json"},
}

// Responder produces the raw JSON result for one call. Returning ok=false
// keeps the server silent, which is how tests simulate a service that never
// answers.
type Responder func(method, params string) (result string, ok bool)

// AcknowledgeAll answers every call with a result of 0, the acknowledgement
// shape used for registration calls.
func AcknowledgeAll(method, params string) (string, bool) {
	return "0", true
}

// client is one accepted connection. writeMu serializes the read-loop
// replies with broadcast pushes; gorilla allows a single writer at a time.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) writeText(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Server is a scriptable JSON-RPC websocket service.
type Server struct {
	path    string
	respond Responder
	log     zerolog.Logger

	listener net.Listener
	server   *http.Server

	mu      sync.Mutex
	clients map[*client]bool
	wg      sync.WaitGroup
}

// New creates a server answering calls through respond on the given request
// path. A nil respond acknowledges every call with 0.
func New(path string, respond Responder, log zerolog.Logger) *Server {
	if respond == nil {
		respond = AcknowledgeAll
	}
	return &Server{
		path:    path,
		respond: respond,
		log:     log,
		clients: make(map[*client]bool),
	}
}

// Start listens on address and serves in the background.
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleSocket)
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("server stopped")
		}
	}()

	s.log.Info().Str("addr", listener.Addr().String()).Str("path", s.path).Msg("listening")
	return nil
}

// Stop closes the listener and every live connection, then waits for the
// connection handlers to finish.
func (s *Server) Stop() {
	if s.server != nil {
		s.server.Close()
	}

	s.mu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Port returns the server's listening port.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// PushEvent broadcasts an unsolicited notification to every connection.
// params is raw JSON; pass "" to omit the key.
func (s *Server) PushEvent(method, params string) error {
	notification := struct {
		Jsonrpc string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}{Jsonrpc: "2.0", Method: method}
	if params != "" {
		notification.Params = json.RawMessage(params)
	}

	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.writeText(string(data)); err != nil {
			s.log.Warn().Err(err).Msg("failed to push event")
		}
	}
	return nil
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.handleClient(c)
}

func (s *Server) handleClient(c *client) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.conn.Close()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.handleRequest(c, string(data))
	}
}

func (s *Server) handleRequest(c *client, text string) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal([]byte(text), &req); err != nil {
		s.log.Warn().Err(err).Str("text", text).Msg("ignoring unparseable request")
		return
	}

	result, ok := s.respond(req.Method, string(req.Params))
	if !ok {
		return
	}

	response := struct {
		Jsonrpc string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id,omitempty"`
		Result  json.RawMessage `json:"result"`
	}{Jsonrpc: "2.0", ID: req.ID, Result: json.RawMessage(result)}

	data, err := json.Marshal(response)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to encode response")
		return
	}
	if err := c.writeText(string(data)); err != nil {
		s.log.Warn().Err(err).Msg("failed to write response")
	}
}
