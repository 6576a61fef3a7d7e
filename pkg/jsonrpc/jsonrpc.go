// Package jsonrpc builds and classifies the JSON-RPC 2.0 text envelopes
// exchanged with the websocket service.
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the protocol version stamped on every request.
const Version = "2.0"

// EventsClientID identifies this client in event registration parameters.
// The service uses it to address notifications back to the registering
// connection.
const EventsClientID = "client.events.1"

// Request is an outbound call envelope. Params carries raw JSON passed
// through untouched; when empty the key is omitted entirely.
type Request struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest builds a request envelope. The numeric id is rendered as a
// decimal string, the form the service echoes back on its response.
func NewRequest(id uint64, method, params string) Request {
	req := Request{
		Jsonrpc: Version,
		ID:      strconv.FormatUint(id, 10),
		Method:  method,
	}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return req
}

// Encode renders the request as wire text.
func (r Request) Encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}
	return string(data), nil
}

// RegisterParams is the parameter envelope for <object>.register and
// <object>.unregister calls.
type RegisterParams struct {
	Event string `json:"event"`
	ID    string `json:"id"`
}

// EncodeRegisterParams renders the registration parameters for event,
// addressed with EventsClientID.
func EncodeRegisterParams(event string) (string, error) {
	data, err := json.Marshal(RegisterParams{Event: event, ID: EventsClientID})
	if err != nil {
		return "", fmt.Errorf("failed to encode register params: %w", err)
	}
	return string(data), nil
}

// IsEvent reports whether an inbound message is an unsolicited event: a
// parseable JSON object carrying a non-empty "method" key. Anything else
// that parses is a call response. Messages that do not parse are returned
// as an error so the caller never misroutes them.
func IsEvent(message string) (bool, error) {
	var env struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal([]byte(message), &env); err != nil {
		return false, fmt.Errorf("failed to parse message: %w", err)
	}
	return env.Method != "", nil
}

// ResponseID extracts the correlation id of a response envelope. String and
// numeric ids are both accepted since servers may echo either form. Messages
// without an id yield "".
func ResponseID(message string) (string, error) {
	var env struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal([]byte(message), &env); err != nil {
		return "", fmt.Errorf("failed to parse message: %w", err)
	}
	if len(env.ID) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(env.ID, &s); err == nil {
		return s, nil
	}
	return string(env.ID), nil
}

// ResultIsZero reports whether a response carries a structured "result"
// equal to 0, the acknowledgement the service sends for registration calls.
// Messages that do not parse, or any other result shape, count as failure.
func ResultIsZero(message string) bool {
	var env struct {
		Result *int `json:"result"`
	}
	if err := json.Unmarshal([]byte(message), &env); err != nil {
		return false
	}
	return env.Result != nil && *env.Result == 0
}
