// Package protocol holds the JSON messages exchanged over a jrpc WebSocket.  Only string IDs and a single params
// value are supported, which removes most of the ambiguity in JSON-RPC 2.0.
package protocol

import (
	"encoding/json"
)

// Error codes reuse HTTP status codes instead of the JSON-RPC 2.0 reserved range.
const (
	NotFound      = 404 // no handler for the method
	NotAcceptable = 406 // params could not be decoded
	Internal      = 500 // the handler returned an error
)

// A Request names a method and carries its params.  Requests without an ID are notifications and get no
// response.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// A Response answers the Request with the same ID.
type Response struct {
	ID     string `json:"id"`
	Result any    `json:"result"`
	Error  *Error `json:"error"`
	End    bool   `json:"end"`
}

// A Notification is sent by the server without being asked, such as a build announcement.
type Notification struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// An Error describes why a request failed.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
