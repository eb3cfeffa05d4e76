package wasm

import "github.com/danmuck/actorctl/internal/value"

// HeaderFields is the ordered header list crossing the sandbox
// boundary, encoded as {"fields": [[name, value], ...]}.
type HeaderFields struct {
	Fields [][2]string `json:"fields"`
}

// Pairs returns the headers as (name, value) tuples in order.
func (h HeaderFields) Pairs() [][2]string {
	return h.Fields
}

// HTTPRequest is the request record handed to the handle-http export.
type HTTPRequest struct {
	Method  string       `json:"method"`
	URI     string       `json:"uri"`
	Headers HeaderFields `json:"headers"`
	Body    value.Bytes  `json:"body"`
}

// HTTPResponse is the response triple the component computes.
type HTTPResponse struct {
	Status  int          `json:"status"`
	Headers HeaderFields `json:"headers"`
	Body    value.Bytes  `json:"body"`
}
