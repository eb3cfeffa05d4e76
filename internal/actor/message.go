package actor

import (
	"github.com/danmuck/actorctl/internal/value"
	"github.com/danmuck/actorctl/internal/wasm"
)

// Message is one unit of work submitted to the mailbox. The set is
// closed: Regular for structured payloads, HTTP for bridge requests.
type Message interface {
	kind() string
}

// Result resolves a Regular message's reply slot: the component's
// computed output, or the per-message error.
type Result struct {
	Output value.Value
	Err    error
}

// HTTPResult resolves an HTTP message's reply slot.
type HTTPResult struct {
	Response wasm.HTTPResponse
	Err      error
}

// Regular carries a structured payload. Response is optional; when set
// it must be a channel with capacity one and is resolved exactly once.
type Regular struct {
	Content  value.Value
	Response chan Result
}

func (Regular) kind() string { return "regular" }

// HTTP carries an inbound bridge request. Response is required and is
// resolved exactly once.
type HTTP struct {
	Request  wasm.HTTPRequest
	Response chan HTTPResult
}

func (HTTP) kind() string { return "http" }

// NewReplySlot allocates a one-shot reply slot for a Regular message.
func NewReplySlot() chan Result {
	return make(chan Result, 1)
}

// NewHTTPReplySlot allocates a one-shot reply slot for an HTTP message.
func NewHTTPReplySlot() chan HTTPResult {
	return make(chan HTTPResult, 1)
}
