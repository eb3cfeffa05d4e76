package chain

import (
	"time"

	"github.com/danmuck/actorctl/internal/value"
)

// Event is one record of host-function traffic: a type tag plus a
// structured payload.
type Event struct {
	Type string      `json:"type"`
	Data value.Value `json:"data"`
}

// Noop is the explicit empty event.
func Noop() Event {
	return Event{Type: "noop", Data: nil}
}

// ChainEvent wraps an Event with emission metadata. Append-only; never
// mutated after emission.
type ChainEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Event     Event     `json:"event"`
}
