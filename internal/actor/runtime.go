// Package actor owns the single-writer concurrency core: the bounded
// mailbox, the one consumer that serializes every sandbox invocation,
// and the actor's current state.
//
// Ownership boundary:
//   - ActorState: created by init, replaced wholesale on each successful
//     invocation, read by nothing else while a message is in flight
//   - mailbox ordering (FIFO) and backpressure (producers suspend)
//   - per-message error recovery: a failed message reaches only its own
//     caller, never stops the loop, never commits partial state
package actor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/actorctl/internal/observability"
	"github.com/danmuck/actorctl/internal/value"
	"github.com/danmuck/actorctl/internal/wasm"
)

// ErrShuttingDown resolves reply slots for messages the runtime will
// never process.
var ErrShuttingDown = errors.New("actor: runtime is shutting down")

// DefaultMailboxSize bounds pending messages before producers suspend.
const DefaultMailboxSize = 32

// ComponentHost is what the runtime needs from the sandbox host.
type ComponentHost interface {
	Init(ctx context.Context) (value.Value, error)
	Handle(ctx context.Context, msg, state value.Value) (output, newState value.Value, err error)
	HandleHTTP(ctx context.Context, request wasm.HTTPRequest, state value.Value) (wasm.HTTPResponse, value.Value, error)
	SupportsHTTP() bool
}

// Options configures a Runtime.
type Options struct {
	// Name labels log lines and metrics; usually the manifest name.
	Name string

	// MailboxSize overrides DefaultMailboxSize when positive.
	MailboxSize int
}

// Stats is a point-in-time view of the runtime.
type Stats struct {
	Name          string    `json:"name"`
	Processed     uint64    `json:"processed"`
	Failed        uint64    `json:"failed"`
	MailboxDepth  int       `json:"mailbox_depth"`
	StartedAt     time.Time `json:"started_at"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
}

// Runtime is the single logical owner of one actor.
type Runtime struct {
	host    ComponentHost
	name    string
	mailbox chan Message
	state   value.Value
	logger  zerolog.Logger

	// done closes when the consumer has stopped accepting work.
	done chan struct{}

	processed     atomic.Uint64
	failed        atomic.Uint64
	startedAt     time.Time
	lastMessageAt atomic.Int64
}

// New constructs a runtime and obtains the actor's first state from the
// component's init export. Init failures are startup failures.
func New(ctx context.Context, host ComponentHost, logger zerolog.Logger, opts Options) (*Runtime, error) {
	size := opts.MailboxSize
	if size <= 0 {
		size = DefaultMailboxSize
	}

	state, err := host.Init(ctx)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		host:      host,
		name:      opts.Name,
		mailbox:   make(chan Message, size),
		state:     state,
		logger:    observability.Component(logger, "mailbox"),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}, nil
}

// Send enqueues one message. It suspends while the mailbox is full (the
// producer absorbs backpressure; messages are never dropped) and fails
// once the runtime is shutting down or the producer's context ends.
func (r *Runtime) Send(ctx context.Context, msg Message) error {
	select {
	case <-r.done:
		return ErrShuttingDown
	default:
	}
	select {
	case r.mailbox <- msg:
		// The enqueue can commit in the same instant shutdown closes
		// done, after the consumer's drain already saw an empty
		// mailbox. Recheck and drain from here so no reply slot is
		// left unresolved.
		select {
		case <-r.done:
			r.drain()
			return ErrShuttingDown
		default:
		}
		observability.SetMailboxDepth(r.name, len(r.mailbox))
		return nil
	case <-r.done:
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the mailbox consumer. Exactly one call may be active per
// runtime; it alone reads and replaces the actor state. On context
// cancellation it finishes the in-flight message, fails every queued
// reply slot with ErrShuttingDown, and returns.
func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info().Str("actor", r.name).Msg("mailbox open")
	for {
		// Cancellation wins over queued work: once the context ends, no
		// further message starts processing.
		select {
		case <-ctx.Done():
			return r.shutdown()
		default:
		}
		select {
		case msg := <-r.mailbox:
			r.process(ctx, msg)
		case <-ctx.Done():
			return r.shutdown()
		}
	}
}

func (r *Runtime) shutdown() error {
	close(r.done)
	r.drain()
	r.logger.Info().Str("actor", r.name).Msg("mailbox closed")
	return nil
}

// Stats returns current runtime counters.
func (r *Runtime) Stats() Stats {
	stats := Stats{
		Name:         r.name,
		Processed:    r.processed.Load(),
		Failed:       r.failed.Load(),
		MailboxDepth: len(r.mailbox),
		StartedAt:    r.startedAt,
	}
	if last := r.lastMessageAt.Load(); last > 0 {
		stats.LastMessageAt = time.Unix(0, last)
	}
	return stats
}

// process runs one message against the component host and commits the
// returned state only on full success.
func (r *Runtime) process(ctx context.Context, msg Message) {
	start := time.Now()
	r.lastMessageAt.Store(start.UnixNano())

	var err error
	switch m := msg.(type) {
	case Regular:
		var output value.Value
		var newState value.Value
		output, newState, err = r.host.Handle(ctx, m.Content, r.state)
		if err == nil {
			r.state = newState
		}
		resolveRegular(m.Response, Result{Output: output, Err: err})
	case HTTP:
		var response wasm.HTTPResponse
		var newState value.Value
		response, newState, err = r.host.HandleHTTP(ctx, m.Request, r.state)
		if err == nil {
			r.state = newState
		}
		resolveHTTP(m.Response, HTTPResult{Response: response, Err: err})
	default:
		r.logger.Error().Str("actor", r.name).Msgf("unknown message type %T", msg)
		return
	}

	r.processed.Add(1)
	if err != nil {
		r.failed.Add(1)
		r.logger.Warn().Err(err).Str("actor", r.name).Str("kind", msg.kind()).Msg("message failed")
	}
	observability.RecordMessage(r.name, msg.kind(), err, time.Since(start))
	observability.SetMailboxDepth(r.name, len(r.mailbox))
}

// drain fails the reply slot of every message still queued at shutdown.
func (r *Runtime) drain() {
	for {
		select {
		case msg := <-r.mailbox:
			switch m := msg.(type) {
			case Regular:
				resolveRegular(m.Response, Result{Err: ErrShuttingDown})
			case HTTP:
				resolveHTTP(m.Response, HTTPResult{Err: ErrShuttingDown})
			}
		default:
			return
		}
	}
}

// Reply slots have capacity one and a single producer, so the sends
// below cannot block; the default branches guard against a caller that
// handed over an already-used slot.

func resolveRegular(slot chan Result, result Result) {
	if slot == nil {
		return
	}
	select {
	case slot <- result:
	default:
	}
}

func resolveHTTP(slot chan HTTPResult, result HTTPResult) {
	if slot == nil {
		return
	}
	select {
	case slot <- result:
	default:
	}
}
