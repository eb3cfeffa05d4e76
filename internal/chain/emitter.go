// Package chain owns the process-wide audit trail of events crossing
// the host-function boundary.
//
// Ownership boundary:
//   - bounded event history (oldest evicted on overflow)
//   - live subscriber fanout (lossy per subscriber, never blocking)
//   - operator console lines for emitted events
//
// The emitter is constructed once and injected; it holds no global
// state and is safe for concurrent use.
package chain

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/actorctl/internal/observability"
)

const (
	// DefaultCapacity bounds the retained history.
	DefaultCapacity = 1000

	// subscriberQueueSize bounds each subscriber's private queue. A
	// subscriber that falls further behind than this misses events.
	subscriberQueueSize = 64
)

// Emitter is the append-only, bounded, broadcastable audit log. The
// history is a fixed ring: writes at capacity overwrite the oldest
// record.
type Emitter struct {
	mu       sync.Mutex
	ring     []ChainEvent
	start    int
	count    int
	capacity int
	subs     map[uint64]chan ChainEvent
	nextSub  uint64
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates an emitter retaining at most capacity events. Capacity
// values below one fall back to DefaultCapacity.
func New(capacity int, logger zerolog.Logger) *Emitter {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Emitter{
		ring:     make([]ChainEvent, capacity),
		capacity: capacity,
		subs:     make(map[uint64]chan ChainEvent),
		logger:   observability.Component(logger, "chain"),
		now:      time.Now,
	}
}

// Emit appends the event to history, fans it out to live subscribers,
// and writes one operator console line. Fanout never blocks: a
// subscriber with a full queue misses the event.
func (e *Emitter) Emit(event Event) ChainEvent {
	record := ChainEvent{Timestamp: e.now(), Event: event}

	e.mu.Lock()
	writePosition := (e.start + e.count) % e.capacity
	e.ring[writePosition] = record
	if e.count < e.capacity {
		e.count++
	} else {
		// Full: the slot just written was the oldest record.
		e.start = (e.start + 1) % e.capacity
	}
	for _, queue := range e.subs {
		select {
		case queue <- record:
		default:
			// Subscriber is not keeping up; it absorbs the loss.
		}
	}
	e.mu.Unlock()

	observability.RecordChainEvent(event.Type)
	e.logger.Info().
		Str("type", event.Type).
		Time("at", record.Timestamp).
		Interface("data", event.Data).
		Msg("chain_event")

	return record
}

// Subscription is one live receiver of chain events. Events emitted
// before Subscribe are never replayed.
type Subscription struct {
	C <-chan ChainEvent

	emitter *Emitter
	id      uint64
	once    sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.emitter.mu.Lock()
		queue, ok := s.emitter.subs[s.id]
		delete(s.emitter.subs, s.id)
		s.emitter.mu.Unlock()
		if ok {
			close(queue)
		}
	})
}

// Subscribe registers a fresh receiver observing only events emitted
// after this call.
func (e *Emitter) Subscribe() *Subscription {
	queue := make(chan ChainEvent, subscriberQueueSize)

	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = queue
	e.mu.Unlock()

	return &Subscription{C: queue, emitter: e, id: id}
}

// History returns a point-in-time copy of retained events, oldest first.
func (e *Emitter) History() []ChainEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ChainEvent, e.count)
	for i := 0; i < e.count; i++ {
		out[i] = e.ring[(e.start+i)%e.capacity]
	}
	return out
}

// Len returns the number of retained events.
func (e *Emitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}
