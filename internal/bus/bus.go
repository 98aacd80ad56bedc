// Package bus implements the append-only cognition event log. Events get a
// strictly monotone sequence number at enqueue; subscribers are dispatched
// synchronously in enqueue order, typed subscribers before wildcard ones.
// The log is a bounded ring: past capacity the oldest events are evicted,
// which never invalidates future sequence numbers.
package bus

import (
	"sync"
	"time"

	"concord/internal/idclock"
	"concord/internal/logging"
	"concord/internal/metrics"
)

// EventMeta identifies the principal and shard behind an event.
type EventMeta struct {
	ActorID   string `json:"actor_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Shard     string `json:"shard,omitempty"`
}

// Event is one entry in the cognition log. Seq is the only ordering key;
// TS is informational wall clock.
type Event struct {
	Seq     uint64         `json:"seq"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	TS      time.Time      `json:"ts"`
	Meta    EventMeta      `json:"meta"`
	Unknown bool           `json:"_unknownType,omitempty"`
}

// Subscriber receives events. A panicking subscriber is isolated; it never
// takes down the bus or starves other subscribers.
type Subscriber func(Event)

type subscription struct {
	id    uint64
	topic string
	fn    Subscriber
}

// Query filters a log read. Zero values mean "any".
type Query struct {
	Type      string
	Since     uint64 // inclusive lower seq bound
	Until     uint64 // inclusive upper seq bound, 0 = open
	ActorID   string
	SessionID string
	Shard     string
	Limit     int
	Offset    int
}

// Bus is the cognition event log.
type Bus struct {
	clock    *idclock.Clock
	capacity int
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	ring   []Event // ordered by seq; index 0 is oldest retained
	subs   map[string][]subscription
	wild   []subscription
	nextID uint64
}

// DefaultCapacity bounds the ring when the caller passes zero.
const DefaultCapacity = 100_000

// New builds a Bus over the given clock. capacity <= 0 uses DefaultCapacity.
func New(clock *idclock.Clock, capacity int, m *metrics.Metrics) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Bus{
		clock:    clock,
		capacity: capacity,
		metrics:  m,
		subs:     make(map[string][]subscription),
	}
}

// Emit appends an event and dispatches it synchronously. Unknown types are
// accepted but stamped; they still reach wildcard subscribers.
func (b *Bus) Emit(eventType string, payload map[string]any, meta EventMeta) Event {
	ev := Event{
		Type:    eventType,
		Payload: payload,
		TS:      time.Now(),
		Meta:    meta,
		Unknown: !KnownTopic(eventType),
	}

	b.mu.Lock()
	ev.Seq = b.clock.NextSeq()
	b.ring = append(b.ring, ev)
	if len(b.ring) > b.capacity {
		dropped := len(b.ring) - b.capacity
		b.ring = append(b.ring[:0:0], b.ring[dropped:]...)
		b.metrics.EventsDropped.Add(float64(dropped))
	}
	typed := append([]subscription(nil), b.subs[ev.Type]...)
	wild := append([]subscription(nil), b.wild...)
	b.mu.Unlock()

	b.metrics.EventsEmitted.WithLabelValues(ev.Type).Inc()

	for _, s := range typed {
		b.deliver(s, ev)
	}
	for _, s := range wild {
		b.deliver(s, ev)
	}
	return ev
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryBus).Sugar().Warnw("subscriber panicked",
				"topic", s.topic, "seq", ev.Seq, "panic", r)
		}
	}()
	s.fn(ev)
}

// Subscribe registers a callback for a topic or the "*" wildcard. The
// returned function removes the subscription.
func (b *Bus) Subscribe(topic string, fn Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := subscription{id: b.nextID, topic: topic, fn: fn}
	if topic == Wildcard {
		b.wild = append(b.wild, sub)
	} else {
		b.subs[topic] = append(b.subs[topic], sub)
	}

	id := sub.id
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if topic == Wildcard {
			b.wild = removeSub(b.wild, id)
		} else {
			b.subs[topic] = removeSub(b.subs[topic], id)
		}
	}
}

func removeSub(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// QueryEvents reads retained events matching the query, in seq order.
func (b *Bus) QueryEvents(q Query) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	skipped := 0
	for _, ev := range b.ring {
		if q.Type != "" && ev.Type != q.Type {
			continue
		}
		if q.Since != 0 && ev.Seq < q.Since {
			continue
		}
		if q.Until != 0 && ev.Seq > q.Until {
			continue
		}
		if q.ActorID != "" && ev.Meta.ActorID != q.ActorID {
			continue
		}
		if q.SessionID != "" && ev.Meta.SessionID != q.SessionID {
			continue
		}
		if q.Shard != "" && ev.Meta.Shard != q.Shard {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		out = append(out, ev)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}

// Snapshot returns the retained events with fromSeq <= seq <= toSeq.
// toSeq 0 means "to the end".
func (b *Bus) Snapshot(fromSeq, toSeq uint64) []Event {
	return b.QueryEvents(Query{Since: fromSeq, Until: toSeq})
}

// Len reports the number of retained events.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ring)
}
