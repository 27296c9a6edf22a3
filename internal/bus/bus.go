// Package bus is the typed publish/subscribe channel the simulation
// components emit domain notifications onto. The external transport layer
// subscribes here to build outbound payloads; the engine never waits on a
// subscriber.
package bus

import (
	"log/slog"
	"sync"
)

// Type names every notification kind the engine emits.
type Type string

const (
	BeaconLit          Type = "beacon_lit"
	BeaconPermanent    Type = "beacon_permanent"
	BeaconDarkened     Type = "beacon_darkened"
	EventStarted       Type = "event_started"
	EventEnded         Type = "event_ended"
	EventGoalReached   Type = "event_goal_reached"
	TierUp             Type = "tier_up"
	ConsumedByDarkness Type = "consumed_by_darkness"
	WarmthDepleted     Type = "warmth_depleted"
)

// Notification is one domain event. Payload is a plain serializable snapshot
// owned by the receiver; publishers never retain it.
type Notification struct {
	Type    Type   `json:"type"`
	Realm   string `json:"realm"`
	Tick    uint64 `json:"tick"`
	Payload any    `json:"payload,omitempty"`
}

// subscriber receives either one type or, when all is set, everything.
type subscriber struct {
	id  int
	typ Type
	all bool
	ch  chan Notification
}

// Bus fans notifications out to registered subscribers. Publish never
// blocks: a subscriber whose buffer is full misses the notification and the
// drop is counted.
type Bus struct {
	mu      sync.Mutex
	nextID  int
	subs    []subscriber
	dropped uint64
	closed  bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers for one notification type. The returned cancel func
// unregisters and closes the channel.
func (b *Bus) Subscribe(typ Type, buffer int) (<-chan Notification, func()) {
	return b.subscribe(typ, false, buffer)
}

// SubscribeAll registers for every notification type.
func (b *Bus) SubscribeAll(buffer int) (<-chan Notification, func()) {
	return b.subscribe("", true, buffer)
}

func (b *Bus) subscribe(typ Type, all bool, buffer int) (<-chan Notification, func()) {
	if buffer < 1 {
		buffer = 16
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := subscriber{id: b.nextID, typ: typ, all: all, ch: make(chan Notification, buffer)}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs = append(b.subs, sub)

	id := sub.id
	cancel := func() { b.unsubscribe(id) }
	return sub.ch, cancel
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Publish delivers n to every matching subscriber without blocking.
func (b *Bus) Publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if !s.all && s.typ != n.Type {
			continue
		}
		select {
		case s.ch <- n:
		default:
			b.dropped++
			if b.dropped%100 == 1 {
				slog.Warn("bus subscriber lagging, dropping", "type", n.Type, "total_dropped", b.dropped)
			}
		}
	}
}

// Dropped reports how many notifications were shed to slow subscribers.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close shuts the bus down; all subscriber channels are closed and further
// publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}
