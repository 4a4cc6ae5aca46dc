// Package broadcast is the fan-out fabric between the change detectors and
// the SSE handlers. One Topic per logical stream; each subscriber owns a
// bounded queue. Slow subscribers absorb pressure by dropping their oldest
// events; a subscriber that keeps overflowing is evicted with a
// refresh-required notice.
package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/observability"
)

const (
	// subscriberQueueSize bounds each subscriber's local buffer.
	subscriberQueueSize = 64
	// evictAfterDrops evicts a subscriber once it has shed this many events
	// without ever catching up.
	evictAfterDrops = 256
)

// Event is one frame pushed to subscribers. Name maps to the SSE event
// field ("" means the default message event).
type Event struct {
	Name string
	Data []byte
}

// refreshRequired is the notice sent to a subscriber just before eviction.
var refreshRequired = Event{Name: "error", Data: []byte(`{"error":"refresh required","reason":"subscriber too slow"}`)}

// SnapshotFunc produces the full initial state of a topic. It runs under
// the topic lock so the snapshot is consistent with subsequent events.
type SnapshotFunc func(ctx context.Context) ([]byte, error)

// Subscriber is one connected client's queue.
type Subscriber struct {
	id    string
	ch    chan Event
	topic *Topic
	once  sync.Once
	drops int
}

// Events is the receive side of the queue. The channel closes when the
// subscriber is evicted or the topic shuts down.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Close detaches the subscriber from its topic.
func (s *Subscriber) Close() {
	s.topic.remove(s.id)
}

// Topic is one logical stream with its subscriber set.
type Topic struct {
	name     string
	mu       sync.Mutex
	subs     map[string]*Subscriber
	snapshot SnapshotFunc
	logger   *zap.Logger
	closed   bool
}

// SetSnapshot registers the initial-state producer for new subscribers.
func (t *Topic) SetSnapshot(fn SnapshotFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot = fn
}

// Subscribe registers a queue and delivers the full snapshot as its first
// event, strictly before any incremental update.
func (t *Topic) Subscribe(ctx context.Context) (*Subscriber, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, context.Canceled
	}

	sub := &Subscriber{
		id:    uuid.NewString(),
		ch:    make(chan Event, subscriberQueueSize),
		topic: t,
	}
	if t.snapshot != nil {
		data, err := t.snapshot(ctx)
		if err != nil {
			return nil, err
		}
		sub.ch <- Event{Name: "snapshot", Data: data}
	}
	t.subs[sub.id] = sub
	observability.StreamSubscribers.WithLabelValues(t.name).Set(float64(len(t.subs)))
	return sub, nil
}

// Publish enqueues the event for every subscriber without blocking the
// detector loop. A full queue sheds its oldest event first.
func (t *Topic) Publish(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evict []*Subscriber
	for _, sub := range t.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		// Queue full: drop the oldest, then retry once.
		select {
		case <-sub.ch:
			sub.drops++
			observability.StreamDrops.WithLabelValues(t.name).Inc()
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			sub.drops++
		}
		if sub.drops >= evictAfterDrops {
			evict = append(evict, sub)
		}
	}

	for _, sub := range evict {
		t.logger.Warn("evicting slow subscriber",
			zap.String("topic", t.name), zap.String("subscriber", sub.id))
		observability.StreamEvictions.WithLabelValues(t.name).Inc()
		// Best effort: make room for the notice, then close.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- refreshRequired:
		default:
		}
		t.removeLocked(sub.id)
	}
}

// SubscriberCount returns the current fan-out width.
func (t *Topic) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (t *Topic) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(id)
}

func (t *Topic) removeLocked(id string) {
	sub, ok := t.subs[id]
	if !ok {
		return
	}
	delete(t.subs, id)
	sub.once.Do(func() { close(sub.ch) })
	observability.StreamSubscribers.WithLabelValues(t.name).Set(float64(len(t.subs)))
}

// Hub owns all topics. It is created at server startup and passed to
// handlers and detectors; Shutdown closes every subscriber.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*Topic
	logger *zap.Logger
}

// NewHub builds an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{topics: make(map[string]*Topic), logger: logger}
}

// Topic returns the named topic, creating it on first use.
func (h *Hub) Topic(name string) *Topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[name]
	if !ok {
		t = &Topic{name: name, subs: make(map[string]*Subscriber), logger: h.logger}
		h.topics[name] = t
	}
	return t
}

// Publish is shorthand for Topic(name).Publish(ev); it does not create the
// topic when nobody ever subscribed to it.
func (h *Hub) Publish(name string, ev Event) {
	h.mu.Lock()
	t, ok := h.topics[name]
	h.mu.Unlock()
	if ok {
		t.Publish(ev)
	}
}

// Shutdown closes every subscriber of every topic.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.topics {
		t.mu.Lock()
		t.closed = true
		for id := range t.subs {
			t.removeLocked(id)
		}
		t.mu.Unlock()
	}
}
