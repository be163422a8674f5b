package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zjrosen/adwd/internal/log"
	"github.com/zjrosen/adwd/internal/pubsub"
)

// DefaultQueueSize is the per-subscriber send ring capacity when the config
// leaves it unset.
const DefaultQueueSize = 64

// DefaultMaxSendFailures closes a subscriber after this many consecutive
// failed sends when the config leaves it unset.
const DefaultMaxSendFailures = 2

// snapshotTimeout bounds how long a subscribe waits for the initial
// snapshot of its topic.
const snapshotTimeout = 5 * time.Second

// Source synthesizes the current snapshot of one topic's state.
type Source interface {
	Snapshot(ctx context.Context) (any, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (any, error)

// Snapshot implements Source.
func (f SourceFunc) Snapshot(ctx context.Context) (any, error) {
	return f(ctx)
}

// StaticSource serves fixed data, for topics whose content never changes
// while the daemon runs.
func StaticSource(data any) Source {
	return SourceFunc(func(context.Context) (any, error) {
		return data, nil
	})
}

// Sources resolves topics to their snapshot source. Fixed topics register
// one source each; the parameterized adw-state topics share a factory keyed
// by workflow id.
type Sources struct {
	mu       sync.RWMutex
	fixed    map[Topic]Source
	adwState func(adwID string) Source
}

// NewSources creates an empty source registry.
func NewSources() *Sources {
	return &Sources{fixed: make(map[Topic]Source)}
}

// Register binds a fixed topic to its source, replacing any previous one.
func (s *Sources) Register(topic Topic, src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixed[topic] = src
}

// RegisterADWState binds the factory behind every adw-state/{id} topic.
func (s *Sources) RegisterADWState(factory func(adwID string) Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adwState = factory
}

// For resolves the source for a topic.
func (s *Sources) For(topic Topic) (Source, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := topic.ADWStateID(); ok {
		if s.adwState == nil {
			return nil, false
		}
		return s.adwState(id), true
	}
	src, ok := s.fixed[topic]
	return src, ok
}

// Config wires a Hub.
type Config struct {
	// Sources provides initial snapshots on subscribe. A hub with a nil
	// registry still relays watcher deltas but sends no snapshot.
	Sources *Sources

	// QueueSize is the per-subscriber send ring capacity. Zero means the
	// default (64).
	QueueSize int

	// MaxSendFailures closes a subscriber after that many consecutive
	// failed sends. Zero means the default (2).
	MaxSendFailures int

	// StateNudge, when set, wakes the dynamic adw-state watchers so a
	// state file change lands inside one tick. The daemon feeds it from
	// the fsnotify watcher.
	StateNudge *pubsub.Broker[struct{}]
}

// dynamicWatcher pairs a per-workflow topic watcher with the cancel that
// ends its nudge subscription.
type dynamicWatcher struct {
	watcher *Watcher
	cancel  context.CancelFunc
}

// Hub multiplexes topic updates to WebSocket subscribers. Watchers publish
// snapshots into it; it enqueues a frame on every matching subscriber without
// ever blocking on one.
type Hub struct {
	sources     *Sources
	queueSize   int
	maxFailures int
	stateNudge  *pubsub.Broker[struct{}]

	mu      sync.RWMutex
	topics  map[Topic]map[*Subscriber]struct{}
	dynamic map[Topic]*dynamicWatcher
	closed  bool
}

// New creates a Hub from cfg.
func New(cfg Config) *Hub {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	maxFailures := cfg.MaxSendFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxSendFailures
	}
	sources := cfg.Sources
	if sources == nil {
		sources = NewSources()
	}
	return &Hub{
		sources:     sources,
		queueSize:   queueSize,
		maxFailures: maxFailures,
		stateNudge:  cfg.StateNudge,
		topics:      make(map[Topic]map[*Subscriber]struct{}),
		dynamic:     make(map[Topic]*dynamicWatcher),
	}
}

// Sources returns the hub's source registry for wiring.
func (h *Hub) Sources() *Sources {
	return h.sources
}

// Subscribe attaches an upgraded connection to a topic. The subscriber
// receives the topic's initial snapshot first, then every published delta,
// and owns the connection from here on: it is closed when the client goes
// away, when sends keep failing, or when the hub shuts down.
func (h *Hub) Subscribe(topic Topic, conn *websocket.Conn) (*Subscriber, error) {
	sub := newSubscriber(topic, conn, h.queueSize, h.maxFailures, h.remove)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil, fmt.Errorf("hub is shut down")
	}
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.topics[topic] = set
	}
	set[sub] = struct{}{}
	count := len(set)
	h.mu.Unlock()

	// Snapshot before the pump starts so the first delivered frame is
	// always the full state, with deltas queued behind it in order.
	if src, ok := h.sources.For(topic); ok {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		snapshot, err := src.Snapshot(ctx)
		cancel()
		if err != nil {
			log.Warn(log.CatHub, "initial snapshot failed",
				"topic", string(topic), "error", err)
		} else {
			sub.Enqueue(NewFrame(topic, snapshot))
		}
	}

	sub.start()
	if _, ok := topic.ADWStateID(); ok {
		h.ensureDynamicWatcher(topic)
	}
	log.Info(log.CatHub, "subscriber added", "topic", string(topic), "count", count)
	return sub, nil
}

// ensureDynamicWatcher starts the per-workflow watcher behind an adw-state
// topic when its first subscriber arrives. Fixed topics get their watchers
// from the daemon's WatcherSet; the parameterized ones come and go with
// their audience.
func (h *Hub) ensureDynamicWatcher(topic Topic) {
	src, ok := h.sources.For(topic)
	if !ok {
		return
	}

	h.mu.Lock()
	if h.closed || h.dynamic[topic] != nil {
		h.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	var nudge <-chan struct{}
	if h.stateNudge != nil {
		nudge = NudgeChan(ctx, h.stateNudge)
	}
	w := NewWatcher(WatcherConfig{Topic: topic, Source: src, Hub: h, Nudge: nudge})
	h.dynamic[topic] = &dynamicWatcher{watcher: w, cancel: cancel}
	h.mu.Unlock()

	// Start outside the lock: the watcher publishes into the hub.
	w.Start()
}

// Publish fans a snapshot out to every subscriber of the topic, wrapped in
// the topic's frame envelope. Enqueueing never blocks; slow subscribers drop
// their oldest frames instead of holding up peers.
func (h *Hub) Publish(topic Topic, data any) {
	frame := NewFrame(topic, data)

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.topics[topic]))
	for sub := range h.topics[topic] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Enqueue(frame)
	}
}

// SubscriberCount returns the number of live subscribers on a topic.
func (h *Hub) SubscriberCount(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// HasSubscribers reports whether any client listens on the topic. Watchers
// for parameterized topics use it to stop when the last client leaves.
func (h *Hub) HasSubscribers(topic Topic) bool {
	return h.SubscriberCount(topic) > 0
}

// remove detaches a closed subscriber. The last subscriber of an adw-state
// topic also takes its dynamic watcher down with it.
func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	set, ok := h.topics[sub.topic]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, present := set[sub]; !present {
		h.mu.Unlock()
		return
	}
	delete(set, sub)
	remaining := len(set)

	var orphaned *dynamicWatcher
	if remaining == 0 {
		delete(h.topics, sub.topic)
		if dyn, ok := h.dynamic[sub.topic]; ok {
			delete(h.dynamic, sub.topic)
			orphaned = dyn
		}
	}
	h.mu.Unlock()

	if orphaned != nil {
		// Stop outside the lock: the watcher goroutine may be inside
		// Publish waiting on it.
		orphaned.cancel()
		orphaned.watcher.Stop()
	}
	log.Debug(log.CatHub, "subscriber removed",
		"topic", string(sub.topic), "count", remaining)
}

// Close shuts down the hub, closing every subscriber connection and dynamic
// watcher. Subsequent Subscribe calls fail; Publish becomes a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var subs []*Subscriber
	for _, set := range h.topics {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	var dynamics []*dynamicWatcher
	for _, dyn := range h.dynamic {
		dynamics = append(dynamics, dyn)
	}
	h.topics = make(map[Topic]map[*Subscriber]struct{})
	h.dynamic = make(map[Topic]*dynamicWatcher)
	h.mu.Unlock()

	for _, dyn := range dynamics {
		dyn.cancel()
		dyn.watcher.Stop()
	}
	for _, sub := range subs {
		sub.Close()
	}
	log.Info(log.CatHub, "hub closed", "subscribers", len(subs))
}
