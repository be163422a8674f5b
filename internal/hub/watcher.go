package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/zjrosen/adwd/internal/log"
	"github.com/zjrosen/adwd/internal/pubsub"
)

// Per-topic polling cadences. State-backed topics also take an fsnotify
// nudge so a change lands inside one tick instead of waiting a full period.
const (
	IntervalWorkflows       = 2 * time.Second
	IntervalQueue           = 2 * time.Second
	IntervalADWMonitor      = 2 * time.Second
	IntervalADWState        = 2 * time.Second
	IntervalWorkflowHistory = 10 * time.Second
	IntervalWebhookStatus   = 5 * time.Second
	IntervalSystemStatus    = 30 * time.Second
	IntervalPlannedFeatures = 30 * time.Second
)

// DefaultInterval returns the polling cadence for a topic. Routes is static
// and has no watcher; it maps to zero.
func DefaultInterval(topic Topic) time.Duration {
	if _, ok := topic.ADWStateID(); ok {
		return IntervalADWState
	}
	switch topic {
	case TopicWorkflows:
		return IntervalWorkflows
	case TopicQueue:
		return IntervalQueue
	case TopicADWMonitor:
		return IntervalADWMonitor
	case TopicWorkflowHistory:
		return IntervalWorkflowHistory
	case TopicWebhookStatus:
		return IntervalWebhookStatus
	case TopicSystemStatus:
		return IntervalSystemStatus
	case TopicPlannedFeatures:
		return IntervalPlannedFeatures
	default:
		return 0
	}
}

// WatcherConfig wires a topic watcher.
type WatcherConfig struct {
	Topic  Topic
	Source Source
	Hub    *Hub

	// Interval between polls. Zero means the topic's default cadence.
	Interval time.Duration

	// Nudge, when set, triggers an immediate extra poll; the state-root
	// file watcher feeds it for filesystem-backed topics.
	Nudge <-chan struct{}
}

// Watcher polls one topic's source and publishes a delta whenever the
// serialized snapshot differs from the previous poll. Per-topic ordering is
// the watcher's observation order; there is no ordering across topics.
type Watcher struct {
	topic    Topic
	source   Source
	hub      *Hub
	interval time.Duration
	nudge    <-chan struct{}

	prev []byte

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher from cfg.
func NewWatcher(cfg WatcherConfig) *Watcher {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval(cfg.Topic)
	}
	if interval <= 0 {
		interval = IntervalSystemStatus
	}
	return &Watcher{
		topic:    cfg.Topic,
		source:   cfg.Source,
		hub:      cfg.Hub,
		interval: interval,
		nudge:    cfg.Nudge,
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop. The first poll primes the baseline
// without publishing; subscribers get that state as their initial snapshot
// instead.
func (w *Watcher) Start() {
	w.wg.Add(1)
	log.SafeGo("hub-watcher-"+string(w.topic), func() {
		defer w.wg.Done()
		w.run()
	})
}

// Stop ends the polling loop. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Watcher) run() {
	w.poll(true)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.poll(false)
		case <-w.nudge:
			w.poll(false)
		}
	}
}

// poll builds a snapshot and publishes it when it differs from the previous
// one. Snapshot or serialization trouble skips the tick; the next poll sees
// fresh state.
func (w *Watcher) poll(prime bool) {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	snapshot, err := w.source.Snapshot(ctx)
	if err != nil {
		log.Warn(log.CatHub, "watcher snapshot failed",
			"topic", string(w.topic), "error", err)
		return
	}

	// encoding/json sorts map keys, and every source orders its lists, so
	// equal state always serializes to equal bytes.
	data, err := json.Marshal(snapshot)
	if err != nil {
		log.ErrorErr(log.CatHub, "watcher snapshot not serializable", err,
			"topic", string(w.topic))
		return
	}

	if bytes.Equal(w.prev, data) {
		return
	}
	if !prime && w.prev != nil {
		w.logDelta(w.prev, data)
	}
	w.prev = data

	if prime {
		return
	}
	w.hub.Publish(w.topic, snapshot)
}

// logDelta debug-logs a compact summary of what changed between snapshots.
func (w *Watcher) logDelta(prev, next []byte) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(prev), string(next), false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var added, removed int
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += len(d.Text)
		case diffmatchpatch.DiffEqual:
		}
	}
	log.Debug(log.CatHub, "topic changed",
		"topic", string(w.topic), "added_bytes", added, "removed_bytes", removed,
		"subscribers", w.hub.SubscriberCount(w.topic))
}

// NudgeChan adapts a broker subscription into a watcher nudge channel. The
// signal is coalesced: a burst of publishes while the watcher is mid-poll
// collapses into one pending nudge. The returned channel stops receiving
// when ctx ends but is never closed, so selects on it stay quiet.
func NudgeChan(ctx context.Context, broker *pubsub.Broker[struct{}]) <-chan struct{} {
	out := make(chan struct{}, 1)
	events := broker.Subscribe(ctx)
	log.SafeGo("hub-nudge-fan", func() {
		for range events {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	})
	return out
}

// WatcherSet owns the watcher per mutable fixed topic, so the daemon can
// start and stop them as one unit.
type WatcherSet struct {
	watchers []*Watcher
}

// NewWatcherSet builds a watcher for every registered fixed topic except
// routes, which is static. Topics in nudged get the nudge channel.
func NewWatcherSet(h *Hub, nudged map[Topic]<-chan struct{}) *WatcherSet {
	var ws WatcherSet
	for _, topic := range FixedTopics() {
		if topic == TopicRoutes {
			continue
		}
		src, ok := h.Sources().For(topic)
		if !ok {
			continue
		}
		ws.watchers = append(ws.watchers, NewWatcher(WatcherConfig{
			Topic:  topic,
			Source: src,
			Hub:    h,
			Nudge:  nudged[topic],
		}))
	}
	return &ws
}

// Add appends an extra watcher to the set.
func (ws *WatcherSet) Add(w *Watcher) {
	ws.watchers = append(ws.watchers, w)
}

// Start launches every watcher.
func (ws *WatcherSet) Start() {
	for _, w := range ws.watchers {
		w.Start()
	}
	log.Info(log.CatHub, "topic watchers started", "count", len(ws.watchers))
}

// Stop halts every watcher.
func (ws *WatcherSet) Stop() {
	for _, w := range ws.watchers {
		w.Stop()
	}
}
