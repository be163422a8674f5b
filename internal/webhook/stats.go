package webhook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zjrosen/adwd/internal/adw"
)

// DefaultFailureRingSize is how many recent failures are retained when the
// config leaves the ring size unset.
const DefaultFailureRingSize = 25

// FailureRecord is one recent ingest failure.
type FailureRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Excerpt   string    `json:"excerpt"`
}

// SuccessRecord identifies the last successfully dispatched workflow.
type SuccessRecord struct {
	Timestamp time.Time    `json:"timestamp"`
	ADWID     string       `json:"adw_id"`
	Template  adw.Template `json:"workflow_template"`
}

// Snapshot is the webhook-status payload served over HTTP and the
// webhook-status topic.
type Snapshot struct {
	Received       int64           `json:"received"`
	Succeeded      int64           `json:"succeeded"`
	Failed         int64           `json:"failed"`
	UptimeSeconds  float64         `json:"uptime_seconds"`
	RecentFailures []FailureRecord `json:"recent_failures"`
	LastSuccess    *SuccessRecord  `json:"last_success,omitempty"`
}

// Stats tracks webhook ingest outcomes in memory. Counters reset with the
// process; the history database is the durable record.
type Stats struct {
	received  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	startedAt time.Time

	mu          sync.Mutex
	failures    []FailureRecord
	capacity    int
	lastSuccess *SuccessRecord
}

// NewStats creates a Stats with a failure ring of the given capacity.
// Non-positive means the default.
func NewStats(capacity int) *Stats {
	if capacity <= 0 {
		capacity = DefaultFailureRingSize
	}
	return &Stats{startedAt: time.Now().UTC(), capacity: capacity}
}

// Received counts one delivery.
func (s *Stats) Received() {
	s.received.Add(1)
}

// Succeeded counts one dispatched workflow and records it as the last
// success.
func (s *Stats) Succeeded(adwID string, template adw.Template) {
	s.succeeded.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSuccess = &SuccessRecord{
		Timestamp: time.Now().UTC(),
		ADWID:     adwID,
		Template:  template,
	}
}

// Failed counts one failure and pushes its excerpt onto the ring, evicting
// the oldest entry when full.
func (s *Stats) Failed(excerpt string) {
	s.failed.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, FailureRecord{
		Timestamp: time.Now().UTC(),
		Excerpt:   excerpt,
	})
	if len(s.failures) > s.capacity {
		s.failures = s.failures[len(s.failures)-s.capacity:]
	}
}

// Snapshot returns the current counters with recent failures newest first.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	failures := make([]FailureRecord, len(s.failures))
	for i, f := range s.failures {
		failures[len(s.failures)-1-i] = f
	}

	var last *SuccessRecord
	if s.lastSuccess != nil {
		clone := *s.lastSuccess
		last = &clone
	}

	return Snapshot{
		Received:       s.received.Load(),
		Succeeded:      s.succeeded.Load(),
		Failed:         s.failed.Load(),
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
		RecentFailures: failures,
		LastSuccess:    last,
	}
}
