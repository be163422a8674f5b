package dispatch

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zjrosen/adwd/internal/adw"
)

// Entry is one tracked child process.
type Entry struct {
	ADWID     string       `json:"adw_id"`
	PID       int          `json:"pid"`
	Template  adw.Template `json:"workflow_template"`
	StartTime time.Time    `json:"start_time"`
	LogPath   string       `json:"log_path"`
}

// Alive reports whether the entry's process still exists, via a signal-0
// probe. A registry entry can outlive its process briefly between exit and
// the reaper's cleanup.
func (e Entry) Alive() bool {
	return processAlive(e.PID)
}

// Registry tracks the child processes this daemon has spawned, keyed by
// adw_id. It is in-memory only and does not survive a daemon restart; the
// state files on disk are the durable record.
type Registry interface {
	// Put stores an entry. Returns an error when the adw_id is already
	// registered.
	Put(e Entry) error

	// Get retrieves an entry by adw_id.
	Get(adwID string) (Entry, bool)

	// List returns all entries, newest first.
	List() []Entry

	// Remove deletes an entry. Removing an absent id is a no-op; the
	// reaper and a concurrent stop may both clean up the same workflow.
	Remove(adwID string)

	// Len returns the number of tracked processes.
	Len() int
}

// inMemoryRegistry is a thread-safe in-memory Registry.
type inMemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty in-memory Registry.
func NewRegistry() Registry {
	return &inMemoryRegistry{entries: make(map[string]Entry)}
}

// Put stores an entry.
func (r *inMemoryRegistry) Put(e Entry) error {
	if !adw.ValidADWID(e.ADWID) {
		return fmt.Errorf("registry entry has invalid adw_id %q", e.ADWID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[e.ADWID]; exists {
		return fmt.Errorf("workflow %s is already registered", e.ADWID)
	}
	r.entries[e.ADWID] = e
	return nil
}

// Get retrieves an entry by adw_id.
func (r *inMemoryRegistry) Get(adwID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[adwID]
	return e, ok
}

// List returns all entries sorted by start time descending, adw_id
// descending on ties.
func (r *inMemoryRegistry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ADWID > out[j].ADWID
	})
	return out
}

// Remove deletes an entry.
func (r *inMemoryRegistry) Remove(adwID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, adwID)
}

// Len returns the number of tracked processes.
func (r *inMemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
