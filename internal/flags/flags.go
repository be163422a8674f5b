// Package flags reads the feature-flag block of the daemon config. A flag
// is a named bool; anything the config does not set reads as disabled, so
// new builds roll out dark against old config files.
package flags

import (
	"maps"

	"github.com/zjrosen/adwd/internal/log"
)

// Flags the daemon currently consults.
const (
	// FlagClassifierFallback turns on the agentic classifier when fast-path
	// extraction finds no workflow command in a webhook delivery.
	FlagClassifierFallback = "classifier-fallback"

	// FlagCostResync re-merges completed workflows on startup to pick up
	// late-arriving cost data.
	FlagCostResync = "cost-resync"

	// FlagSidecarServices starts the webhook and tunnel sidecars alongside
	// the daemon.
	FlagSidecarServices = "sidecar-services"
)

var knownFlags = map[string]bool{
	FlagClassifierFallback: true,
	FlagCostResync:         true,
	FlagSidecarServices:    true,
}

// Registry is the immutable flag state for one daemon run.
type Registry struct {
	flags map[string]bool
}

// New builds a Registry from the config's flag block, detached from the
// caller's map. Keys this build does not read are kept (an older daemon may
// load a newer config) but flagged once as probable typos.
func New(settings map[string]bool) *Registry {
	r := &Registry{flags: maps.Clone(settings)}
	for name := range settings {
		if !knownFlags[name] {
			log.Warn(log.CatConfig, "config sets a flag this build does not read", "flag", name)
		}
	}
	log.Debug(log.CatConfig, "feature flags loaded", "count", len(r.flags), "flags", r.All())
	return r
}

// Enabled reports whether the named flag is on. Unset and unknown flags are
// off, and a nil Registry reads as all-off.
func (r *Registry) Enabled(name string) bool {
	if r == nil {
		return false
	}
	return r.flags[name]
}

// All returns a copy of the flag state for logging.
func (r *Registry) All() map[string]bool {
	if r == nil {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(r.flags))
	maps.Copy(out, r.flags)
	return out
}
