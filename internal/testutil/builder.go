package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/paths"
)

// Builder accumulates workflow fixtures and writes them in the order the
// daemon would encounter them: state files, then cost ledgers, then
// history rows.
type Builder struct {
	t         *testing.T
	root      string
	repo      adw.HistoryRepository
	workflows []*adw.WorkflowRecord
	costs     map[string][]adw.CostEntry
}

// NewBuilder creates a builder writing under the given state root.
func NewBuilder(t *testing.T, root string) *Builder {
	t.Helper()
	return &Builder{t: t, root: root, costs: make(map[string][]adw.CostEntry)}
}

// IndexInto additionally mirrors every workflow into repo on Build, the way
// the history syncer would.
func (b *Builder) IndexInto(repo adw.HistoryRepository) *Builder {
	b.repo = repo
	return b
}

// WithWorkflow adds a workflow with optional configuration.
func (b *Builder) WithWorkflow(adwID string, opts ...WorkflowOption) *Builder {
	record := defaultWorkflow(adwID)
	for _, opt := range opts {
		opt(record)
	}
	b.workflows = append(b.workflows, record)
	return b
}

// WithCostHistory adds per-phase cost ledger entries for a workflow.
func (b *Builder) WithCostHistory(adwID string, entries ...adw.CostEntry) *Builder {
	b.costs[adwID] = append(b.costs[adwID], entries...)
	return b
}

// Records returns the accumulated workflow records in insertion order.
func (b *Builder) Records() []*adw.WorkflowRecord {
	return b.workflows
}

// Build writes all accumulated fixtures to disk and, when a repository was
// attached, into the history database.
func (b *Builder) Build() {
	b.t.Helper()
	for _, record := range b.workflows {
		b.writeState(record)
	}
	for adwID, entries := range b.costs {
		b.writeCostHistory(adwID, entries)
	}
	if b.repo != nil {
		for _, record := range b.workflows {
			require.NoError(b.t, b.repo.Upsert(record))
		}
	}
}

func (b *Builder) writeState(record *adw.WorkflowRecord) {
	b.t.Helper()
	err := adw.WriteStateFile(paths.StateFilePath(b.root, record.ADWID), record)
	require.NoError(b.t, err)
}

func (b *Builder) writeCostHistory(adwID string, entries []adw.CostEntry) {
	b.t.Helper()
	data, err := json.MarshalIndent(entries, "", "  ")
	require.NoError(b.t, err)
	path := paths.CostHistoryPath(b.root, adwID)
	require.NoError(b.t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(b.t, os.WriteFile(path, data, 0o600))
}
