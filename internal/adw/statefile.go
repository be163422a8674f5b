package adw

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// partialWriteRetryDelay is how long a reader waits before retrying a state
// file that failed to parse. Child processes write their state files without
// coordination, so a read can catch a write mid-flight.
const partialWriteRetryDelay = 100 * time.Millisecond

// ReadStateFile loads a workflow record from path. Unknown JSON keys are
// preserved in the record's Extra map. A parse failure is retried once after
// a short delay before being reported.
func ReadStateFile(path string) (*WorkflowRecord, error) {
	record, err := decodeStateFile(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return record, err
	}
	time.Sleep(partialWriteRetryDelay)
	return decodeStateFile(path)
}

func decodeStateFile(path string) (*WorkflowRecord, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from the configured state root
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	var record WorkflowRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	return &record, nil
}

// WriteStateFile persists a workflow record to path atomically, creating the
// parent directory if needed. Extra fields carried by the record are merged
// back into the output so a read-modify-write cycle never drops keys written
// by a newer child process.
func WriteStateFile(path string, record *WorkflowRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state file: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating workflow directory: %w", err)
	}

	// Write to a temp file in the same directory and rename so readers
	// never observe a half-written state file from this process.
	tmp, err := os.CreateTemp(dir, ".adw_state.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// CostEntry is one line of a workflow's optional cost_history.json file,
// appended by the child process after each phase attempt.
type CostEntry struct {
	Phase           string  `json:"phase"`
	Cost            float64 `json:"cost"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`

	// Attempt numbers start at 1; anything above 1 is a retry.
	Attempt int `json:"attempt,omitempty"`

	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// IsRetry returns true if the entry records a repeated phase attempt.
func (e CostEntry) IsRetry() bool {
	return e.Attempt > 1
}

// ReadCostHistory loads the per-phase cost entries for a workflow. A missing
// file is not an error; enrichment is strictly best-effort.
func ReadCostHistory(path string) ([]CostEntry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from the configured state root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cost history: %w", err)
	}
	var entries []CostEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing cost history %s: %w", path, err)
	}
	return entries, nil
}
