// Package paths provides path resolution utilities for workflow state.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// StateFileName is the per-workflow state file inside each workflow directory.
const StateFileName = "adw_state.json"

// CostHistoryFileName is the optional per-workflow cost ledger written by
// workflow child processes.
const CostHistoryFileName = "cost_history.json"

// ExpandHome expands a leading "~/" to the user's home directory.
// Paths without the prefix are returned cleaned but otherwise unchanged.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Clean(path)
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return filepath.Clean(path)
}

// ResolveStateRoot resolves the workflow state root from user input.
// Resolution order: explicit input, ADWD_STATE_ROOT, ~/agents.
//
//   - "/path/to/agents" -> "/path/to/agents"
//   - "~/agents"        -> "<home>/agents"
//   - ""                -> $ADWD_STATE_ROOT or "<home>/agents"
func ResolveStateRoot(path string) string {
	if path == "" {
		path = os.Getenv("ADWD_STATE_ROOT")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "agents"
		}
		return filepath.Join(home, "agents")
	}
	return ExpandHome(path)
}

// ResolveDBPath resolves the history database path.
// Resolution order: explicit input, ADWD_DB_PATH, <stateRoot>/adwd.db.
func ResolveDBPath(path, stateRoot string) string {
	if path == "" {
		path = os.Getenv("ADWD_DB_PATH")
	}
	if path == "" {
		return filepath.Join(stateRoot, "adwd.db")
	}
	return ExpandHome(path)
}

// WorkflowDir returns the state directory for a workflow.
func WorkflowDir(stateRoot, adwID string) string {
	return filepath.Join(stateRoot, adwID)
}

// StateFilePath returns the adw_state.json path for a workflow.
func StateFilePath(stateRoot, adwID string) string {
	return filepath.Join(stateRoot, adwID, StateFileName)
}

// CostHistoryPath returns the optional cost_history.json path for a workflow.
func CostHistoryPath(stateRoot, adwID string) string {
	return filepath.Join(stateRoot, adwID, CostHistoryFileName)
}

// LogsDir returns the per-workflow log directory.
func LogsDir(stateRoot, adwID string) string {
	return filepath.Join(stateRoot, adwID, "logs")
}

// ExecutionLogPath returns the main execution log for a workflow.
func ExecutionLogPath(stateRoot, adwID string) string {
	return filepath.Join(LogsDir(stateRoot, adwID), "execution.log")
}

// RawOutputPath returns the raw agent output capture for a workflow.
func RawOutputPath(stateRoot, adwID string) string {
	return filepath.Join(LogsDir(stateRoot, adwID), "raw_output.jsonl")
}

// WorktreePath returns the isolated worktree directory for a workflow.
func WorktreePath(worktreeRoot, adwID string) string {
	return filepath.Join(worktreeRoot, adwID)
}
