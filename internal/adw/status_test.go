package adw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusQueued, "queued"},
		{StatusRunning, "running"},
		{StatusCompleted, "completed"},
		{StatusFailed, "failed"},
		{StatusStopped, "stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestStatus_IsValid(t *testing.T) {
	tests := []struct {
		status  Status
		isValid bool
	}{
		{StatusQueued, true},
		{StatusRunning, true},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusStopped, true},
		{Status("invalid"), false},
		{Status(""), false},
		{Status("RUNNING"), false}, // case sensitive
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			require.Equal(t, tt.isValid, tt.status.IsValid())
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusStopped, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			require.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"queued to running", StatusQueued, StatusRunning, true},
		{"queued to failed", StatusQueued, StatusFailed, true},
		{"queued to stopped", StatusQueued, StatusStopped, true},
		{"queued to completed skips running", StatusQueued, StatusCompleted, false},
		{"running to completed", StatusRunning, StatusCompleted, true},
		{"running to failed", StatusRunning, StatusFailed, true},
		{"running to stopped", StatusRunning, StatusStopped, true},
		{"running back to queued", StatusRunning, StatusQueued, false},
		{"completed is terminal", StatusCompleted, StatusRunning, false},
		{"failed is terminal", StatusFailed, StatusRunning, false},
		{"stopped is terminal", StatusStopped, StatusQueued, false},
		{"failed cannot complete", StatusFailed, StatusCompleted, false},
		{"same status is a no-op", StatusRunning, StatusRunning, true},
		{"same terminal status is a no-op", StatusCompleted, StatusCompleted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

// TestStatus_TerminalHasNoExits verifies no sequence of allowed transitions
// ever leaves a terminal status.
func TestStatus_TerminalHasNoExits(t *testing.T) {
	all := []Status{StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusStopped}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			if from == to {
				continue
			}
			assert.False(t, from.CanTransitionTo(to), "terminal %s must not transition to %s", from, to)
		}
	}
}

// TestStatus_TransitionMonotonic drives a record through random requested
// transitions and verifies the status never regresses: once running, never
// queued again; once terminal, frozen forever.
func TestStatus_TransitionMonotonic(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		record, err := NewWorkflowRecord("a1b2c3d4", "101", TemplatePlanISO, ModelSetBase)
		require.NoError(t, err)

		all := []Status{StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusStopped}
		steps := rapid.IntRange(1, 20).Draw(r, "steps")
		for i := 0; i < steps; i++ {
			before := record.Status
			next := rapid.SampledFrom(all).Draw(r, "next")

			err := record.TransitionTo(next)
			if err != nil {
				require.Equal(t, before, record.Status, "failed transition must not mutate status")
				continue
			}

			if before.IsTerminal() {
				require.Equal(t, before, record.Status, "terminal status must only accept itself")
			}
			if before == StatusRunning {
				require.NotEqual(t, StatusQueued, record.Status, "running must never regress to queued")
			}
		}
	})
}
