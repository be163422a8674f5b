package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/paths"
)

// writeWorkflow drops a minimal state file for adwID under the root.
func writeWorkflow(t *testing.T, root, adwID string, status adw.Status) {
	t.Helper()
	record, err := adw.NewWorkflowRecord(adwID, "42", adw.TemplatePlanISO, adw.ModelSetBase)
	require.NoError(t, err)
	record.Status = status
	record.CreatedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, adw.WriteStateFile(paths.StateFilePath(root, adwID), record))
}

func TestScanner_Scan(t *testing.T) {
	root := t.TempDir()
	writeWorkflow(t, root, "a1b2c3d4", adw.StatusCompleted)
	writeWorkflow(t, root, "b2c3d4e5", adw.StatusRunning)

	records, skipped, err := NewScanner(root).Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, records, 2)
	assert.Equal(t, "a1b2c3d4", records[0].ADWID, "records follow directory order")
	assert.Equal(t, "b2c3d4e5", records[1].ADWID)
}

func TestScanner_MissingRootIsEmpty(t *testing.T) {
	records, skipped, err := NewScanner(filepath.Join(t.TempDir(), "nope")).Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Empty(t, records)
}

func TestScanner_IgnoresNonWorkflowEntries(t *testing.T) {
	root := t.TempDir()
	writeWorkflow(t, root, "a1b2c3d4", adw.StatusCompleted)

	// The database and assorted directories live under the root too
	require.NoError(t, os.WriteFile(filepath.Join(root, "adwd.db"), []byte("db"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "worktrees"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ZZZZZZZZ"), 0o755))

	records, skipped, err := NewScanner(root).Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, skipped, "non-workflow entries are ignored, not skipped")
	require.Len(t, records, 1)
}

func TestScanner_CountsUnreadableStateFiles(t *testing.T) {
	root := t.TempDir()
	writeWorkflow(t, root, "a1b2c3d4", adw.StatusCompleted)

	// Workflow directory with corrupt JSON
	corrupt := filepath.Join(root, "b2c3d4e5")
	require.NoError(t, os.MkdirAll(corrupt, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(corrupt, "adw_state.json"), []byte("{oops"), 0o644))

	// Workflow directory with no state file at all
	require.NoError(t, os.MkdirAll(filepath.Join(root, "c3d4e5f6"), 0o755))

	records, skipped, err := NewScanner(root).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, records, 1)
	assert.Equal(t, "a1b2c3d4", records[0].ADWID)
}

func TestScanner_FillsADWIDFromDirectory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "a1b2c3d4")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "adw_state.json"),
		[]byte(`{"status": "queued", "issue_id": "7"}`), 0o644))

	records, skipped, err := NewScanner(root).Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, records, 1)
	assert.Equal(t, "a1b2c3d4", records[0].ADWID)
}

func TestScanner_SkipsMismatchedADWID(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "a1b2c3d4")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "adw_state.json"),
		[]byte(`{"adw_id": "ffffffff", "status": "queued"}`), 0o644))

	records, skipped, err := NewScanner(root).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Empty(t, records)
}

func TestScanner_SkipsUnknownStatus(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "a1b2c3d4")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "adw_state.json"),
		[]byte(`{"adw_id": "a1b2c3d4", "status": "exploded"}`), 0o644))

	records, skipped, err := NewScanner(root).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Empty(t, records)
}

func TestScanner_HonorsCancellation(t *testing.T) {
	root := t.TempDir()
	writeWorkflow(t, root, "a1b2c3d4", adw.StatusCompleted)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewScanner(root).Scan(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
