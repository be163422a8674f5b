package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/adwd/internal/adw"
)

func TestNewTestDB_MigratesSchema(t *testing.T) {
	db := NewTestDB(t)

	var count int
	err := db.Connection().
		QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='workflow_history'`).
		Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count, "expected workflow_history table")
}

func TestNewTestDB_RepositoryRoundTrip(t *testing.T) {
	db := NewTestDB(t)
	repo := db.HistoryRepository()

	record, err := adw.NewWorkflowRecord("0a1b2c3d", "7", adw.TemplatePlanISO, adw.ModelSetBase)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(record))

	got, err := repo.Get("0a1b2c3d")
	require.NoError(t, err)
	require.Equal(t, "7", got.IssueID)
	require.Equal(t, adw.StatusQueued, got.Status)
}

func TestNewTestDB_IsolatedPerTest(t *testing.T) {
	first := NewTestDB(t)
	second := NewTestDB(t)

	record, err := adw.NewWorkflowRecord("0a1b2c3d", "", adw.TemplatePlanISO, adw.ModelSetBase)
	require.NoError(t, err)
	require.NoError(t, first.HistoryRepository().Upsert(record))

	_, err = second.HistoryRepository().Get("0a1b2c3d")
	var notFound *adw.WorkflowNotFoundError
	require.ErrorAs(t, err, &notFound)
}
