// Package testutil provides fixture builders for workflow state files and
// the history database.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/adwd/internal/infrastructure/sqlite"
)

// NewTestDB opens a fully migrated history database under a temp directory.
// The database is closed when the test finishes.
func NewTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "adwd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
