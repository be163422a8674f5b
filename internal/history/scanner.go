package history

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/log"
	"github.com/zjrosen/adwd/internal/paths"
)

// Scanner enumerates workflow state directories under the state root.
type Scanner struct {
	stateRoot string
}

// NewScanner creates a scanner rooted at the given state directory.
func NewScanner(stateRoot string) *Scanner {
	return &Scanner{stateRoot: stateRoot}
}

// Scan reads every workflow state file under the root and returns the parsed
// records plus the number of entries skipped as unreadable. Entries that are
// not workflow directories (the database file, stray files) are ignored. A
// missing root is not an error; nothing has run yet.
//
// os.ReadDir returns entries sorted by name, so repeated scans over the same
// tree yield records in the same order.
func (s *Scanner) Scan(ctx context.Context) ([]*adw.WorkflowRecord, int, error) {
	entries, err := os.ReadDir(s.stateRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("reading state root: %w", err)
	}

	var (
		records []*adw.WorkflowRecord
		skipped int
	)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return records, skipped, err
		}
		if !entry.IsDir() || !adw.ValidADWID(entry.Name()) {
			continue
		}

		record, err := adw.ReadStateFile(paths.StateFilePath(s.stateRoot, entry.Name()))
		if err != nil {
			skipped++
			log.Warn(log.CatHistory, "skipping unreadable state file", "adw_id", entry.Name(), "error", err)
			continue
		}
		if record.ADWID == "" {
			record.ADWID = entry.Name()
		}
		if record.ADWID != entry.Name() {
			skipped++
			log.Warn(log.CatHistory, "state file adw_id does not match its directory", "dir", entry.Name(), "adw_id", record.ADWID)
			continue
		}
		if !record.Status.IsValid() {
			skipped++
			log.Warn(log.CatHistory, "state file carries an unknown status", "adw_id", record.ADWID, "status", record.Status)
			continue
		}
		records = append(records, record)
	}
	return records, skipped, nil
}
