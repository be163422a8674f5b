package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/adwd/internal/history"
	"github.com/zjrosen/adwd/internal/infrastructure/sqlite"
	"github.com/zjrosen/adwd/internal/log"
	"github.com/zjrosen/adwd/internal/paths"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Index workflow state files into the history database",
	Long: `Run one full indexing pass over the workflow state root and exit.

Every adw_state.json under the state root is scanned, enriched with cost
data, scored, and upserted into the history database. The running daemon
does the same continuously; this command covers machines without one, or
backfills after manual state edits.`,
	RunE: runSync,
}

var resyncCosts bool

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVar(&resyncCosts, "resync-costs", false,
		"re-merge cost histories into completed records after the sync")
}

func runSync(cmd *cobra.Command, _ []string) error {
	if debugFlag || os.Getenv("ADWD_DEBUG") != "" {
		logPath := os.Getenv("ADWD_LOG")
		if logPath == "" {
			logPath = "debug.log"
		}
		cleanup, err := log.Init(logPath)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		defer cleanup()
	}

	stateRoot := paths.ResolveStateRoot(cfg.State.Root)
	dbPath := paths.ResolveDBPath(cfg.History.DBPath, stateRoot)
	return syncOnce(cmd.Context(), cmd.OutOrStdout(), stateRoot, dbPath, resyncCosts)
}

// syncOnce runs a single indexing pass, and optionally a cost resync,
// against the given roots, printing the summaries to w.
func syncOnce(ctx context.Context, w io.Writer, stateRoot, dbPath string, resync bool) error {
	db, err := sqlite.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}
	defer func() { _ = db.Close() }()

	syncer := history.NewSyncer(history.Config{
		StateRoot: stateRoot,
		Repo:      db.HistoryRepository(),
	})

	summary, err := syncer.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	fmt.Fprintf(w, "Indexed %d of %d workflows (%d skipped, %d failed) in %s\n",
		summary.Synced, summary.Scanned, summary.Skipped, summary.Failed,
		summary.Elapsed.Round(time.Millisecond))

	if resync {
		rs, err := syncer.Resync(ctx)
		if err != nil {
			return fmt.Errorf("cost resync failed: %w", err)
		}
		fmt.Fprintf(w, "Updated costs on %d completed workflows (%d without cost data, %d failed)\n",
			rs.Synced, rs.Skipped, rs.Failed)
	}
	return nil
}
