// Package sqlite provides the SQLite-backed persistence layer for workflow
// history, using the ncruces wasm build so the binary stays CGo-free.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver" // database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"  // embedded sqlite build

	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/log"
)

// ErrDatabaseClosed is returned for writes submitted after Close.
var ErrDatabaseClosed = errors.New("database is closed")

// writeReq is one unit of work for the writer goroutine.
type writeReq struct {
	fn    func() error
	reply chan error
}

// DB wraps the SQLite connection, the writer funnel, and repository
// constructors. All writes flow through a single goroutine so concurrent
// syncs and resyncs never contend for the write lock; reads go straight to
// the connection pool.
type DB struct {
	conn   *sql.DB
	path   string
	writes chan writeReq
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewDB opens the history database at path, creating the parent directory
// and the file as needed, backs up any existing file, applies pending
// migrations, and starts the writer goroutine.
func NewDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Snapshot the current file before migrations can touch it.
	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".bak"); err != nil {
			return nil, fmt.Errorf("backing up database: %w", err)
		}
		log.Debug(log.CatDB, "pre-migration backup written", "path", path+".bak")
	}

	dsn := "file:" + path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	db := &DB{
		conn:   conn,
		path:   path,
		writes: make(chan writeReq),
		done:   make(chan struct{}),
	}
	log.SafeGo("sqlite-writer", db.writeLoop)
	return db, nil
}

// write runs fn on the writer goroutine and waits for its result.
func (db *DB) write(fn func() error) error {
	req := writeReq{fn: fn, reply: make(chan error, 1)}
	select {
	case db.writes <- req:
		return <-req.reply
	case <-db.done:
		return ErrDatabaseClosed
	}
}

func (db *DB) writeLoop() {
	for {
		select {
		case req := <-db.writes:
			req.reply <- req.fn()
		case <-db.done:
			return
		}
	}
}

// Close stops the writer goroutine and closes the connection. Safe to call
// more than once.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		close(db.done)
		db.closeErr = db.conn.Close()
	})
	return db.closeErr
}

// Connection returns the underlying *sql.DB for health checks and ad-hoc
// read queries.
func (db *DB) Connection() *sql.DB {
	return db.conn
}

// HistoryRepository returns the workflow history repository bound to this
// database.
func (db *DB) HistoryRepository() adw.HistoryRepository {
	return newHistoryRepository(db)
}

// copyFile copies src to dst, truncating dst if it exists.
func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // src is the configured db path
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // dst derives from src
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
