// Package db provides the local SQLite entity store of the sync core.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps sql.DB with the location of the database file.
type DB struct {
	*sql.DB
	path string
}

// Open opens the SQLite database at path, creating its directory. The
// database is opened with:
// - WAL mode for concurrent reads during a drain
// - Foreign key constraints enabled
// - A busy timeout so background loops wait instead of failing
func Open(path string, busyTimeout time.Duration) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read journal mode: %w", err)
	}
	if mode != "wal" {
		db.Close()
		return nil, fmt.Errorf("WAL mode not enabled, got %q", mode)
	}

	return &DB{DB: db, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Size returns the bytes held by the database: its pages plus the
// write-ahead log not yet checkpointed.
func (db *DB) Size(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("read page count: %w", err)
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("read page size: %w", err)
	}

	size := pageCount * pageSize
	if fi, err := os.Stat(db.path + "-wal"); err == nil {
		size += fi.Size()
	}
	return size, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
