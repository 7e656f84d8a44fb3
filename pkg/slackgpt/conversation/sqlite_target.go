package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// snapshotSchema is executed on every open (idempotent).
const snapshotSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    taken_at TEXT NOT NULL,
    document TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_taken ON snapshots(taken_at);
`

// DefaultRetention is the number of snapshots kept when none is configured.
const DefaultRetention = 20

// SQLiteTarget keeps a rolling set of snapshots in a SQLite database. Save
// inserts a row and prunes rows beyond the retention; Load returns the
// newest row.
type SQLiteTarget struct {
	db        *sql.DB
	path      string
	retention int
}

// OpenSQLiteTarget opens (or creates) the snapshot database at path.
func OpenSQLiteTarget(path string, retention int) (*SQLiteTarget, error) {
	if path == "" {
		path = "./data/slackgpt.db"
	}
	if retention <= 0 {
		retention = DefaultRetention
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(snapshotSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteTarget{db: db, path: path, retention: retention}, nil
}

// Name returns a description of the database for logs.
func (t *SQLiteTarget) Name() string {
	return "sqlite:" + t.path
}

// Save inserts a snapshot and prunes old ones.
func (t *SQLiteTarget) Save(ctx context.Context, data []byte) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (taken_at, document) VALUES (?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), string(data),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM snapshots
		WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`,
		t.retention,
	)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load returns the newest snapshot. An empty table reports fs.ErrNotExist so
// it is treated like a missing file.
func (t *SQLiteTarget) Load(ctx context.Context) ([]byte, error) {
	var doc string
	err := t.db.QueryRowContext(ctx,
		`SELECT document FROM snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no snapshots in %s: %w", t.path, fs.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	return []byte(doc), nil
}

// Count returns the number of stored snapshots.
func (t *SQLiteTarget) Count(ctx context.Context) (int, error) {
	var n int
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (t *SQLiteTarget) Close() error {
	return t.db.Close()
}
