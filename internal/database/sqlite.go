package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if necessary) the SQLite database at path. A
// single connection serializes writers, which keeps SQLITE_BUSY out of the
// request path.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// EnsureSQLiteSchema mirrors EnsureSchema for the embedded store. Timestamps
// are fixed-width UTC text so they compare correctly as strings.
func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS cases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	settlement_filename TEXT NOT NULL,
	settlement_path TEXT NOT NULL,
	settlement_media_type TEXT NOT NULL,
	bid_filename TEXT,
	bid_path TEXT,
	bid_media_type TEXT,
	has_bid INTEGER NOT NULL DEFAULT 0,
	settlement_text TEXT,
	bid_text TEXT,
	analysis_json TEXT,
	analysis_status TEXT NOT NULL DEFAULT 'pending',
	analysis_error TEXT,
	analysis_issues TEXT,
	analysis_started_at TEXT,
	case_name TEXT,
	case_number TEXT,
	jurisdiction TEXT,
	settlement_type TEXT
);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(analysis_status);`
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return nil
}
