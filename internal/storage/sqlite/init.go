package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	files INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	error TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	finished_at DATETIME
);
CREATE TABLE IF NOT EXISTS batch_files (
	id INTEGER PRIMARY KEY,
	batch_id TEXT NOT NULL REFERENCES batches(id),
	file_name TEXT NOT NULL,
	completed_at DATETIME NOT NULL,
	UNIQUE(batch_id, file_name)
);
CREATE INDEX IF NOT EXISTS idx_batches_started_at ON batches(started_at);
`

// InitDB opens the SQLite database at path and creates the ledger tables if they don't exist.
// Use ":memory:" for a throwaway database.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// An in-memory database lives as long as its connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}
