package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the local SQLite metadata database: the ingestion queue, the poller
// checkpoint and the push log. It is separate from the synced table's store.
type DB struct {
	conn *sql.DB
	path string
}

// New creates a new DB, opening (or creating) the SQLite file at dbPath.
func New(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite has a single writer and extra ones hit SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: dbPath}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) migrate() error {
	migrations := []string{
		// Ingestion queue: one row per SyncRequest, kept until done or dead.
		`CREATE TABLE IF NOT EXISTS ingest_jobs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			job_key TEXT NOT NULL DEFAULT '',
			request_json TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			result_json TEXT NOT NULL DEFAULT '',
			available_at INTEGER NOT NULL,
			lease_until INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ingest_jobs_status ON ingest_jobs(status, available_at)`,
		// Change poller position, one row per synced table.
		`CREATE TABLE IF NOT EXISTS poll_checkpoints (
			name TEXT PRIMARY KEY,
			last_successful_push INTEGER NOT NULL DEFAULT 0,
			last_known_count INTEGER NOT NULL DEFAULT -1,
			updated_at INTEGER NOT NULL
		)`,
		// Outbound push attempts.
		`CREATE TABLE IF NOT EXISTS push_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			updates INTEGER NOT NULL DEFAULT 0,
			valid_ids INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_push_log_name ON push_log(name, started_at)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %s: %w", m[:40], err)
		}
	}

	return nil
}
