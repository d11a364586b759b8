// Package state persists delegation records in a per-workspace SQLite
// database so tasks can be listed across processes and orphans recovered.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultPath is the workspace-relative database location.
const DefaultPath = ".conductor/state.db"

// DB wraps an SQLite connection.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// WorkspacePath returns the database path for a workspace root.
func WorkspacePath(root string) string {
	return filepath.Join(root, DefaultPath)
}

// Open opens (creating if needed) the database at path in WAL mode.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &DB{conn: conn, path: path}, nil
}

// OpenWorkspace opens and migrates the workspace database.
func OpenWorkspace(root string) (*DB, error) {
	db, err := Open(WorkspacePath(root))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

var migrations = []struct {
	version int
	sql     string
}{
	{1, migrationV1Delegations},
	{2, migrationV2Output},
}

// Migrate applies pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (db *DB) SchemaVersion() (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var v int
	err := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v)
	return v, err
}

const migrationV1Delegations = `
CREATE TABLE IF NOT EXISTS delegations (
	id TEXT PRIMARY KEY,
	call_id TEXT,
	parent_session_id TEXT NOT NULL,
	child_session_id TEXT,
	caller TEXT NOT NULL,
	target_agent TEXT NOT NULL,
	category TEXT NOT NULL,
	description TEXT,
	prompt TEXT,
	is_background INTEGER NOT NULL DEFAULT 0,
	files TEXT,
	status TEXT NOT NULL,
	owner_pid INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_delegations_parent ON delegations(parent_session_id);
CREATE INDEX IF NOT EXISTS idx_delegations_status ON delegations(status);
`

const migrationV2Output = `
ALTER TABLE delegations ADD COLUMN output TEXT;
`

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
