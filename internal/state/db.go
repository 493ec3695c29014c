// Package state persists conversion state in SQLite: the source
// checksum and output path written for each document, pending
// reference keys (for incremental link healing), and the diagnostics
// recorded by the last pass.
package state

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/raido/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	checksum   TEXT NOT NULL DEFAULT '',
	output     TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS pending_refs (
	source     TEXT NOT NULL,
	target_key TEXT NOT NULL,
	UNIQUE(source, target_key)
);

CREATE INDEX IF NOT EXISTS idx_pending_target ON pending_refs(target_key);

CREATE TABLE IF NOT EXISTS diagnostics (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	path       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	candidates TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_diag_path ON diagnostics(path);
`

// Store defines the conversion-state operations. Consumers should
// depend on this interface rather than the concrete *DB type to
// facilitate testing with mocks.
type Store interface {
	UpsertDoc(path, checksum, output string) error
	DeleteDoc(path string) error
	Doc(path string) (checksum, output string, err error)
	Checksums() (map[string]string, error)
	ReplacePending(path string, keys []string) error
	PendingFor(keys []string) ([]string, error)
	ReplaceDiagnostics(path string, diags []models.Diagnostic) error
	Diagnostics(limit int) ([]models.Diagnostic, error)
	CountDiagnostics() (int, error)
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)

// DB wraps a sql.DB with state-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("state: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("state: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("state: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
