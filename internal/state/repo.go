package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
)

// UpsertDoc records (or refreshes) a converted document.
func (db *DB) UpsertDoc(path, checksum, output string) error {
	_, err := db.conn.Exec(`
		INSERT INTO documents (path, checksum, output, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET
			checksum   = excluded.checksum,
			output     = excluded.output,
			updated_at = excluded.updated_at
	`, path, checksum, output)
	if err != nil {
		return fmt.Errorf("state: upsert doc: %w", err)
	}
	return nil
}

// DeleteDoc removes a document plus its pending refs and diagnostics.
func (db *DB) DeleteDoc(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("state: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, _ = tx.Exec(`DELETE FROM pending_refs WHERE source = ?`, path)
	_, _ = tx.Exec(`DELETE FROM diagnostics WHERE path = ?`, path)
	_, _ = tx.Exec(`DELETE FROM documents WHERE path = ?`, path)

	return tx.Commit()
}

// Doc returns the stored checksum and output path for a document.
func (db *DB) Doc(path string) (string, string, error) {
	var checksum, output string
	err := db.conn.QueryRow(
		`SELECT checksum, output FROM documents WHERE path = ?`, path,
	).Scan(&checksum, &output)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", apperr.ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("state: doc: %w", err)
	}
	return checksum, output, nil
}

// Checksums returns the stored checksum for every document.
func (db *DB) Checksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("state: checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// ReplacePending replaces the unresolved/ambiguous target keys last
// seen in a source document. These are the keys whose later appearance
// in the map must trigger re-transformation of that document.
func (db *DB) ReplacePending(path string, keys []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("state: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.Exec(`DELETE FROM pending_refs WHERE source = ?`, path)
	if len(keys) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO pending_refs (source, target_key) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("state: prepare pending insert: %w", err)
		}
		defer stmt.Close()
		for _, key := range keys {
			if _, err := stmt.Exec(path, key); err != nil {
				return fmt.Errorf("state: insert pending: %w", err)
			}
		}
	}
	return tx.Commit()
}

// PendingFor returns the distinct source documents holding a pending
// reference to any of the given keys, sorted by path.
func (db *DB) PendingFor(keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := db.conn.Query(
		`SELECT DISTINCT source FROM pending_refs WHERE target_key IN (`+placeholders+`) ORDER BY source`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("state: pending for: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReplaceDiagnostics replaces the recorded diagnostics for a document.
func (db *DB) ReplaceDiagnostics(path string, diags []models.Diagnostic) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("state: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.Exec(`DELETE FROM diagnostics WHERE path = ?`, path)
	if len(diags) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO diagnostics (path, kind, detail, candidates) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("state: prepare diag insert: %w", err)
		}
		defer stmt.Close()
		for _, d := range diags {
			candidates, _ := json.Marshal(d.Candidates)
			if _, err := stmt.Exec(path, string(d.Kind), d.Detail, string(candidates)); err != nil {
				return fmt.Errorf("state: insert diag: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Diagnostics returns up to limit recorded diagnostics ordered by
// document path, then insertion order.
func (db *DB) Diagnostics(limit int) ([]models.Diagnostic, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.Query(
		`SELECT path, kind, detail, candidates FROM diagnostics ORDER BY path, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("state: diagnostics: %w", err)
	}
	defer rows.Close()

	var out []models.Diagnostic
	for rows.Next() {
		var d models.Diagnostic
		var kind, candidates string
		if err := rows.Scan(&d.Path, &kind, &d.Detail, &candidates); err != nil {
			return nil, err
		}
		d.Kind = models.DiagnosticKind(kind)
		_ = json.Unmarshal([]byte(candidates), &d.Candidates)
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountDiagnostics returns the number of recorded diagnostics.
func (db *DB) CountDiagnostics() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM diagnostics`).Scan(&n); err != nil {
		return 0, fmt.Errorf("state: count diagnostics: %w", err)
	}
	return n, nil
}
