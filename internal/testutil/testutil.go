// Package testutil provides shared test helpers for setting up file
// trees and state databases.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/raido/internal/state"
	"github.com/starford/raido/internal/storage"
)

// StateDB creates a temporary SQLite state database that is
// automatically cleaned up.
func StateDB(t *testing.T) *state.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "raido-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := state.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Tree creates a temporary directory tree with a storage provider
// rooted in it.
func Tree(t *testing.T, name string) *storage.FS {
	t.Helper()
	fs, err := storage.NewFS(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("NewFS %s: %v", name, err)
	}
	return fs
}
