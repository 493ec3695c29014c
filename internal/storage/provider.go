// Package storage defines the file-system abstraction shared by the
// vault reader and the site writer.
package storage

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/starford/raido/internal/models"
)

// Provider is the interface for tree file operations. The conversion
// core reads the vault through one Provider and hands output documents
// and attachment copies to others (content and static trees).
type Provider interface {
	// List returns metadata for files under dir (relative to root)
	// whose extension (without dot, case-insensitive) is in exts.
	// With no exts every file is listed.
	List(dir string, exts ...string) ([]models.FileMeta, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to root).
	Delete(path string) error
}

// Checksum returns the hex-encoded SHA-256 digest of data.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
