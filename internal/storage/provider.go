// Package storage persists artifact records as YAML files under a root directory.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// FileMeta describes one record file on disk.
type FileMeta struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the raw file layer beneath the artifact store.
type Provider interface {
	// List returns metadata for every .yml file under dir (relative to root).
	List(dir string) ([]FileMeta, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// Root returns the absolute root directory.
	Root() string
}

// Checksum returns the hex-encoded SHA-256 digest of data.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
