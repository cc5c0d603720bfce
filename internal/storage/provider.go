// Package storage defines the workspace file-system abstraction.
package storage

import "time"

// FileInfo is lightweight metadata about one markdown file. A file that
// could not be stat'd or read is still listed, with Issue set and the
// other fields zeroed, so callers can record the failure instead of
// losing track of the file.
type FileInfo struct {
	Path      string // relative to workspace root
	Checksum  string
	UpdatedAt time.Time
	Issue     string // non-empty when the file was unreadable
}

// Provider is the interface for workspace file operations. Paths are always
// relative to the workspace root and every mutation is atomic, so an
// interactive writer and a maintenance run can share a workspace without
// locks.
type Provider interface {
	// List returns metadata for the .md files directly inside dir. A file
	// that cannot be read is reported with FileInfo.Issue set rather than
	// failing the whole listing.
	List(dir string) ([]FileInfo, error)
	// Dirs returns the names of the subdirectories directly inside dir,
	// excluding hidden ones.
	Dirs(dir string) ([]string, error)
	// Exists reports whether a file is present at path.
	Exists(path string) bool
	// Stat returns metadata for the single file at path.
	Stat(path string) (FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (write-temp, fsync, rename).
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
}
