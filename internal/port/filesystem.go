package port

import (
	"io"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// FileSystem defines the filesystem operations used for download destinations
type FileSystem interface {
	// RootDir returns the default download directory
	RootDir() string

	// EnsureDir creates the parent directory of a file path if missing
	EnsureDir(filePath string) error

	// FileSize returns the size of a file and whether it exists
	FileSize(path string) (int64, bool, error)

	// DeleteFile removes a file; a missing file is not an error
	DeleteFile(path string) error

	// WriteFile copies reader into path, appending when appendMode is set.
	// onWrite is called with the total file size after every chunk.
	// Returns the final file size
	WriteFile(path string, reader io.Reader, appendMode bool, onWrite func(size int64)) (int64, error)

	// GetDiskUsage returns disk usage statistics for the root directory
	GetDiskUsage() (*DiskUsage, error)
}
