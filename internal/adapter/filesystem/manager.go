package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
	"github.com/vertextoedge/download-orchestrator/internal/port"
)

const defaultBufferSize = 1024 * 1024 // 1MB

// Manager handles local filesystem operations for download destinations
type Manager struct {
	rootDir    string
	bufferSize int
}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a new filesystem manager
func NewManager(rootDir string) (*Manager, error) {
	return NewManagerWithBufferSize(rootDir, defaultBufferSize)
}

// NewManagerWithBufferSize creates a new filesystem manager with custom buffer size
func NewManagerWithBufferSize(rootDir string, bufferSize int) (*Manager, error) {
	if rootDir == "" {
		return nil, domain.ErrNoDestination
	}
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}

	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	return &Manager{
		rootDir:    rootDir,
		bufferSize: bufferSize,
	}, nil
}

// RootDir returns the default download directory
func (m *Manager) RootDir() string {
	return m.rootDir
}

// EnsureDir ensures the directory for a file path exists
func (m *Manager) EnsureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create dir %s: %w", dir, err)
	}
	return nil
}

// FileSize returns the size of a file and whether it exists
func (m *Manager) FileSize(path string) (int64, bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if info.IsDir() {
		return 0, true, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), true, nil
}

// DeleteFile removes a file
func (m *Manager) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// WriteFile copies reader into path, appending when appendMode is set
func (m *Manager) WriteFile(path string, reader io.Reader, appendMode bool, onWrite func(size int64)) (int64, error) {
	if err := m.EnsureDir(path); err != nil {
		return 0, err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open file: %w", err)
	}

	var existing int64
	if appendMode {
		if info, statErr := f.Stat(); statErr == nil {
			existing = info.Size()
		}
	}

	w := &progressWriter{w: f, size: existing, onWrite: onWrite}
	buf := make([]byte, m.bufferSize)
	if _, err := io.CopyBuffer(w, reader, buf); err != nil {
		f.Close()
		return w.size, fmt.Errorf("failed to write file: %w", err)
	}

	if err := f.Close(); err != nil {
		return w.size, fmt.Errorf("failed to close file: %w", err)
	}

	return w.size, nil
}

// progressWriter tracks the file size as chunks are written
type progressWriter struct {
	w       io.Writer
	size    int64
	onWrite func(size int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.size += int64(n)
	if n > 0 && p.onWrite != nil {
		p.onWrite(p.size)
	}
	return n, err
}
