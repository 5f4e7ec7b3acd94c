//go:build windows
// +build windows

package filesystem

import (
	"errors"

	"github.com/vertextoedge/download-orchestrator/internal/port"
)

// GetDiskUsage is not supported on windows
func (m *Manager) GetDiskUsage() (*port.DiskUsage, error) {
	return nil, errors.New("disk usage is not supported on windows")
}
