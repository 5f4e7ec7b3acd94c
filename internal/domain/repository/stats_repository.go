package repository

import (
	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

// StatsRepository defines the interface for history statistics
type StatsRepository interface {
	// GetHistoryStats returns transfer history statistics
	GetHistoryStats() (*domain.HistoryStats, error)
}
