package repository

import (
	"time"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

// TransferHistoryRepository defines the interface for persisted transfer history
type TransferHistoryRepository interface {
	// RecordStarted inserts a record for a new transfer
	// Returns domain.ErrAlreadyExists if the transfer ID is already recorded
	RecordStarted(rec *domain.TransferRecord) error

	// UpdateProgress updates the byte counters of an unfinished transfer
	UpdateProgress(id domain.TransferID, completed, total int64) error

	// SetDestination stores the resolved destination path
	SetDestination(id domain.TransferID, path string) error

	// Finish marks a transfer as finished with its terminal status
	Finish(id domain.TransferID, status domain.TransferState, errMsg string) error

	// Get retrieves a record by transfer ID
	// Returns domain.ErrNotFound if it does not exist
	Get(id domain.TransferID) (*domain.TransferRecord, error)

	// ListRecent returns the most recently started records, newest first
	ListRecent(limit int) ([]*domain.TransferRecord, error)

	// CleanupOlderThan removes finished records older than the specified duration
	CleanupOlderThan(olderThan time.Duration) (int, error)
}
