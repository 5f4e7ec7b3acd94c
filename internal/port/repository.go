package port

import (
	"github.com/vertextoedge/download-orchestrator/internal/domain/repository"
)

// TransferHistoryRepository is an alias to domain repository interface
type TransferHistoryRepository = repository.TransferHistoryRepository

// StatsRepository is an alias to domain repository interface
type StatsRepository = repository.StatsRepository

// Store is an alias to domain repository interface
type Store = repository.Store
