// Package history persists the transfer lifecycle published by the orchestrator.
package history

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
	"github.com/vertextoedge/download-orchestrator/internal/domain/event"
	"github.com/vertextoedge/download-orchestrator/internal/port"
)

// Recorder is an event handler that writes transfer records to a repository
type Recorder struct {
	repo   port.TransferHistoryRepository
	logger *zap.Logger

	mu sync.Mutex
	// last failure message per transfer, used when its outcome arrives
	lastErr map[domain.TransferID]string
}

// Ensure Recorder implements event.EventHandler
var _ event.EventHandler = (*Recorder)(nil)

// NewRecorder creates a history recorder
func NewRecorder(repo port.TransferHistoryRepository, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		repo:    repo,
		logger:  logger,
		lastErr: make(map[domain.TransferID]string),
	}
}

// HandledEvents returns the transfer lifecycle events
func (r *Recorder) HandledEvents() []string {
	return []string{
		event.NameTransferStarted,
		event.NameTransferProgressed,
		event.NameDestinationResolved,
		event.NameTransferAborted,
		event.NameTransferCompleted,
		event.NameTransferFailed,
		event.NameTransferRetrying,
		event.NameTransferExhausted,
		event.NameTransferAbandoned,
		event.NameTransferCancelled,
	}
}

// Handle persists one lifecycle event
func (r *Recorder) Handle(e event.DomainEvent) error {
	switch ev := e.(type) {
	case event.TransferStarted:
		err := r.repo.RecordStarted(&domain.TransferRecord{
			ID:          ev.TransferID,
			RequestID:   ev.Request.ID,
			URL:         ev.Request.URL,
			Status:      domain.StateActive,
			BytesTotal:  domain.UnknownTotal,
			RetryBudget: ev.RetryBudget,
			StartedAt:   ev.OccurredAt(),
		})
		if errors.Is(err, domain.ErrAlreadyExists) {
			r.logger.Debug("transfer already recorded", zap.String("transfer_id", string(ev.TransferID)))
			return nil
		}
		return err

	case event.TransferProgressed:
		return r.repo.UpdateProgress(ev.TransferID, ev.BytesCompleted, ev.BytesTotal)

	case event.DestinationResolved:
		if !ev.Decision.Writes() {
			return nil
		}
		return r.repo.SetDestination(ev.TransferID, ev.Decision.Path)

	case event.TransferAborted:
		r.remember(ev.TransferID, ev.Error)
		return nil

	case event.TransferFailed:
		r.remember(ev.TransferID, ev.Error)
		return nil

	case event.TransferCompleted:
		if err := r.repo.UpdateProgress(ev.TransferID, ev.Size, ev.Size); err != nil {
			return err
		}
		return r.finish(ev.TransferID, domain.StateCompleted)

	case event.TransferRetrying:
		return r.finish(ev.TransferID, domain.StateRetrying)

	case event.TransferExhausted:
		return r.finish(ev.TransferID, domain.StateExhausted)

	case event.TransferAbandoned:
		return r.finish(ev.TransferID, domain.StateAbandoned)

	case event.TransferCancelled:
		return r.finish(ev.TransferID, domain.StateCancelled)
	}
	return nil
}

func (r *Recorder) remember(id domain.TransferID, msg string) {
	r.mu.Lock()
	r.lastErr[id] = msg
	r.mu.Unlock()
}

func (r *Recorder) finish(id domain.TransferID, status domain.TransferState) error {
	r.mu.Lock()
	msg := r.lastErr[id]
	delete(r.lastErr, id)
	r.mu.Unlock()

	err := r.repo.Finish(id, status, msg)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("finished transfer has no history record",
			zap.String("transfer_id", string(id)),
			zap.String("status", string(status)),
		)
		return nil
	}
	return err
}
