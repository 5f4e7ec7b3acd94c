// Package registry keeps the set of active transfers.
package registry

import (
	"fmt"
	"time"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
	"github.com/vertextoedge/download-orchestrator/internal/service/progress"
)

// Registry owns active transfers and keeps the progress tracker in step with
// them. It is not safe for concurrent use.
type Registry struct {
	transfers map[domain.TransferID]*domain.Transfer
	order     []domain.TransferID
	tracker   *progress.Tracker
}

// New creates an empty registry feeding tracker
func New(tracker *progress.Tracker) *Registry {
	if tracker == nil {
		tracker = progress.NewTracker(0)
	}
	return &Registry{
		transfers: make(map[domain.TransferID]*domain.Transfer),
		tracker:   tracker,
	}
}

// Register adds a transfer and attaches it to the tracker
func (r *Registry) Register(t *domain.Transfer) error {
	if _, ok := r.transfers[t.ID]; ok {
		return fmt.Errorf("transfer %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	r.transfers[t.ID] = t
	r.order = append(r.order, t.ID)
	r.tracker.Attach(t.ID, t.StartedAt)
	return nil
}

// Unregister removes a transfer and detaches it from the tracker.
// It reports whether the transfer was registered.
func (r *Registry) Unregister(id domain.TransferID) bool {
	if _, ok := r.transfers[id]; !ok {
		return false
	}
	delete(r.transfers, id)
	for i, tid := range r.order {
		if tid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.tracker.Detach(id)
	return true
}

// Get returns a registered transfer
func (r *Registry) Get(id domain.TransferID) (*domain.Transfer, bool) {
	t, ok := r.transfers[id]
	return t, ok
}

// UpdateProgress records progress on a transfer and its tracker child
func (r *Registry) UpdateProgress(id domain.TransferID, completed, total int64, now time.Time) (*domain.Transfer, bool) {
	t, ok := r.transfers[id]
	if !ok {
		return nil, false
	}
	t.UpdateProgress(completed, total, now)
	r.tracker.Update(id, t.BytesCompleted, t.BytesTotal, now)
	return t, true
}

// Len returns the number of active transfers
func (r *Registry) Len() int {
	return len(r.transfers)
}

// Active returns snapshots of active transfers in registration order
func (r *Registry) Active() []domain.Transfer {
	out := make([]domain.Transfer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.transfers[id].Snapshot())
	}
	return out
}

// Progress returns the aggregate progress of active transfers
func (r *Registry) Progress() domain.AggregateProgress {
	return r.tracker.Snapshot()
}
