// Package dispatch serializes engine start calls so that at most one of them
// is waiting for its acknowledgment at any time.
//
// A Queue is not safe for concurrent use. It is owned by the orchestrator
// goroutine and every method must be called from there.
package dispatch

import (
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

// Forwarder hands an operation to the engine. A non-nil error means the
// engine rejected the call and will never acknowledge it.
type Forwarder func(op domain.PendingOperation) error

// Queue is a single-flight FIFO dispatcher
type Queue struct {
	forward Forwarder
	logger  *zap.Logger
	now     func() time.Time

	backlog  []domain.PendingOperation
	inFlight *domain.PendingOperation
	since    time.Time
	pumping  bool
	// acknowledgments still expected from force-released dispatches
	owed int

	nextSeq      uint64
	dispatched   uint64
	acknowledged uint64
	released     uint64
	rejected     uint64
	late         uint64
}

// New creates an idle queue
func New(forward Forwarder, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		forward: forward,
		logger:  logger,
		now:     time.Now,
	}
}

// Submit assigns the next sequence number to op and forwards it at once if
// the queue is idle; otherwise it is appended to the backlog.
// Returns the assigned sequence number.
func (q *Queue) Submit(op domain.PendingOperation) uint64 {
	q.nextSeq++
	op.Seq = q.nextSeq
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = q.now()
	}

	q.backlog = append(q.backlog, op)
	if q.inFlight != nil {
		q.logger.Debug("dispatch queued",
			zap.Uint64("seq", op.Seq),
			zap.Stringer("kind", op.Kind),
			zap.Int("backlog", len(q.backlog)),
		)
	}
	q.pump()
	return op.Seq
}

// Acknowledge marks the in-flight operation as accepted and forwards the
// oldest backlog entry, if any. Acknowledgments carry no sequence number, so
// while a force-released dispatch still owes one, the next call is charged
// to it and the in-flight operation stays put.
// Returns domain.ErrQueueIdle when nothing is in flight and nothing is owed.
func (q *Queue) Acknowledge() error {
	if q.owed > 0 {
		q.owed--
		q.late++
		q.logger.Debug("late acknowledgment for released dispatch",
			zap.Int("owed", q.owed),
			zap.Bool("busy", q.inFlight != nil),
		)
		return nil
	}
	if q.inFlight == nil {
		q.logger.Warn("acknowledgment received while idle")
		return domain.ErrQueueIdle
	}
	q.acknowledged++
	q.inFlight = nil
	q.pump()
	return nil
}

// Release force-acknowledges the in-flight operation if its sequence number
// is seq. It reports whether anything was released. The engine may still
// acknowledge the released dispatch later; that acknowledgment is absorbed
// by Acknowledge.
func (q *Queue) Release(seq uint64) bool {
	if q.inFlight == nil || q.inFlight.Seq != seq {
		return false
	}
	q.released++
	q.owed++
	q.inFlight = nil
	q.pump()
	return true
}

// pump forwards backlog entries while the queue is idle. Forwarding a
// rejected operation leaves the queue idle, so the next one goes out at once.
func (q *Queue) pump() {
	if q.pumping {
		return
	}
	q.pumping = true
	defer func() { q.pumping = false }()

	for q.inFlight == nil && len(q.backlog) > 0 {
		op := q.backlog[0]
		q.backlog[0] = domain.PendingOperation{}
		q.backlog = q.backlog[1:]

		q.inFlight = &op
		q.since = q.now()
		q.dispatched++

		if err := q.forward(op); err != nil {
			q.rejected++
			q.inFlight = nil
			q.logger.Warn("dispatch rejected by engine",
				zap.Uint64("seq", op.Seq),
				zap.Stringer("kind", op.Kind),
				zap.Error(err),
			)
		}
	}
}

// OwesAcknowledgment reports whether the next Acknowledge belongs to a
// force-released dispatch rather than the in-flight one
func (q *Queue) OwesAcknowledgment() bool {
	return q.owed > 0
}

// Busy reports whether an operation is waiting for acknowledgment
func (q *Queue) Busy() bool {
	return q.inFlight != nil
}

// InFlight returns the operation waiting for acknowledgment
func (q *Queue) InFlight() (domain.PendingOperation, bool) {
	if q.inFlight == nil {
		return domain.PendingOperation{}, false
	}
	return *q.inFlight, true
}

// Len returns the backlog length
func (q *Queue) Len() int {
	return len(q.backlog)
}

// Stats returns queue statistics
func (q *Queue) Stats() domain.QueueStats {
	stats := domain.QueueStats{
		Busy:          q.inFlight != nil,
		Backlog:       len(q.backlog),
		Dispatched:    q.dispatched,
		Acknowledged:  q.acknowledged,
		ForcedRelease: q.released,
		Rejected:      q.rejected,
		LateAcks:      q.late,
		OwedAcks:      q.owed,
	}
	if q.inFlight != nil {
		since := q.since
		stats.InFlightSeq = q.inFlight.Seq
		stats.InFlightKind = q.inFlight.Kind.String()
		stats.InFlightSince = &since
	}
	return stats
}
