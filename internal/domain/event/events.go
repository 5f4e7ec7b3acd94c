package event

import (
	"time"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// Event names
const (
	NameNavigationDispatched = "navigation.dispatched"
	NameNavigationFinished   = "navigation.finished"
	NameDownloadDispatched   = "download.dispatched"
	NameDispatchFailed       = "dispatch.failed"
	NameDispatchTimedOut     = "dispatch.timed_out"
	NameTransferStarted      = "transfer.started"
	NameTransferProgressed   = "transfer.progressed"
	NameDestinationResolved  = "transfer.destination_resolved"
	NameTransferAborted      = "transfer.aborted"
	NameTransferCompleted    = "transfer.completed"
	NameTransferFailed       = "transfer.failed"
	NameTransferRetrying     = "transfer.retrying"
	NameTransferExhausted    = "transfer.exhausted"
	NameTransferAbandoned    = "transfer.abandoned"
	NameTransferCancelled    = "transfer.cancelled"
)

// NavigationDispatched is raised when a navigation is handed to the engine
type NavigationDispatched struct {
	BaseEvent
	Seq     uint64
	Request domain.Request
}

// EventName returns the event name
func (e NavigationDispatched) EventName() string { return NameNavigationDispatched }

// NavigationFinished is raised when the engine finishes loading a page
type NavigationFinished struct {
	BaseEvent
	Request domain.Request
	Error   string
}

// EventName returns the event name
func (e NavigationFinished) EventName() string { return NameNavigationFinished }

// DownloadDispatched is raised when a start or resume call is handed to the engine
type DownloadDispatched struct {
	BaseEvent
	Seq     uint64
	Kind    domain.OperationKind
	Request domain.Request
}

// EventName returns the event name
func (e DownloadDispatched) EventName() string { return NameDownloadDispatched }

// DispatchFailed is raised when the engine rejects a start call synchronously
type DispatchFailed struct {
	BaseEvent
	Seq     uint64
	Kind    domain.OperationKind
	Request domain.Request
	Error   string
}

// EventName returns the event name
func (e DispatchFailed) EventName() string { return NameDispatchFailed }

// DispatchTimedOut is raised when an in-flight dispatch was force-released
type DispatchTimedOut struct {
	BaseEvent
	Seq     uint64
	Kind    domain.OperationKind
	Request domain.Request
	Waited  time.Duration
}

// EventName returns the event name
func (e DispatchTimedOut) EventName() string { return NameDispatchTimedOut }

// TransferStarted is raised when the engine reports a new transfer
type TransferStarted struct {
	BaseEvent
	TransferID  domain.TransferID
	Request     domain.Request
	RetryBudget int
	Attempt     int
}

// EventName returns the event name
func (e TransferStarted) EventName() string { return NameTransferStarted }

// TransferProgressed is raised, throttled, as bytes arrive
type TransferProgressed struct {
	BaseEvent
	TransferID     domain.TransferID
	BytesCompleted int64
	BytesTotal     int64
}

// EventName returns the event name
func (e TransferProgressed) EventName() string { return NameTransferProgressed }

// DestinationResolved is raised when a destination decision is returned to the engine
type DestinationResolved struct {
	BaseEvent
	TransferID domain.TransferID
	Suggested  string
	Decision   domain.DestinationDecision
}

// EventName returns the event name
func (e DestinationResolved) EventName() string { return NameDestinationResolved }

// TransferAborted is raised when destination handling failed and the transfer is dropped
type TransferAborted struct {
	BaseEvent
	TransferID  domain.TransferID
	Destination string
	Error       string
}

// EventName returns the event name
func (e TransferAborted) EventName() string { return NameTransferAborted }

// TransferCompleted is raised when a transfer finishes successfully
type TransferCompleted struct {
	BaseEvent
	TransferID  domain.TransferID
	RequestID   string
	Destination string
	Size        int64
	Duration    time.Duration
}

// EventName returns the event name
func (e TransferCompleted) EventName() string { return NameTransferCompleted }

// TransferFailed is raised for every engine-reported failure, before its outcome
type TransferFailed struct {
	BaseEvent
	TransferID    domain.TransferID
	RequestID     string
	Error         string
	HasResumeData bool
	RetryBudget   int
}

// EventName returns the event name
func (e TransferFailed) EventName() string { return NameTransferFailed }

// TransferRetrying is raised when a failed transfer is reissued from its resume data
type TransferRetrying struct {
	BaseEvent
	TransferID     domain.TransferID
	RequestID      string
	Destination    string
	RemainingRetry int
	Forced         bool
	// Delay is how long the resubmission waits, as asked by the server
	Delay time.Duration
}

// EventName returns the event name
func (e TransferRetrying) EventName() string { return NameTransferRetrying }

// TransferExhausted is raised when a failed transfer has resume data but no budget left
type TransferExhausted struct {
	BaseEvent
	TransferID domain.TransferID
	RequestID  string
	Error      string
}

// EventName returns the event name
func (e TransferExhausted) EventName() string { return NameTransferExhausted }

// TransferAbandoned is raised when a failed transfer has no resume data
type TransferAbandoned struct {
	BaseEvent
	TransferID domain.TransferID
	RequestID  string
	Error      string
}

// EventName returns the event name
func (e TransferAbandoned) EventName() string { return NameTransferAbandoned }

// TransferCancelled is raised when a transfer ended because the orchestrator asked
// the engine to cancel it
type TransferCancelled struct {
	BaseEvent
	TransferID  domain.TransferID
	RequestID   string
	Disposition domain.Disposition
}

// EventName returns the event name
func (e TransferCancelled) EventName() string { return NameTransferCancelled }

func base(now time.Time) BaseEvent {
	if now.IsZero() {
		now = time.Now()
	}
	return BaseEvent{Timestamp: now}
}

// NewTransferStarted creates a new TransferStarted event
func NewTransferStarted(t *domain.Transfer) TransferStarted {
	return TransferStarted{
		BaseEvent:   base(t.StartedAt),
		TransferID:  t.ID,
		Request:     t.Request.Clone(),
		RetryBudget: t.RetryBudget,
		Attempt:     t.Attempt,
	}
}

// NewTransferCompleted creates a new TransferCompleted event
func NewTransferCompleted(t *domain.Transfer, now time.Time) TransferCompleted {
	return TransferCompleted{
		BaseEvent:   base(now),
		TransferID:  t.ID,
		RequestID:   t.Request.ID,
		Destination: t.Destination,
		Size:        t.BytesCompleted,
		Duration:    now.Sub(t.StartedAt),
	}
}

// NewTransferFailed creates a new TransferFailed event
func NewTransferFailed(t *domain.Transfer, now time.Time) TransferFailed {
	return TransferFailed{
		BaseEvent:     base(now),
		TransferID:    t.ID,
		RequestID:     t.Request.ID,
		Error:         t.LastError,
		HasResumeData: len(t.ResumeData) > 0,
		RetryBudget:   t.RetryBudget,
	}
}
