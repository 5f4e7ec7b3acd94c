package port

import (
	"context"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

// Engine is the navigation/download engine driven by the orchestrator.
//
// Each start call (Navigate, StartDownload, ResumeDownload) must be followed by
// exactly one EngineEvents.OnAcknowledged once the engine has accepted it,
// unless the call returns an error. Callbacks must be delivered from engine
// goroutines, never from inside a start call.
type Engine interface {
	// Attach sets the callback receiver; called once before any start call
	Attach(events EngineEvents)

	// Navigate loads a page
	Navigate(ctx context.Context, req domain.Request) error

	// StartDownload starts a new transfer for req
	StartDownload(ctx context.Context, req domain.Request) error

	// ResumeDownload reissues a failed transfer from its resume data.
	// The resumed transfer keeps its destination and does not ask for one again
	// unless the resume data carries none.
	ResumeDownload(ctx context.Context, resumeData []byte) error

	// Cancel stops a running transfer; the engine reports it through OnFailed
	// with domain.ErrTransferCanceled
	Cancel(id domain.TransferID) error
}

// EngineEvents receives engine callbacks
type EngineEvents interface {
	// OnAcknowledged reports that the last start call was accepted
	OnAcknowledged()

	// OnTransferStarted reports a new transfer and the request that created it
	OnTransferStarted(id domain.TransferID, original domain.Request)

	// OnProgress reports byte progress; total is negative when unknown
	OnProgress(id domain.TransferID, completed, total int64)

	// OnDestinationNeeded asks where to write a transfer and blocks until decided
	OnDestinationNeeded(id domain.TransferID, suggestedFilename string, expectedTotal int64) domain.DestinationDecision

	// OnCompleted reports a successful transfer
	OnCompleted(id domain.TransferID)

	// OnFailed reports a failed transfer with optional resume data
	OnFailed(id domain.TransferID, err error, resumeData []byte)

	// OnNavigationFinished reports the end of a page load that did not become a transfer
	OnNavigationFinished(req domain.Request, err error)
}
