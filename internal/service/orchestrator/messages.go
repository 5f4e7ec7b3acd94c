package orchestrator

import (
	"time"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

// message is anything executed on the orchestrator goroutine
type message interface {
	isMessage()
}

// engineEvent is one engine callback. Every callback of port.EngineEvents
// maps to exactly one variant.
type engineEvent interface {
	message
	isEngineEvent()
}

type evAcknowledged struct{}

type evTransferStarted struct {
	id  domain.TransferID
	req domain.Request
}

type evProgress struct {
	id        domain.TransferID
	completed int64
	total     int64
}

type evDestinationNeeded struct {
	id            domain.TransferID
	suggested     string
	expectedTotal int64
	reply         chan<- domain.DestinationDecision
}

type evCompleted struct {
	id domain.TransferID
}

type evFailed struct {
	id         domain.TransferID
	err        error
	resumeData []byte
}

type evNavigationFinished struct {
	req domain.Request
	err error
}

func (evAcknowledged) isMessage()       {}
func (evTransferStarted) isMessage()    {}
func (evProgress) isMessage()           {}
func (evDestinationNeeded) isMessage()  {}
func (evCompleted) isMessage()          {}
func (evFailed) isMessage()             {}
func (evNavigationFinished) isMessage() {}

func (evAcknowledged) isEngineEvent()       {}
func (evTransferStarted) isEngineEvent()    {}
func (evProgress) isEngineEvent()           {}
func (evDestinationNeeded) isEngineEvent()  {}
func (evCompleted) isEngineEvent()          {}
func (evFailed) isEngineEvent()             {}
func (evNavigationFinished) isEngineEvent() {}

// commands issued by callers and timers

type cmdSubmitNavigation struct {
	req domain.Request
}

type cmdSubmitDownload struct {
	req  domain.Request
	opts *downloadOptions
}

type cmdDispatchTimeout struct {
	seq    uint64
	waited time.Duration
}

// cmdResubmit queues a retry whose Retry-After delay has elapsed
type cmdResubmit struct {
	id uint64
	op domain.PendingOperation
}

type cmdCancel struct {
	id    domain.TransferID
	reply chan<- error
}

type cmdReconfigure struct {
	policy      *domain.ExistingFilePolicy
	retryBudget *int
}

func (cmdSubmitNavigation) isMessage() {}
func (cmdSubmitDownload) isMessage()   {}
func (cmdDispatchTimeout) isMessage()  {}
func (cmdResubmit) isMessage()         {}
func (cmdCancel) isMessage()           {}
func (cmdReconfigure) isMessage()      {}
