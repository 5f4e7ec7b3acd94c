package domain

import "time"

// OperationKind is the kind of engine start call an operation issues
type OperationKind int

const (
	// OperationNavigate loads a page
	OperationNavigate OperationKind = iota
	// OperationStartDownload starts a new download from a request
	OperationStartDownload
	// OperationResumeDownload reissues a failed download from its resume data
	OperationResumeDownload
)

// String returns the operation kind name
func (k OperationKind) String() string {
	switch k {
	case OperationNavigate:
		return "navigate"
	case OperationStartDownload:
		return "start-download"
	case OperationResumeDownload:
		return "resume-download"
	default:
		return "unknown"
	}
}

// PendingOperation is a navigation or download request waiting for dispatch.
// Seq is assigned by the dispatch queue and reflects enqueue order.
type PendingOperation struct {
	Seq        uint64
	Kind       OperationKind
	Request    Request
	ResumeData []byte
	EnqueuedAt time.Time
}

// QueueStats represents dispatch queue statistics
type QueueStats struct {
	Busy          bool       `json:"busy"`
	Backlog       int        `json:"backlog"`
	Dispatched    uint64     `json:"dispatched"`
	Acknowledged  uint64     `json:"acknowledged"`
	ForcedRelease uint64     `json:"forced_release"`
	Rejected      uint64     `json:"rejected"`
	LateAcks      uint64     `json:"late_acks"`
	OwedAcks      int        `json:"owed_acks"`
	InFlightSeq   uint64     `json:"in_flight_seq,omitempty"`
	InFlightKind  string     `json:"in_flight_kind,omitempty"`
	InFlightSince *time.Time `json:"in_flight_since,omitempty"`
}
