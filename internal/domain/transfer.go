package domain

import (
	"fmt"
	"time"
)

// TransferID is the opaque engine handle of a transfer.
// Two transfers are the same transfer only if their IDs are equal.
type TransferID string

// UnknownTotal marks a transfer whose expected size is not known yet
const UnknownTotal int64 = -1

// TransferState is the lifecycle state of a transfer
type TransferState string

// Transfer states
const (
	StateActive    TransferState = "active"
	StateFailed    TransferState = "failed"
	StateRetrying  TransferState = "retrying"
	StateExhausted TransferState = "exhausted"
	StateAbandoned TransferState = "abandoned"
	StateCompleted TransferState = "completed"
	StateCancelled TransferState = "cancelled"
)

var transitions = map[TransferState][]TransferState{
	StateActive: {StateFailed, StateCompleted, StateCancelled},
	StateFailed: {StateRetrying, StateExhausted, StateAbandoned, StateCancelled},
}

// IsTerminal returns true if no further transition is possible
func (s TransferState) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransitionTo reports whether s may move to next
func (s TransferState) CanTransitionTo(next TransferState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Disposition records why the orchestrator asked the engine to cancel a transfer
type Disposition string

// Dispositions
const (
	DispositionNone       Disposition = ""
	DispositionSkipped    Disposition = "skipped"
	DispositionSuperseded Disposition = "superseded"
	DispositionAborted    Disposition = "aborted"
	DispositionCancelled  Disposition = "cancelled"
)

// Transfer represents one download tracked by the orchestrator
type Transfer struct {
	ID             TransferID    `json:"id"`
	Request        Request       `json:"request"`
	BytesCompleted int64         `json:"bytes_completed"`
	BytesTotal     int64         `json:"bytes_total"`
	ResumeData     []byte        `json:"-"`
	RetryBudget    int           `json:"retry_budget"`
	Attempt        int           `json:"attempt"`
	ForcedRetry    bool          `json:"forced_retry,omitempty"`
	Destination    string        `json:"destination,omitempty"`
	State          TransferState `json:"state"`
	Disposition    Disposition   `json:"disposition,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewTransfer creates an active transfer for an engine handle
func NewTransfer(id TransferID, req Request, retryBudget int, now time.Time) *Transfer {
	if retryBudget < 0 {
		retryBudget = 0
	}
	return &Transfer{
		ID:          id,
		Request:     req.Clone(),
		BytesTotal:  UnknownTotal,
		RetryBudget: retryBudget,
		Attempt:     1,
		State:       StateActive,
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

// AssignDestination sets the destination path once.
// Assigning the same path again is a no-op.
func (t *Transfer) AssignDestination(path string) error {
	if t.Destination != "" && t.Destination != path {
		return fmt.Errorf("%w: %s has %q, got %q", ErrDestinationAlreadyAssigned, t.ID, t.Destination, path)
	}
	t.Destination = path
	return nil
}

// UpdateProgress records byte progress; a negative total means unknown
func (t *Transfer) UpdateProgress(completed, total int64, now time.Time) {
	if completed < 0 {
		completed = 0
	}
	if total < 0 {
		total = UnknownTotal
	}
	t.BytesCompleted = completed
	t.BytesTotal = total
	t.UpdatedAt = now
}

// Transition moves the transfer to the next state
func (t *Transfer) Transition(next TransferState, now time.Time) error {
	if !t.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateChange, t.State, next)
	}
	t.State = next
	t.UpdatedAt = now
	return nil
}

// Fail marks an active transfer as failed, keeping resume data if any
func (t *Transfer) Fail(cause error, resumeData []byte, now time.Time) error {
	if err := t.Transition(StateFailed, now); err != nil {
		return err
	}
	if cause != nil {
		t.LastError = cause.Error()
	}
	t.ResumeData = resumeData
	return nil
}

// MarkDisposition records that the engine was asked to cancel the transfer.
// The first disposition wins.
func (t *Transfer) MarkDisposition(d Disposition) {
	if t.Disposition == DispositionNone {
		t.Disposition = d
	}
}

// Percent returns completion in the range 0-100, or -1 if the total is unknown
func (t *Transfer) Percent() float64 {
	if t.BytesTotal <= 0 {
		return -1
	}
	return float64(t.BytesCompleted) / float64(t.BytesTotal) * 100
}

// Snapshot returns a copy safe to hand outside the owning goroutine
func (t *Transfer) Snapshot() Transfer {
	c := *t
	c.Request = t.Request.Clone()
	if t.ResumeData != nil {
		c.ResumeData = append([]byte(nil), t.ResumeData...)
	}
	return c
}
