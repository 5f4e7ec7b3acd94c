// Package retry decides what happens to a failed transfer.
package retry

import (
	"go.uber.org/zap"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

// Outcome is the result of a failure decision
type Outcome int

const (
	// OutcomeRetrying reissues the transfer from its resume data
	OutcomeRetrying Outcome = iota
	// OutcomeExhausted surfaces a resumable failure with no budget left
	OutcomeExhausted
	// OutcomeAbandoned surfaces a failure without resume data
	OutcomeAbandoned
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case OutcomeRetrying:
		return "retrying"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// State returns the transfer state matching the outcome
func (o Outcome) State() domain.TransferState {
	switch o {
	case OutcomeRetrying:
		return domain.StateRetrying
	case OutcomeExhausted:
		return domain.StateExhausted
	default:
		return domain.StateAbandoned
	}
}

// Failure describes a failed transfer
type Failure struct {
	TransferID  domain.TransferID
	Request     domain.Request
	Err         error
	ResumeData  []byte
	RetryBudget int
	ForcedRetry bool // a forced attempt was already spent on this logical transfer
}

// Verdict is the controller's decision for one failure
type Verdict struct {
	Outcome     Outcome
	ChildBudget int  // budget inherited by the reissued transfer
	Forced      bool // retry granted by the override despite an empty budget
	Vetoed      bool // budgeted retry refused by the override
}

// OverrideDecision is the answer of a RetryOverride hook
type OverrideDecision int

const (
	// OverrideDefer leaves the decision to the retry budget
	OverrideDefer OverrideDecision = iota
	// OverrideVeto refuses a retry the budget would allow
	OverrideVeto
	// OverrideForce grants one extra attempt when the budget is empty
	OverrideForce
)

// RetryOverride is consulted once per failure that carries resume data.
//
// Deprecated: the retry budget is the authoritative retry mechanism. The hook
// can only veto a budgeted retry or force a single extra attempt per logical
// transfer; it never causes a second reissue for the same failure.
type RetryOverride func(f Failure) OverrideDecision

// Controller decides retry outcomes
type Controller struct {
	override RetryOverride
	logger   *zap.Logger
}

// NewController creates a new Controller; override may be nil
func NewController(override RetryOverride, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{override: override, logger: logger}
}

// Decide returns the verdict for a failure
func (c *Controller) Decide(f Failure) Verdict {
	if len(f.ResumeData) == 0 {
		return Verdict{Outcome: OutcomeAbandoned}
	}

	budget := max(f.RetryBudget, 0)
	decision := OverrideDefer
	if c.override != nil {
		decision = c.override(f)
	}

	switch {
	case budget > 0 && decision == OverrideVeto:
		c.logger.Info("retry vetoed by override",
			zap.String("transfer_id", string(f.TransferID)),
			zap.Int("retry_budget", budget),
		)
		return Verdict{Outcome: OutcomeExhausted, Vetoed: true}
	case budget > 0:
		return Verdict{Outcome: OutcomeRetrying, ChildBudget: budget - 1}
	case decision == OverrideForce && !f.ForcedRetry:
		c.logger.Info("retry forced by override",
			zap.String("transfer_id", string(f.TransferID)),
		)
		return Verdict{Outcome: OutcomeRetrying, ChildBudget: 0, Forced: true}
	default:
		return Verdict{Outcome: OutcomeExhausted}
	}
}
