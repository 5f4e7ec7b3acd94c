package domain

import "fmt"

// DecisionKind enumerates the destination decision variants
type DecisionKind int

const (
	// DecisionProceed writes the download to Path
	DecisionProceed DecisionKind = iota
	// DecisionDeleteExistingThenProceed removes the file at Path, then writes to it
	DecisionDeleteExistingThenProceed
	// DecisionSkip writes nothing; the engine must cancel the transfer
	DecisionSkip
	// DecisionResumeFrom cancels the current transfer; a new ranged transfer
	// starting at RangeStart is issued for Path
	DecisionResumeFrom
)

// String returns the decision kind name
func (k DecisionKind) String() string {
	switch k {
	case DecisionProceed:
		return "proceed"
	case DecisionDeleteExistingThenProceed:
		return "delete-existing-then-proceed"
	case DecisionSkip:
		return "skip"
	case DecisionResumeFrom:
		return "resume-from"
	default:
		return "unknown"
	}
}

// DestinationDecision is the resolved outcome for a suggested download file
type DestinationDecision struct {
	Kind       DecisionKind
	Path       string
	RangeStart int64
}

// Proceed writes to path
func Proceed(path string) DestinationDecision {
	return DestinationDecision{Kind: DecisionProceed, Path: path}
}

// DeleteExistingThenProceed replaces the file at path
func DeleteExistingThenProceed(path string) DestinationDecision {
	return DestinationDecision{Kind: DecisionDeleteExistingThenProceed, Path: path}
}

// Skip writes nothing
func Skip() DestinationDecision {
	return DestinationDecision{Kind: DecisionSkip}
}

// ResumeFrom continues path from rangeStart through a new transfer
func ResumeFrom(path string, rangeStart int64) DestinationDecision {
	return DestinationDecision{Kind: DecisionResumeFrom, Path: path, RangeStart: rangeStart}
}

// Writes reports whether the engine should write the current transfer to Path
func (d DestinationDecision) Writes() bool {
	return d.Kind == DecisionProceed || d.Kind == DecisionDeleteExistingThenProceed
}

func (d DestinationDecision) String() string {
	switch d.Kind {
	case DecisionSkip:
		return d.Kind.String()
	case DecisionResumeFrom:
		return fmt.Sprintf("%s(%s, %d)", d.Kind, d.Path, d.RangeStart)
	default:
		return fmt.Sprintf("%s(%s)", d.Kind, d.Path)
	}
}
