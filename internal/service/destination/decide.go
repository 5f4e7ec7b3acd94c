// Package destination decides where a download is written and what happens
// to a file that already exists at that path.
package destination

import (
	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

// Input is everything Decide needs to know about a destination
type Input struct {
	Path          string
	Policy        domain.ExistingFilePolicy
	Exists        bool
	ExistingSize  int64
	ExpectedTotal int64 // negative when unknown
	HasRange      bool  // the request already asks for a byte range
}

// Decide maps an existing-file situation to a destination decision.
//
// Rules, first match wins: a missing file proceeds; delete replaces; ignore
// skips; resume proceeds when the request is already ranged or the file is
// not provably partial, and otherwise resumes from the existing size.
func Decide(in Input) domain.DestinationDecision {
	if !in.Exists {
		return domain.Proceed(in.Path)
	}

	switch in.Policy {
	case domain.PolicyDelete:
		return domain.DeleteExistingThenProceed(in.Path)
	case domain.PolicyIgnore:
		return domain.Skip()
	}

	if in.HasRange {
		return domain.Proceed(in.Path)
	}
	// an unknown total cannot prove the file is partial
	if in.ExpectedTotal < 0 || in.ExistingSize >= in.ExpectedTotal {
		return domain.Proceed(in.Path)
	}
	return domain.ResumeFrom(in.Path, in.ExistingSize)
}
