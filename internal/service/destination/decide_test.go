package destination

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want domain.DestinationDecision
	}{
		{
			name: "missing file proceeds regardless of policy",
			in:   Input{Path: "/tmp/a.zip", Policy: domain.PolicyIgnore, ExpectedTotal: 200},
			want: domain.Proceed("/tmp/a.zip"),
		},
		{
			name: "delete policy",
			in:   Input{Path: "/tmp/a.zip", Policy: domain.PolicyDelete, Exists: true, ExistingSize: 50, ExpectedTotal: 200},
			want: domain.DeleteExistingThenProceed("/tmp/a.zip"),
		},
		{
			name: "ignore policy",
			in:   Input{Path: "/tmp/a.zip", Policy: domain.PolicyIgnore, Exists: true, ExistingSize: 50, ExpectedTotal: 200},
			want: domain.Skip(),
		},
		{
			name: "resume partial file",
			in:   Input{Path: "/tmp/a.zip", Policy: domain.PolicyResume, Exists: true, ExistingSize: 50, ExpectedTotal: 200},
			want: domain.ResumeFrom("/tmp/a.zip", 50),
		},
		{
			name: "resume with range header already set",
			in:   Input{Path: "/tmp/a.zip", Policy: domain.PolicyResume, Exists: true, ExistingSize: 50, ExpectedTotal: 150, HasRange: true},
			want: domain.Proceed("/tmp/a.zip"),
		},
		{
			name: "resume larger file",
			in:   Input{Path: "/tmp/a.zip", Policy: domain.PolicyResume, Exists: true, ExistingSize: 300, ExpectedTotal: 200},
			want: domain.Proceed("/tmp/a.zip"),
		},
		{
			name: "resume unknown total",
			in:   Input{Path: "/tmp/a.zip", Policy: domain.PolicyResume, Exists: true, ExistingSize: 50, ExpectedTotal: -1},
			want: domain.Proceed("/tmp/a.zip"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.in))
		})
	}
}

func TestDecide_ResumeIdempotence(t *testing.T) {
	for _, total := range []int64{0, 1, 200, 1 << 40} {
		for _, hasRange := range []bool{false, true} {
			got := Decide(Input{
				Path:          "/tmp/a.zip",
				Policy:        domain.PolicyResume,
				Exists:        true,
				ExistingSize:  total,
				ExpectedTotal: total,
				HasRange:      hasRange,
			})
			assert.Equal(t, domain.DecisionProceed, got.Kind, "total=%d range=%v", total, hasRange)
		}
	}
}
