package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var blob = []byte("resume")

func TestController_Decide(t *testing.T) {
	tests := []struct {
		name     string
		override RetryOverride
		failure  Failure
		want     Verdict
	}{
		{
			name:    "no resume data is abandoned",
			failure: Failure{RetryBudget: 3},
			want:    Verdict{Outcome: OutcomeAbandoned},
		},
		{
			name:    "budget left retries with budget minus one",
			failure: Failure{ResumeData: blob, RetryBudget: 2},
			want:    Verdict{Outcome: OutcomeRetrying, ChildBudget: 1},
		},
		{
			name:    "empty budget is exhausted",
			failure: Failure{ResumeData: blob, RetryBudget: 0},
			want:    Verdict{Outcome: OutcomeExhausted},
		},
		{
			name:    "negative budget behaves as empty",
			failure: Failure{ResumeData: blob, RetryBudget: -1},
			want:    Verdict{Outcome: OutcomeExhausted},
		},
		{
			name:     "override vetoes a budgeted retry",
			override: func(Failure) OverrideDecision { return OverrideVeto },
			failure:  Failure{ResumeData: blob, RetryBudget: 2},
			want:     Verdict{Outcome: OutcomeExhausted, Vetoed: true},
		},
		{
			name:     "override forces one attempt on empty budget",
			override: func(Failure) OverrideDecision { return OverrideForce },
			failure:  Failure{ResumeData: blob, RetryBudget: 0},
			want:     Verdict{Outcome: OutcomeRetrying, ChildBudget: 0, Forced: true},
		},
		{
			name:     "override cannot force twice",
			override: func(Failure) OverrideDecision { return OverrideForce },
			failure:  Failure{ResumeData: blob, RetryBudget: 0, ForcedRetry: true},
			want:     Verdict{Outcome: OutcomeExhausted},
		},
		{
			name:     "force does not add to a budgeted retry",
			override: func(Failure) OverrideDecision { return OverrideForce },
			failure:  Failure{ResumeData: blob, RetryBudget: 1},
			want:     Verdict{Outcome: OutcomeRetrying, ChildBudget: 0},
		},
		{
			name:     "override cannot revive a failure without resume data",
			override: func(Failure) OverrideDecision { return OverrideForce },
			failure:  Failure{RetryBudget: 0},
			want:     Verdict{Outcome: OutcomeAbandoned},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(tt.override, zaptest.NewLogger(t))
			assert.Equal(t, tt.want, c.Decide(tt.failure))
		})
	}
}

func TestController_BudgetMonotonicity(t *testing.T) {
	c := NewController(nil, zaptest.NewLogger(t))

	for initial := 0; initial <= 10; initial++ {
		budget := initial
		failures := 0
		var last Verdict
		for {
			failures++
			last = c.Decide(Failure{ResumeData: blob, RetryBudget: budget})
			if last.Outcome != OutcomeRetrying {
				break
			}
			require.Equal(t, budget-1, last.ChildBudget, "budget drops by exactly one")
			budget = last.ChildBudget
			require.LessOrEqual(t, failures, initial+1)
		}
		assert.Equal(t, OutcomeExhausted, last.Outcome)
		assert.Equal(t, initial+1, failures)
	}
}

func TestOutcome_State(t *testing.T) {
	assert.Equal(t, "retrying", string(OutcomeRetrying.State()))
	assert.Equal(t, "exhausted", string(OutcomeExhausted.State()))
	assert.Equal(t, "abandoned", string(OutcomeAbandoned.State()))
}
