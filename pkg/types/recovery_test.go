package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeRecovered(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    bool
		name    string
	}{
		{OutcomeSkipped, false, "skipped"},
		{OutcomeUnhandled, false, "unhandled"},
		{OutcomeStable, true, "stable"},
		{OutcomeRepaired, true, "repaired"},
		{OutcomeRebuilt, true, "rebuilt"},
		{OutcomeEscalated, false, "escalated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.outcome.Recovered())
			assert.Equal(t, tt.name, tt.outcome.String())
		})
	}
	assert.Equal(t, "unknown", Outcome(42).String())
}

func TestInitReportSkippedTables(t *testing.T) {
	r := InitReport{Groups: []GroupReport{
		{Name: "lookup", Created: []string{"currencies"}},
		{Name: "catalog", Skipped: []SkippedStatement{{Table: "suppliers", Err: "boom"}}},
		{Name: "aux", Skipped: []SkippedStatement{{Table: "attachments", Err: "boom"}}},
	}}
	assert.Equal(t, []string{"suppliers", "attachments"}, r.SkippedTables())
	assert.Empty(t, InitReport{}.SkippedTables())
}

func TestIntegrityResultVerdict(t *testing.T) {
	r := IntegrityResult{Passed: false, Failures: []string{"a", "b"}}
	v := r.Verdict()
	assert.False(t, v.Healthy)
	assert.Equal(t, []string{"a", "b"}, v.Issues)

	v.Issues[0] = "changed"
	assert.Equal(t, "a", r.Failures[0], "verdict must not alias the result")
}
