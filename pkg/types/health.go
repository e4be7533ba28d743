package types

// HealthVerdict is the one-shot pass/fail answer of a health check.
// Healthy implies zero foreign-key violations and an "ok" integrity scan.
type HealthVerdict struct {
	Healthy bool     `json:"healthy"`
	Issues  []string `json:"issues"`
}

// Names of the checks run by the integrity test suite.
const (
	CheckForeignKeys        = "foreign_key_check"
	CheckPhysicalIntegrity  = "integrity_check"
	CheckSchemaCompleteness = "schema_completeness"
)

// CheckOutcome records one check of the integrity test suite.
type CheckOutcome struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Value  any    `json:"value"`
}

// IntegrityResult is the output of the integrity test suite. Every check
// runs, so Failures always holds the complete failure set.
type IntegrityResult struct {
	Passed   bool           `json:"passed"`
	Failures []string       `json:"failures"`
	Results  []CheckOutcome `json:"results"`
}

// Verdict republishes the result as a HealthVerdict.
func (r IntegrityResult) Verdict() HealthVerdict {
	issues := make([]string, len(r.Failures))
	copy(issues, r.Failures)
	return HealthVerdict{Healthy: r.Passed, Issues: issues}
}
