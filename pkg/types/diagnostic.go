package types

import "time"

// Recommendation is the verdict of a deep analysis.
type Recommendation string

// Recommendations emitted by the forensic diagnostic.
const (
	SystemStable           Recommendation = "SYSTEM_STABLE"
	NuclearRebuildRequired Recommendation = "NUCLEAR_REBUILD_REQUIRED"
)

// IntegrityOK is the sentinel the engine returns from a clean integrity scan.
const IntegrityOK = "ok"

// Structural object types as reported by the engine catalog.
const (
	ObjectTable   = "table"
	ObjectIndex   = "index"
	ObjectView    = "view"
	ObjectTrigger = "trigger"
)

// SchemaObject is one row of the engine catalog.
type SchemaObject struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	TableName string `json:"tbl_name"`
	SQL       string `json:"sql,omitempty"`
}

// FKViolation is one row reported by the foreign-key scan.
type FKViolation struct {
	Table   string `json:"table"`
	RowID   int64  `json:"rowid"`
	Parent  string `json:"parent"`
	FKIndex int    `json:"fkid"`
}

// RawState is the structural snapshot captured by a deep analysis.
type RawState struct {
	Objects              []SchemaObject `json:"objects"`
	TableCount           int            `json:"table_count"`
	ForeignKeyViolations []FKViolation  `json:"foreign_key_violations"`
	IntegrityMessages    []string       `json:"integrity_messages"`
}

// DiagnosticReport is produced by a deep analysis and is not modified after
// it is returned. Recommending NuclearRebuildRequired implies Errors is
// non-empty.
type DiagnosticReport struct {
	Timestamp       time.Time               `json:"timestamp"`
	Errors          []string                `json:"errors"`
	Warnings        []string                `json:"warnings"`
	Recommendations map[Recommendation]bool `json:"recommendations"`
	RawState        RawState                `json:"raw_state"`
}

// Recommends reports whether r is among the report's recommendations.
func (d DiagnosticReport) Recommends(r Recommendation) bool {
	return d.Recommendations[r]
}

// FixResult is the proof returned by a successful definitive fix.
type FixResult struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Checksum  string    `json:"checksum"`
}
