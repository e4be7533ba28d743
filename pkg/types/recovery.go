package types

// Outcome tags which branch of the recovery ladder a call took.
type Outcome int

const (
	// OutcomeSkipped means another recovery was already in flight.
	OutcomeSkipped Outcome = iota
	// OutcomeUnhandled means the error did not match the referential
	// integrity signature.
	OutcomeUnhandled
	// OutcomeStable means the store was healthy; only the UI was resynced.
	OutcomeStable
	// OutcomeRepaired means an in-place repair restored health.
	OutcomeRepaired
	// OutcomeRebuilt means the nuclear rebuild restored health.
	OutcomeRebuilt
	// OutcomeEscalated means automated recovery failed and a reload or
	// manual recovery was requested.
	OutcomeEscalated
)

var outcomeNames = map[Outcome]string{
	OutcomeSkipped:   "skipped",
	OutcomeUnhandled: "unhandled",
	OutcomeStable:    "stable",
	OutcomeRepaired:  "repaired",
	OutcomeRebuilt:   "rebuilt",
	OutcomeEscalated: "escalated",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

// Recovered reports whether the store ended healthy and the UI resynced.
func (o Outcome) Recovered() bool {
	return o == OutcomeStable || o == OutcomeRepaired || o == OutcomeRebuilt
}

// SkippedStatement is a create statement that failed during emergency
// initialization and was skipped.
type SkippedStatement struct {
	Table string `json:"table"`
	Err   string `json:"error"`
}

// GroupReport records what one table group of the initializer did.
type GroupReport struct {
	Name    string             `json:"name"`
	Created []string           `json:"created"`
	Skipped []SkippedStatement `json:"skipped,omitempty"`
}

// InitReport is returned by the emergency initializer.
type InitReport struct {
	PreState   DiagnosticReport `json:"pre_state"`
	Groups     []GroupReport    `json:"groups"`
	Seeded     bool             `json:"seeded"`
	TableCount int              `json:"table_count"`
}

// SkippedTables lists every table whose create statement was skipped.
func (r InitReport) SkippedTables() []string {
	var out []string
	for _, g := range r.Groups {
		for _, s := range g.Skipped {
			out = append(out, s.Table)
		}
	}
	return out
}
