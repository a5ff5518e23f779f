package heuristics

// PatternType tags the detector that produced a finding
type PatternType string

const (
	PatternCycle          PatternType = "cycle"
	PatternLayeredShell   PatternType = "layered_shell"
	PatternSmurfingFanIn  PatternType = "smurfing (fan-in)"
	PatternSmurfingFanOut PatternType = "smurfing (fan-out)"
)

// Finding is a raw detector hit before deduplication and scoring.
// Member order is traversal order for cycles and shells; for smurfing the
// first member is the hub.
type Finding struct {
	Type     PatternType    `json:"type"`
	Members  []string       `json:"members"`
	Metadata map[string]any `json:"metadata"`
}
