package incident

// Source records which stage last shaped a hypothesis.
type Source string

const (
	SourceRuleBased   Source = "rule-based"
	SourceLLMEnriched Source = "llm-enriched"
)

// Well-known cause codes produced without a heuristic match.
const (
	CauseInsufficientEvidence = "INSUFFICIENT_EVIDENCE"
	CauseUnclassified         = "UNCLASSIFIED"
)

// Hypothesis is a candidate root cause for an incident.
type Hypothesis struct {
	CauseCode       string  `json:"cause_code"`
	Summary         string  `json:"summary"`
	Confidence      float64 `json:"confidence"`
	EvidenceQuality float64 `json:"evidence_quality"`
	Source          Source  `json:"source"`
	// Order is the generation index; it breaks selection ties.
	Order int `json:"order"`
}
