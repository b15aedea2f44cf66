package triage

import (
	"time"

	"github.com/linnemanlabs/arbiter/internal/incident"
)

// Stage names a step of the per-incident pipeline.
type Stage string

const (
	StageLoad     Stage = "load"
	StageScore    Stage = "score"
	StageClassify Stage = "classify"
	StageGate     Stage = "gate"
	StageDecide   Stage = "decide"
)

// Result is the stored outcome of triaging one incident.
type Result struct {
	ID         string                `json:"id"`
	RunID      string                `json:"run_id,omitempty"`
	IncidentID string                `json:"incident_id"`
	Title      string                `json:"title,omitempty"`
	Decision   incident.Decision     `json:"decision"`
	Verdict    incident.Verdict      `json:"verdict"`
	Hypotheses []incident.Hypothesis `json:"hypotheses"`
	Selected   *incident.Hypothesis  `json:"selected,omitempty"`
	Enrichment incident.CallRecord   `json:"enrichment"`
	// FailedStage is set when the decision is a failure decision.
	FailedStage Stage     `json:"failed_stage,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Duration    float64   `json:"duration_seconds"`
}

// Failed reports whether the pipeline could not process the incident.
func (r *Result) Failed() bool { return r.FailedStage != "" }

// Run is the outcome of a batch. Results are in selection order.
type Run struct {
	ID          string    `json:"id"`
	Results     []*Result `json:"results"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Decisions returns the decisions of r in selection order.
func (r *Run) Decisions() []incident.Decision {
	out := make([]incident.Decision, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Decision
	}
	return out
}
