// Package enrich is the optional LLM enrichment step of hypothesis scoring.
// A HypothesisEnricher is chosen at construction time: Disabled never touches
// the network, Adapter asks a completion Provider to refine baseline
// hypotheses and appends one audit record per attempt.
package enrich

import (
	"context"
	"errors"

	"github.com/linnemanlabs/arbiter/internal/incident"
)

// ErrNotAttempted is returned by the disabled enricher.
var ErrNotAttempted = errors.New("enrichment not attempted")

// Refinement is a proposed change to one baseline hypothesis, addressed by its
// position in the draft list.
type Refinement struct {
	Index      int      `json:"index"`
	Summary    string   `json:"summary,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Result carries the refinements of a successful call and the audit record of
// every attempt, successful or not.
type Result struct {
	Refinements []Refinement
	Record      incident.CallRecord
}

// Status is the introspection view of an enricher. It never carries request or
// response payloads.
type Status struct {
	Enabled   bool   `json:"enabled"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Calls     int64  `json:"calls"`
	Succeeded int64  `json:"succeeded"`
	Failed    int64  `json:"failed"`
}

// HypothesisEnricher refines baseline hypotheses for one incident. Any returned
// error means the caller must keep the baseline unchanged.
type HypothesisEnricher interface {
	Enrich(ctx context.Context, inc *incident.Incident, drafts []incident.Hypothesis) (Result, error)
	Status() Status
}

// Disabled is the enricher used when enrichment is switched off.
type Disabled struct {
	Model string
}

// Enrich returns immediately with a not-attempted record.
func (d Disabled) Enrich(_ context.Context, inc *incident.Incident, _ []incident.Hypothesis) (Result, error) {
	rec := incident.CallRecord{IncidentID: inc.ID, Model: d.Model}
	return Result{Record: rec.Failed("not attempted")}, ErrNotAttempted
}

// Status reports the enricher as disabled.
func (d Disabled) Status() Status {
	return Status{Enabled: false, Model: d.Model}
}
