package hypothesis

import (
	"errors"

	"github.com/linnemanlabs/arbiter/internal/enrich"
	"github.com/linnemanlabs/arbiter/internal/incident"
)

// ErrNoHypotheses means selection was asked to choose from nothing. The scorer
// always produces at least one hypothesis, so this is a defect.
var ErrNoHypotheses = errors.New("no hypotheses to select from")

// Select picks the hypothesis with the highest confidence, then the highest
// evidence quality, then the earliest generated.
func Select(hs []incident.Hypothesis) (incident.Hypothesis, error) {
	if len(hs) == 0 {
		return incident.Hypothesis{}, ErrNoHypotheses
	}
	best := hs[0]
	for _, h := range hs[1:] {
		if better(h, best) {
			best = h
		}
	}
	return best, nil
}

func better(a, b incident.Hypothesis) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.EvidenceQuality != b.EvidenceQuality {
		return a.EvidenceQuality > b.EvidenceQuality
	}
	return a.Order < b.Order
}

// Apply merges refinements into a copy of base. Confidence moves at most delta
// away from the baseline value. Cause codes and evidence quality never change.
func Apply(base []incident.Hypothesis, refinements []enrich.Refinement, delta float64) []incident.Hypothesis {
	out := make([]incident.Hypothesis, len(base))
	copy(out, base)

	for _, r := range refinements {
		if r.Index < 0 || r.Index >= len(out) {
			continue
		}
		h := &out[r.Index]
		changed := false
		if r.Summary != "" && r.Summary != h.Summary {
			h.Summary = r.Summary
			changed = true
		}
		if r.Confidence != nil {
			orig := base[r.Index].Confidence
			c := *r.Confidence
			c = max(c, orig-delta)
			c = min(c, orig+delta)
			c = incident.Score(c)
			if c != h.Confidence {
				h.Confidence = c
				changed = true
			}
		}
		if changed {
			h.Source = incident.SourceLLMEnriched
		}
	}
	return out
}
