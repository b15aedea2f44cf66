package hypothesis

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/arbiter/internal/enrich"
	"github.com/linnemanlabs/arbiter/internal/incident"
)

// Scored is the scorer's output for one incident.
type Scored struct {
	Hypotheses []incident.Hypothesis
	Selected   incident.Hypothesis
	// Enrichment is the call record of this incident's enrichment attempt.
	Enrichment incident.CallRecord
	Enriched   bool
}

type Scorer struct {
	cfg      Config
	enricher enrich.HypothesisEnricher
	logger   log.Logger
}

// NewScorer returns a scorer. A nil enricher behaves as enrich.Disabled.
func NewScorer(cfg Config, enricher enrich.HypothesisEnricher, logger log.Logger) *Scorer {
	if enricher == nil {
		enricher = enrich.Disabled{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	rules := make([]Rule, len(cfg.Rules))
	for i, r := range cfg.Rules {
		r.Patterns = lowerAll(r.Patterns)
		rules[i] = r
	}
	cfg.Rules = rules
	return &Scorer{cfg: cfg, enricher: enricher, logger: logger}
}

// Baseline produces the rule-based hypotheses for inc in rule order. It never
// returns an empty slice.
func (s *Scorer) Baseline(inc *incident.Incident) []incident.Hypothesis {
	valid := inc.ValidEvidence()
	if len(valid) == 0 {
		return []incident.Hypothesis{{
			CauseCode:       incident.CauseInsufficientEvidence,
			Summary:         "No usable evidence was supplied for this incident.",
			Confidence:      insufficientEvidenceConfidence,
			EvidenceQuality: 0,
			Source:          incident.SourceRuleBased,
		}}
	}

	latest := latestObservation(valid)
	var out []incident.Hypothesis
	for _, r := range s.cfg.Rules {
		support := r.supporting(valid)
		if len(support) == 0 {
			continue
		}
		out = append(out, incident.Hypothesis{
			CauseCode:       r.CauseCode,
			Summary:         r.Summary,
			Confidence:      r.confidence(len(support)),
			EvidenceQuality: s.cfg.Quality.EvidenceQuality(support, latest),
			Source:          incident.SourceRuleBased,
			Order:           len(out),
		})
	}
	if len(out) == 0 {
		out = append(out, incident.Hypothesis{
			CauseCode:       incident.CauseUnclassified,
			Summary:         "Evidence did not match any known cause pattern.",
			Confidence:      incident.Score(s.cfg.UnclassifiedConfidence),
			EvidenceQuality: s.cfg.Quality.EvidenceQuality(valid, latest),
			Source:          incident.SourceRuleBased,
		})
	}
	return out
}

// Score runs the baseline, offers it to the enricher and selects one
// hypothesis. Enrichment errors are absorbed; only a selection defect is
// returned.
func (s *Scorer) Score(ctx context.Context, inc *incident.Incident) (Scored, error) {
	base := s.Baseline(inc)
	out := Scored{Hypotheses: base}

	if len(base) == 1 && base[0].CauseCode == incident.CauseInsufficientEvidence {
		out.Enrichment = incident.CallRecord{IncidentID: inc.ID, Model: s.enricher.Status().Model}.Failed("not attempted: no usable evidence")
	} else {
		res, err := s.enricher.Enrich(ctx, inc, base)
		out.Enrichment = res.Record
		switch {
		case err == nil:
			out.Hypotheses = Apply(base, res.Refinements, s.cfg.MaxEnrichmentDelta)
			out.Enriched = true
		case errors.Is(err, enrich.ErrNotAttempted):
		default:
			s.logger.Warn(ctx, "enrichment ignored, keeping baseline", "incident_id", inc.ID, "error", err)
		}
	}

	sel, err := Select(out.Hypotheses)
	if err != nil {
		return Scored{}, err
	}
	out.Selected = sel
	return out, nil
}

func (r Rule) supporting(items []incident.Evidence) []incident.Evidence {
	var out []incident.Evidence
	for _, e := range items {
		if len(r.Kinds) > 0 && !slices.Contains(r.Kinds, e.Kind) {
			continue
		}
		text := e.Text()
		for _, p := range r.Patterns {
			if strings.Contains(text, p) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func (r Rule) confidence(matches int) float64 {
	c := r.BaseConfidence + r.PerMatch*float64(matches-1)
	return incident.Score(min(c, r.MaxConfidence))
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}
