// Package hypothesis turns incident evidence into scored candidate causes.
//
// Baseline hypotheses come from static keyword heuristics and are fully
// deterministic. An optional enricher may rewrite summaries and nudge
// confidence within a bounded delta; any enrichment failure leaves the
// baseline untouched.
package hypothesis

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/linnemanlabs/arbiter/internal/incident"
)

// Rule is one static heuristic. It matches an evidence item when any pattern
// is a case-insensitive substring of the item's signature or message.
type Rule struct {
	CauseCode      string          `yaml:"cause_code"`
	Summary        string          `yaml:"summary"`
	Patterns       []string        `yaml:"patterns"`
	Kinds          []incident.Kind `yaml:"kinds"`
	BaseConfidence float64         `yaml:"base_confidence"`
	PerMatch       float64         `yaml:"per_match"`
	MaxConfidence  float64         `yaml:"max_confidence"`
}

// Quality weights the evidence quality score.
type Quality struct {
	VolumeWeight     float64       `yaml:"volume_weight"`
	DiversityWeight  float64       `yaml:"diversity_weight"`
	RecencyWeight    float64       `yaml:"recency_weight"`
	VolumeSaturation int           `yaml:"volume_saturation"`
	RecencyWindow    time.Duration `yaml:"recency_window"`
}

// Config is the scorer's static input.
type Config struct {
	Rules   []Rule  `yaml:"heuristics"`
	Quality Quality `yaml:"evidence_quality"`
	// UnclassifiedConfidence is used when evidence exists but nothing matches.
	UnclassifiedConfidence float64 `yaml:"unclassified_confidence"`
	// MaxEnrichmentDelta bounds how far enrichment may move a confidence.
	MaxEnrichmentDelta float64 `yaml:"max_enrichment_delta"`
}

const insufficientEvidenceConfidence = 0.05

func DefaultQuality() Quality {
	return Quality{
		VolumeWeight:     0.4,
		DiversityWeight:  0.35,
		RecencyWeight:    0.25,
		VolumeSaturation: 5,
		RecencyWindow:    30 * time.Minute,
	}
}

func unit(v float64) bool { return !math.IsNaN(v) && v >= 0 && v <= 1 }

// Validate checks rule and weight ranges.
func (c *Config) Validate() error {
	var errs []error

	seen := make(map[string]bool, len(c.Rules))
	for i, r := range c.Rules {
		name := r.CauseCode
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		if strings.TrimSpace(r.CauseCode) == "" {
			errs = append(errs, fmt.Errorf("heuristic %s: cause_code is required", name))
		}
		if r.CauseCode == incident.CauseUnclassified || r.CauseCode == incident.CauseInsufficientEvidence {
			errs = append(errs, fmt.Errorf("heuristic %s: cause_code is reserved", name))
		}
		if seen[r.CauseCode] {
			errs = append(errs, fmt.Errorf("heuristic %s: duplicate cause_code", name))
		}
		seen[r.CauseCode] = true
		if len(r.Patterns) == 0 {
			errs = append(errs, fmt.Errorf("heuristic %s: at least one pattern is required", name))
		}
		for _, p := range r.Patterns {
			if strings.TrimSpace(p) == "" {
				errs = append(errs, fmt.Errorf("heuristic %s: empty pattern", name))
			}
		}
		for _, k := range r.Kinds {
			if !k.Valid() {
				errs = append(errs, fmt.Errorf("heuristic %s: unknown evidence kind %q", name, k))
			}
		}
		if !unit(r.BaseConfidence) || !unit(r.PerMatch) || !unit(r.MaxConfidence) {
			errs = append(errs, fmt.Errorf("heuristic %s: confidences must be within [0,1]", name))
		}
		if r.MaxConfidence < r.BaseConfidence {
			errs = append(errs, fmt.Errorf("heuristic %s: max_confidence below base_confidence", name))
		}
	}

	q := c.Quality
	if !unit(q.VolumeWeight) || !unit(q.DiversityWeight) || !unit(q.RecencyWeight) {
		errs = append(errs, errors.New("evidence_quality: weights must be within [0,1]"))
	}
	if sum := q.VolumeWeight + q.DiversityWeight + q.RecencyWeight; math.Abs(sum-1) > 1e-9 {
		errs = append(errs, fmt.Errorf("evidence_quality: weights sum to %v, want 1", sum))
	}
	if q.VolumeSaturation < 1 {
		errs = append(errs, errors.New("evidence_quality: volume_saturation must be >= 1"))
	}
	if q.RecencyWindow < 0 {
		errs = append(errs, errors.New("evidence_quality: recency_window must not be negative"))
	}
	if !unit(c.UnclassifiedConfidence) {
		errs = append(errs, errors.New("unclassified_confidence must be within [0,1]"))
	}
	if !unit(c.MaxEnrichmentDelta) {
		errs = append(errs, errors.New("max_enrichment_delta must be within [0,1]"))
	}

	return errors.Join(errs...)
}
