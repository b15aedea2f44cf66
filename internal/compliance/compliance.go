// Package compliance classifies a scored incident against static control
// catalogs. Classification is pure: the same inputs always produce the same
// findings in the same order.
package compliance

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/linnemanlabs/arbiter/internal/incident"
)

// RequirementKind selects how a control is evaluated.
type RequirementKind string

const (
	MinConfidence       RequirementKind = "min_confidence"
	MinEvidenceQuality  RequirementKind = "min_evidence_quality"
	ForbiddenCauseCodes RequirementKind = "forbidden_cause_codes"
)

// Applicability limits which incidents a control covers. Empty lists match
// everything. CauseCodes are prefixes.
type Applicability struct {
	Zones              []string `yaml:"zones"`
	CauseCodes         []string `yaml:"cause_codes"`
	MinEvidenceQuality float64  `yaml:"min_evidence_quality"`
}

type Requirement struct {
	Kind      RequirementKind `yaml:"kind"`
	Threshold float64         `yaml:"threshold"`
	// WatchBand is the distance above Threshold that still reports watch.
	WatchBand  float64  `yaml:"watch_band"`
	CauseCodes []string `yaml:"cause_codes"`
}

type Control struct {
	ID          string        `yaml:"id"`
	Title       string        `yaml:"title"`
	AppliesTo   Applicability `yaml:"applies_to"`
	Requirement Requirement   `yaml:"requirement"`
}

// Catalog is an ordered set of controls.
type Catalog struct {
	Name     incident.Catalog `yaml:"name"`
	Title    string           `yaml:"title"`
	Controls []Control        `yaml:"controls"`
}

// Subject is what a control is evaluated against.
type Subject struct {
	Zone     string
	Selected incident.Hypothesis
}

// Classifier evaluates every catalog in order.
type Classifier struct {
	catalogs []Catalog
}

func NewClassifier(catalogs ...Catalog) *Classifier {
	return &Classifier{catalogs: slices.Clone(catalogs)}
}

// Catalogs returns the configured catalog names in evaluation order.
func (c *Classifier) Catalogs() []incident.Catalog {
	out := make([]incident.Catalog, len(c.catalogs))
	for i, cat := range c.catalogs {
		out[i] = cat.Name
	}
	return out
}

// Classify returns one finding per applicable control. A malformed control is
// always applicable and always fails.
func (c *Classifier) Classify(s Subject) incident.Findings {
	var out incident.Findings
	for _, cat := range c.catalogs {
		for _, ctl := range cat.Controls {
			if problem := ctl.Malformed(); problem != "" {
				out = append(out, incident.Finding{
					Catalog:   cat.Name,
					ControlID: controlID(ctl),
					Status:    incident.StatusFail,
					Rationale: "malformed control definition: " + problem,
				})
				continue
			}
			if !ctl.AppliesTo.matches(s) {
				continue
			}
			status, why := ctl.Requirement.evaluate(s.Selected)
			out = append(out, incident.Finding{
				Catalog:   cat.Name,
				ControlID: ctl.ID,
				Status:    status,
				Rationale: why,
			})
		}
	}
	return out
}

// Malformed describes what is wrong with the control, or returns "".
func (ctl Control) Malformed() string {
	if strings.TrimSpace(ctl.ID) == "" {
		return "missing id"
	}
	if !unit(ctl.AppliesTo.MinEvidenceQuality) {
		return "applies_to.min_evidence_quality outside [0,1]"
	}
	r := ctl.Requirement
	switch r.Kind {
	case MinConfidence, MinEvidenceQuality:
		if !unit(r.Threshold) {
			return "threshold outside [0,1]"
		}
		if !unit(r.WatchBand) {
			return "watch_band outside [0,1]"
		}
	case ForbiddenCauseCodes:
		if len(r.CauseCodes) == 0 {
			return "forbidden cause code list is empty"
		}
		for _, code := range r.CauseCodes {
			if strings.TrimSpace(code) == "" {
				return "empty forbidden cause code"
			}
		}
	default:
		return fmt.Sprintf("unknown requirement kind %q", r.Kind)
	}
	return ""
}

func controlID(ctl Control) string {
	if id := strings.TrimSpace(ctl.ID); id != "" {
		return id
	}
	return "UNNAMED"
}

func (a Applicability) matches(s Subject) bool {
	if len(a.Zones) > 0 && !slices.Contains(a.Zones, s.Zone) {
		return false
	}
	if len(a.CauseCodes) > 0 && !hasPrefix(s.Selected.CauseCode, a.CauseCodes) {
		return false
	}
	return s.Selected.EvidenceQuality >= a.MinEvidenceQuality
}

func (r Requirement) evaluate(h incident.Hypothesis) (incident.Status, string) {
	switch r.Kind {
	case MinConfidence:
		return band("confidence", h.Confidence, r.Threshold, r.WatchBand)
	case MinEvidenceQuality:
		return band("evidence quality", h.EvidenceQuality, r.Threshold, r.WatchBand)
	case ForbiddenCauseCodes:
		if hasPrefix(h.CauseCode, r.CauseCodes) {
			return incident.StatusFail, fmt.Sprintf("cause code %s is not permitted", h.CauseCode)
		}
		return incident.StatusPass, fmt.Sprintf("cause code %s is permitted", h.CauseCode)
	}
	// unreachable for well-formed controls
	return incident.StatusFail, "unknown requirement"
}

func band(what string, v, threshold, watch float64) (incident.Status, string) {
	upper := incident.Round4(threshold + watch)
	switch {
	case v < threshold:
		return incident.StatusFail, fmt.Sprintf("%s %.4f below required %.4f", what, v, threshold)
	case v < upper:
		return incident.StatusWatch, fmt.Sprintf("%s %.4f within watch band [%.4f, %.4f)", what, v, threshold, upper)
	}
	return incident.StatusPass, fmt.Sprintf("%s %.4f meets %.4f", what, v, threshold)
}

func hasPrefix(code string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(code, p) {
			return true
		}
	}
	return false
}

func unit(v float64) bool { return !math.IsNaN(v) && v >= 0 && v <= 1 }
