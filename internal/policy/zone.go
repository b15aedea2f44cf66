// Package policy holds zone thresholds and the policy gate.
package policy

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Zone is a named risk tier with its gate and comfort thresholds. Higher tiers
// are more sensitive.
type Zone struct {
	Name                   string  `yaml:"name" json:"name"`
	Tier                   int     `yaml:"tier" json:"tier"`
	MinConfidence          float64 `yaml:"min_confidence" json:"min_confidence"`
	MinEvidenceQuality     float64 `yaml:"min_evidence_quality" json:"min_evidence_quality"`
	ComfortConfidence      float64 `yaml:"comfortable_confidence" json:"comfortable_confidence"`
	ComfortEvidenceQuality float64 `yaml:"comfortable_evidence_quality" json:"comfortable_evidence_quality"`
}

// Zones is a validated, immutable zone table.
type Zones struct {
	byName    map[string]Zone
	ordered   []Zone
	strictest Zone
	highest   int
}

func unit(v float64) bool { return !math.IsNaN(v) && v >= 0 && v <= 1 }

// NewZones validates zs and builds a lookup table.
func NewZones(zs []Zone) (*Zones, error) {
	if len(zs) == 0 {
		return nil, errors.New("at least one zone is required")
	}

	var errs []error
	byName := make(map[string]Zone, len(zs))
	for _, z := range zs {
		name := strings.TrimSpace(z.Name)
		switch {
		case name == "":
			errs = append(errs, errors.New("zone with empty name"))
			continue
		case name != z.Name:
			errs = append(errs, fmt.Errorf("zone %q: name has surrounding whitespace", z.Name))
		}
		if _, dup := byName[z.Name]; dup {
			errs = append(errs, fmt.Errorf("zone %q: duplicate", z.Name))
		}
		if z.Tier < 1 {
			errs = append(errs, fmt.Errorf("zone %q: tier must be >= 1", z.Name))
		}
		if !unit(z.MinConfidence) || !unit(z.MinEvidenceQuality) || !unit(z.ComfortConfidence) || !unit(z.ComfortEvidenceQuality) {
			errs = append(errs, fmt.Errorf("zone %q: thresholds must be within [0,1]", z.Name))
		}
		if z.ComfortConfidence < z.MinConfidence || z.ComfortEvidenceQuality < z.MinEvidenceQuality {
			errs = append(errs, fmt.Errorf("zone %q: comfortable thresholds below gate floors", z.Name))
		}
		byName[z.Name] = z
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	ordered := slices.Clone(zs)
	slices.SortStableFunc(ordered, func(a, b Zone) int {
		return cmp.Or(cmp.Compare(a.Tier, b.Tier), cmp.Compare(a.Name, b.Name))
	})

	strictest := ordered[0]
	for _, z := range ordered[1:] {
		if stricter(z, strictest) {
			strictest = z
		}
	}

	return &Zones{
		byName:    byName,
		ordered:   ordered,
		strictest: strictest,
		highest:   ordered[len(ordered)-1].Tier,
	}, nil
}

func stricter(a, b Zone) bool {
	if a.Tier != b.Tier {
		return a.Tier > b.Tier
	}
	if a.MinConfidence != b.MinConfidence {
		return a.MinConfidence > b.MinConfidence
	}
	return a.MinEvidenceQuality > b.MinEvidenceQuality
}

// Lookup returns the named zone. Unknown names get the strictest zone's
// thresholds under the requested name, and ok is false.
func (z *Zones) Lookup(name string) (zone Zone, ok bool) {
	if zone, ok = z.byName[name]; ok {
		return zone, true
	}
	zone = z.strictest
	zone.Name = name
	return zone, false
}

// Strictest returns the zone unknown names resolve to.
func (z *Zones) Strictest() Zone { return z.strictest }

// HighestTier is the tier of the most sensitive zone.
func (z *Zones) HighestTier() int { return z.highest }

// IsHighest reports whether zone sits in the highest tier.
func (z *Zones) IsHighest(zone Zone) bool { return zone.Tier >= z.highest }

// All returns the zones ordered by tier, then name.
func (z *Zones) All() []Zone { return slices.Clone(z.ordered) }
