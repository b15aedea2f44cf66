// Package ruleset loads the static decision configuration: zones, scoring
// heuristics, compliance catalogs and decision options.
package ruleset

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/arbiter/internal/compliance"
	"github.com/linnemanlabs/arbiter/internal/decision"
	"github.com/linnemanlabs/arbiter/internal/hypothesis"
	"github.com/linnemanlabs/arbiter/internal/incident"
	"github.com/linnemanlabs/arbiter/internal/policy"
)

//go:embed default.yaml
var defaultYAML []byte

// Ruleset is the parsed configuration file.
type Ruleset struct {
	ZoneList []policy.Zone        `yaml:"zones"`
	Scoring  hypothesis.Config    `yaml:",inline"`
	Catalogs []compliance.Catalog `yaml:"catalogs"`
	Decision decision.Options     `yaml:"decision"`

	zones *policy.Zones
}

// Default returns the embedded ruleset.
func Default() (*Ruleset, error) {
	return Parse(defaultYAML)
}

// Load reads and validates the ruleset at path.
func Load(path string) (*Ruleset, error) {
	b, err := os.ReadFile(path) // #nosec G304 -- operator-supplied ruleset path
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}
	rs, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("ruleset %s: %w", path, err)
	}
	return rs, nil
}

// Parse decodes and validates a YAML ruleset. Unknown keys are rejected.
func Parse(b []byte) (*Ruleset, error) {
	var rs Ruleset
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("decode ruleset: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate checks the ruleset and prepares the zone table. Malformed controls
// are not rejected here; they classify as fail.
func (rs *Ruleset) Validate() error {
	var errs []error

	zones, err := policy.NewZones(rs.ZoneList)
	if err != nil {
		errs = append(errs, fmt.Errorf("zones: %w", err))
	}
	if err := rs.Scoring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scoring: %w", err))
	}

	seen := map[incident.Catalog]bool{}
	for _, c := range rs.Catalogs {
		if !c.Name.Valid() {
			errs = append(errs, fmt.Errorf("catalog %q: unknown catalog name", c.Name))
			continue
		}
		if seen[c.Name] {
			errs = append(errs, fmt.Errorf("catalog %q: duplicate", c.Name))
		}
		seen[c.Name] = true
	}
	for _, c := range []incident.Catalog{incident.CatalogNIST, incident.CatalogIEC} {
		if !seen[c] {
			errs = append(errs, fmt.Errorf("catalog %q: missing", c))
		}
	}
	for _, c := range rs.Decision.EscalateOnWatch {
		if !c.Valid() {
			errs = append(errs, fmt.Errorf("decision.escalate_on_watch: unknown catalog %q", c))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	rs.zones = zones
	return nil
}

// Zones returns the validated zone table.
func (rs *Ruleset) Zones() *policy.Zones { return rs.zones }

// Classifier builds a compliance classifier over the catalogs.
func (rs *Ruleset) Classifier() *compliance.Classifier {
	return compliance.NewClassifier(rs.Catalogs...)
}

// MalformedControls lists catalog-qualified controls that will always fail,
// with the reason.
func (rs *Ruleset) MalformedControls() []string {
	var out []string
	for _, c := range rs.Catalogs {
		for _, ctl := range c.Controls {
			if problem := ctl.Malformed(); problem != "" {
				out = append(out, fmt.Sprintf("%s:%s: %s", c.Name, ctl.ID, problem))
			}
		}
	}
	return out
}
