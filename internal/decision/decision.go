// Package decision maps a policy verdict and its findings to exactly one
// terminal decision.
package decision

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/linnemanlabs/arbiter/internal/incident"
	"github.com/linnemanlabs/arbiter/internal/policy"
)

// ErrInvariant reports inputs the engine must never see, such as a failed
// verdict without a failing rule. It indicates a defect, not bad evidence.
var ErrInvariant = errors.New("decision invariant violated")

// Options tunes the transition rules.
type Options struct {
	// EscalateOnWatch lists the catalogs whose watch findings escalate a
	// passing incident in the highest tier. Watch findings from other
	// catalogs only appear in the rationale.
	EscalateOnWatch []incident.Catalog `yaml:"escalate_on_watch"`
}

func DefaultOptions() Options {
	return Options{EscalateOnWatch: []incident.Catalog{incident.CatalogIEC}}
}

// Input is the fully evaluated state of one incident.
type Input struct {
	IncidentID string
	Zone       policy.Zone
	Selected   incident.Hypothesis
	Findings   incident.Findings
	Verdict    incident.Verdict
}

type Engine struct {
	zones *policy.Zones
	opts  Options
}

func NewEngine(zones *policy.Zones, opts Options) *Engine {
	return &Engine{zones: zones, opts: opts}
}

// Decide performs the single transition for one incident.
func (e *Engine) Decide(in Input) (incident.Decision, error) {
	if err := e.check(in); err != nil {
		return incident.Decision{}, err
	}

	highest := e.zones.IsHighest(in.Zone)
	dt, reason := e.transition(in, highest)

	return incident.Decision{
		IncidentID:                   in.IncidentID,
		DecisionType:                 dt,
		EscalationRequired:           escalationRequired(dt, in.Verdict.Passed, highest),
		PolicyPassed:                 in.Verdict.Passed,
		EvidenceQuality:              in.Selected.EvidenceQuality,
		SelectedHypothesisConfidence: in.Selected.Confidence,
		Zone:                         in.Zone.Name,
		NISTFindings:                 in.Findings.ByCatalog(incident.CatalogNIST),
		IECFindings:                  in.Findings.ByCatalog(incident.CatalogIEC),
		Rationale:                    in.Verdict.Rationale + "; " + reason,
	}, nil
}

func (e *Engine) transition(in Input, highest bool) (incident.DecisionType, string) {
	v := in.Verdict
	if !v.Passed {
		if *v.FailingRule == incident.RuleComplianceFail {
			return incident.Refuse, "refused: safety-critical non-compliance, no remediation proposed"
		}
		return incident.Escalate, fmt.Sprintf("escalated: policy gate failed on %s", *v.FailingRule)
	}

	if highest {
		if watch := e.escalatingWatch(in.Findings); len(watch) > 0 {
			return incident.Escalate, fmt.Sprintf("escalated: highest-tier zone %s with watch findings %s", in.Zone.Name, watch.Refs())
		}
	}

	h, z := in.Selected, in.Zone
	var short []string
	if h.EvidenceQuality < z.ComfortEvidenceQuality {
		short = append(short, fmt.Sprintf("evidence quality %.4f below comfortable %.4f", h.EvidenceQuality, z.ComfortEvidenceQuality))
	}
	if h.Confidence < z.ComfortConfidence {
		short = append(short, fmt.Sprintf("confidence %.4f below comfortable %.4f", h.Confidence, z.ComfortConfidence))
	}
	if len(short) > 0 {
		return incident.Defer, "deferred: " + strings.Join(short, ", ") + "; collect more evidence before acting"
	}

	if highest {
		return incident.Propose, fmt.Sprintf("proposed %s; human sign-off required in highest-tier zone %s", h.CauseCode, z.Name)
	}
	return incident.Propose, fmt.Sprintf("proposed %s", h.CauseCode)
}

func (e *Engine) escalatingWatch(fs incident.Findings) incident.Findings {
	var out incident.Findings
	for _, f := range fs.WithStatus(incident.StatusWatch) {
		if slices.Contains(e.opts.EscalateOnWatch, f.Catalog) {
			out = append(out, f)
		}
	}
	return out
}

func escalationRequired(dt incident.DecisionType, passed, highest bool) bool {
	switch dt {
	case incident.Escalate, incident.Refuse:
		return true
	case incident.Propose:
		return !passed || highest
	}
	return !passed
}

func (e *Engine) check(in Input) error {
	v := in.Verdict
	if !v.Passed && v.FailingRule == nil {
		return fmt.Errorf("%w: incident %s: failed verdict without failing rule", ErrInvariant, in.IncidentID)
	}
	hasFail := len(in.Findings.WithStatus(incident.StatusFail)) > 0
	if hasFail && v.Passed {
		return fmt.Errorf("%w: incident %s: verdict passed with failing compliance findings", ErrInvariant, in.IncidentID)
	}
	if !v.Passed && *v.FailingRule == incident.RuleComplianceFail && !hasFail {
		return fmt.Errorf("%w: incident %s: compliance failure without failing findings", ErrInvariant, in.IncidentID)
	}
	h := in.Selected
	if h.CauseCode == "" {
		return fmt.Errorf("%w: incident %s: no hypothesis selected", ErrInvariant, in.IncidentID)
	}
	if incident.Clamp01(h.Confidence) != h.Confidence || incident.Clamp01(h.EvidenceQuality) != h.EvidenceQuality {
		return fmt.Errorf("%w: incident %s: scores outside [0,1]", ErrInvariant, in.IncidentID)
	}
	for _, f := range in.Findings {
		if !f.Catalog.Valid() {
			return fmt.Errorf("%w: incident %s: finding %s has unknown catalog", ErrInvariant, in.IncidentID, f.ControlID)
		}
	}
	return nil
}

// Failure is the refuse-equivalent decision recorded when an incident could
// not be processed. It always requires escalation.
func Failure(incidentID, zone, stage string, cause error) incident.Decision {
	return incident.Decision{
		IncidentID:         incidentID,
		DecisionType:       incident.Refuse,
		EscalationRequired: true,
		PolicyPassed:       false,
		Zone:               zone,
		NISTFindings:       []incident.Finding{},
		IECFindings:        []incident.Finding{},
		Rationale:          fmt.Sprintf("pipeline failed at stage %s: %v", stage, cause),
	}
}
