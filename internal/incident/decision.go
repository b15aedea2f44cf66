package incident

import "fmt"

// DecisionType is the closed set of terminal triage outcomes. The zero value is
// not a valid decision.
type DecisionType uint8

const (
	Propose DecisionType = iota + 1
	Escalate
	Refuse
	Defer
)

// DecisionTypes lists every decision type in reporting order.
var DecisionTypes = []DecisionType{Propose, Escalate, Refuse, Defer}

func (d DecisionType) String() string {
	switch d {
	case Propose:
		return "propose"
	case Escalate:
		return "escalate"
	case Refuse:
		return "refuse"
	case Defer:
		return "defer"
	}
	return fmt.Sprintf("DecisionType(%d)", uint8(d))
}

// Valid reports whether d is one of the four decision types.
func (d DecisionType) Valid() bool {
	return d >= Propose && d <= Defer
}

// ParseDecisionType is the inverse of String.
func ParseDecisionType(s string) (DecisionType, error) {
	for _, d := range DecisionTypes {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown decision type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d DecisionType) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid decision type %d", uint8(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DecisionType) UnmarshalText(b []byte) error {
	v, err := ParseDecisionType(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Decision is the final, immutable outcome for one incident.
type Decision struct {
	IncidentID                   string       `json:"incident_id"`
	DecisionType                 DecisionType `json:"decision_type"`
	EscalationRequired           bool         `json:"escalation_required"`
	PolicyPassed                 bool         `json:"policy_passed"`
	EvidenceQuality              float64      `json:"evidence_quality"`
	SelectedHypothesisConfidence float64      `json:"selected_hypothesis_confidence"`
	Zone                         string       `json:"zone"`
	NISTFindings                 []Finding    `json:"nist_findings"`
	IECFindings                  []Finding    `json:"iec_findings"`
	Rationale                    string       `json:"rationale"`
}

// Findings returns both catalogs' findings with their catalog set.
func (d *Decision) Findings() Findings {
	out := make(Findings, 0, len(d.NISTFindings)+len(d.IECFindings))
	for _, f := range d.NISTFindings {
		f.Catalog = CatalogNIST
		out = append(out, f)
	}
	for _, f := range d.IECFindings {
		f.Catalog = CatalogIEC
		out = append(out, f)
	}
	return out
}
