package decision

import (
	"errors"
	"strings"
	"testing"

	"github.com/linnemanlabs/arbiter/internal/incident"
	"github.com/linnemanlabs/arbiter/internal/policy"
)

func testZones(t *testing.T) *policy.Zones {
	t.Helper()
	z, err := policy.NewZones([]policy.Zone{
		{Name: "standard", Tier: 1, MinConfidence: 0.5, MinEvidenceQuality: 0.15, ComfortConfidence: 0.7, ComfortEvidenceQuality: 0.45},
		{Name: "elevated", Tier: 2, MinConfidence: 0.6, MinEvidenceQuality: 0.2, ComfortConfidence: 0.75, ComfortEvidenceQuality: 0.5},
		{Name: "critical", Tier: 3, MinConfidence: 0.7, MinEvidenceQuality: 0.25, ComfortConfidence: 0.8, ComfortEvidenceQuality: 0.55},
	})
	if err != nil {
		t.Fatalf("NewZones: %v", err)
	}
	return z
}

// decide runs the gate and the engine the way the pipeline does.
func decide(t *testing.T, zone string, h incident.Hypothesis, fs incident.Findings) incident.Decision {
	t.Helper()
	zones := testZones(t)
	z, _ := zones.Lookup(zone)
	v := policy.Evaluate(policy.Input{Zone: z, Selected: h, Findings: fs})
	d, err := NewEngine(zones, DefaultOptions()).Decide(Input{
		IncidentID: "inc", Zone: z, Selected: h, Findings: fs, Verdict: v,
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	return d
}

func hyp(conf, eq float64) incident.Hypothesis {
	return incident.Hypothesis{CauseCode: "T1110", Confidence: conf, EvidenceQuality: eq, Source: incident.SourceRuleBased}
}

var (
	nistWatch = incident.Finding{Catalog: incident.CatalogNIST, ControlID: "SI-4", Status: incident.StatusWatch, Rationale: "r"}
	iecWatch  = incident.Finding{Catalog: incident.CatalogIEC, ControlID: "SR-3.1", Status: incident.StatusWatch, Rationale: "r"}
	iecFail   = incident.Finding{Catalog: incident.CatalogIEC, ControlID: "SR-7.6", Status: incident.StatusFail, Rationale: "r"}
	nistPass  = incident.Finding{Catalog: incident.CatalogNIST, ControlID: "IR-4", Status: incident.StatusPass, Rationale: "r"}
)

func TestDecide_Scenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		zone       string
		h          incident.Hypothesis
		findings   incident.Findings
		want       incident.DecisionType
		escalation bool
		passed     bool
	}{
		{"critical zone nist watch proposes with sign-off", "critical", hyp(0.9, 0.9), incident.Findings{nistWatch}, incident.Propose, true, true},
		{"catalog-b fail refuses", "standard", hyp(0.95, 0.9), incident.Findings{nistPass, iecFail}, incident.Refuse, true, false},
		{"low evidence quality defers", "standard", hyp(0.9, 0.2), nil, incident.Defer, false, true},
		{"standard clean propose", "standard", hyp(0.9, 0.9), incident.Findings{nistPass}, incident.Propose, false, true},
		{"critical clean propose needs sign-off", "critical", hyp(0.9, 0.9), nil, incident.Propose, true, true},
		{"confidence floor escalates", "elevated", hyp(0.55, 0.9), nil, incident.Escalate, true, false},
		{"evidence floor escalates", "elevated", hyp(0.9, 0.1), nil, incident.Escalate, true, false},
		{"critical iec watch escalates", "critical", hyp(0.9, 0.9), incident.Findings{iecWatch}, incident.Escalate, true, true},
		{"iec watch outside highest tier proposes", "elevated", hyp(0.9, 0.9), incident.Findings{iecWatch}, incident.Propose, false, true},
		{"low comfort confidence defers", "elevated", hyp(0.65, 0.9), nil, incident.Defer, false, true},
		{"critical defer does not escalate", "critical", hyp(0.75, 0.9), nil, incident.Defer, false, true},
		{"unknown zone treated as highest tier", "dmz", hyp(0.9, 0.9), nil, incident.Propose, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := decide(t, tt.zone, tt.h, tt.findings)
			if d.DecisionType != tt.want {
				t.Errorf("DecisionType = %s, want %s (%s)", d.DecisionType, tt.want, d.Rationale)
			}
			if d.EscalationRequired != tt.escalation {
				t.Errorf("EscalationRequired = %v, want %v", d.EscalationRequired, tt.escalation)
			}
			if d.PolicyPassed != tt.passed {
				t.Errorf("PolicyPassed = %v, want %v", d.PolicyPassed, tt.passed)
			}
			if d.SelectedHypothesisConfidence != tt.h.Confidence || d.EvidenceQuality != tt.h.EvidenceQuality {
				t.Errorf("scores = %v/%v, want %v/%v", d.SelectedHypothesisConfidence, d.EvidenceQuality, tt.h.Confidence, tt.h.EvidenceQuality)
			}
			if d.Zone != tt.zone {
				t.Errorf("Zone = %q, want %q", d.Zone, tt.zone)
			}
		})
	}
}

func TestDecide_AnyFailFindingRefuses(t *testing.T) {
	t.Parallel()

	for _, zone := range []string{"standard", "elevated", "critical"} {
		for _, conf := range []float64{0, 0.5, 1} {
			d := decide(t, zone, hyp(conf, 1), incident.Findings{iecFail, nistWatch})
			if d.DecisionType != incident.Refuse {
				t.Errorf("%s/%v: DecisionType = %s, want refuse", zone, conf, d.DecisionType)
			}
		}
	}
}

func TestDecide_RationaleCarriesWatchIDs(t *testing.T) {
	t.Parallel()

	d := decide(t, "critical", hyp(0.9, 0.9), incident.Findings{nistWatch, nistPass})
	for _, want := range []string{"policy passed", "nist:SI-4", "human sign-off"} {
		if !strings.Contains(d.Rationale, want) {
			t.Errorf("rationale %q missing %q", d.Rationale, want)
		}
	}
	if len(d.NISTFindings) != 2 || len(d.IECFindings) != 0 || d.IECFindings == nil {
		t.Errorf("findings split = %d nist, %v iec", len(d.NISTFindings), d.IECFindings)
	}
}

func TestDecide_Invariants(t *testing.T) {
	t.Parallel()

	zones := testZones(t)
	z, _ := zones.Lookup("standard")
	e := NewEngine(zones, DefaultOptions())
	rule := incident.RuleComplianceFail

	tests := []struct {
		name string
		in   Input
	}{
		{"failed without rule", Input{Zone: z, Selected: hyp(0.9, 0.9), Verdict: incident.Verdict{Passed: false}}},
		{"passed with fail finding", Input{Zone: z, Selected: hyp(0.9, 0.9), Findings: incident.Findings{iecFail}, Verdict: incident.Verdict{Passed: true}}},
		{"compliance rule without fail finding", Input{Zone: z, Selected: hyp(0.9, 0.9), Verdict: incident.Verdict{FailingRule: &rule}}},
		{"no hypothesis", Input{Zone: z, Verdict: incident.Verdict{Passed: true}}},
		{"score out of range", Input{Zone: z, Selected: hyp(1.2, 0.9), Verdict: incident.Verdict{Passed: true}}},
		{"unknown catalog", Input{Zone: z, Selected: hyp(0.9, 0.9), Findings: incident.Findings{{ControlID: "x", Status: incident.StatusPass}}, Verdict: incident.Verdict{Passed: true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := e.Decide(tt.in); !errors.Is(err, ErrInvariant) {
				t.Errorf("err = %v, want ErrInvariant", err)
			}
		})
	}
}

func TestFailure(t *testing.T) {
	t.Parallel()

	d := Failure("inc-9", "critical", "load", errors.New("file not found"))
	if d.DecisionType != incident.Refuse || !d.EscalationRequired || d.PolicyPassed {
		t.Errorf("got %+v", d)
	}
	if !strings.Contains(d.Rationale, "stage load") {
		t.Errorf("rationale %q should name the stage", d.Rationale)
	}
	if d.NISTFindings == nil || d.IECFindings == nil {
		t.Error("findings should be empty lists, not nil")
	}
}
