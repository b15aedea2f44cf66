package policy

import (
	"strings"
	"testing"

	"github.com/linnemanlabs/arbiter/internal/incident"
)

func testZones(t *testing.T) *Zones {
	t.Helper()
	z, err := NewZones([]Zone{
		{Name: "standard", Tier: 1, MinConfidence: 0.5, MinEvidenceQuality: 0.15, ComfortConfidence: 0.7, ComfortEvidenceQuality: 0.45},
		{Name: "critical", Tier: 3, MinConfidence: 0.7, MinEvidenceQuality: 0.25, ComfortConfidence: 0.8, ComfortEvidenceQuality: 0.55},
		{Name: "elevated", Tier: 2, MinConfidence: 0.6, MinEvidenceQuality: 0.2, ComfortConfidence: 0.75, ComfortEvidenceQuality: 0.5},
	})
	if err != nil {
		t.Fatalf("NewZones: %v", err)
	}
	return z
}

func TestZones_Lookup(t *testing.T) {
	t.Parallel()

	z := testZones(t)
	got, ok := z.Lookup("elevated")
	if !ok || got.Tier != 2 {
		t.Errorf("Lookup(elevated) = %+v, %v", got, ok)
	}

	got, ok = z.Lookup("dmz")
	if ok {
		t.Error("unknown zone reported as known")
	}
	if got.Name != "dmz" || got.Tier != 3 || got.MinConfidence != 0.7 {
		t.Errorf("unknown zone = %+v, want strictest thresholds", got)
	}
	if !z.IsHighest(got) {
		t.Error("unknown zone should be treated as highest tier")
	}
	if s := z.Strictest(); s.Name != "critical" {
		t.Errorf("Strictest = %q, want critical", s.Name)
	}
	if z.HighestTier() != 3 {
		t.Errorf("HighestTier = %d, want 3", z.HighestTier())
	}

	all := z.All()
	if len(all) != 3 || all[0].Name != "standard" || all[2].Name != "critical" {
		t.Errorf("All = %+v, want ordered by tier", all)
	}
}

func TestNewZones_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		zones []Zone
	}{
		{"empty", nil},
		{"no name", []Zone{{Tier: 1}}},
		{"duplicate", []Zone{{Name: "a", Tier: 1}, {Name: "a", Tier: 2}}},
		{"tier zero", []Zone{{Name: "a"}}},
		{"threshold range", []Zone{{Name: "a", Tier: 1, MinConfidence: 1.2, ComfortConfidence: 1.2}}},
		{"comfort below floor", []Zone{{Name: "a", Tier: 1, MinConfidence: 0.6, ComfortConfidence: 0.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewZones(tt.zones); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	z := testZones(t)
	critical, _ := z.Lookup("critical")

	fail := incident.Finding{Catalog: incident.CatalogIEC, ControlID: "SR-7.6", Status: incident.StatusFail}
	watch := incident.Finding{Catalog: incident.CatalogNIST, ControlID: "SI-4", Status: incident.StatusWatch}
	pass := incident.Finding{Catalog: incident.CatalogNIST, ControlID: "IR-4", Status: incident.StatusPass}

	tests := []struct {
		name     string
		in       Input
		passed   bool
		rule     incident.Rule
		contains []string
	}{
		{
			name:     "passes",
			in:       Input{Zone: critical, Selected: incident.Hypothesis{Confidence: 0.9, EvidenceQuality: 0.6}, Findings: incident.Findings{pass}},
			passed:   true,
			contains: []string{"policy passed", "critical"},
		},
		{
			name:     "floors are inclusive",
			in:       Input{Zone: critical, Selected: incident.Hypothesis{Confidence: 0.7, EvidenceQuality: 0.25}},
			passed:   true,
			contains: []string{"policy passed"},
		},
		{
			name:     "watch surfaces in rationale only",
			in:       Input{Zone: critical, Selected: incident.Hypothesis{Confidence: 0.9, EvidenceQuality: 0.6}, Findings: incident.Findings{watch}},
			passed:   true,
			contains: []string{"watch: nist:SI-4"},
		},
		{
			name:     "compliance fail wins over floors",
			in:       Input{Zone: critical, Selected: incident.Hypothesis{Confidence: 0.1, EvidenceQuality: 0.1}, Findings: incident.Findings{pass, fail}},
			rule:     incident.RuleComplianceFail,
			contains: []string{"iec:SR-7.6"},
		},
		{
			name:     "confidence floor before evidence floor",
			in:       Input{Zone: critical, Selected: incident.Hypothesis{Confidence: 0.69, EvidenceQuality: 0.1}},
			rule:     incident.RuleConfidenceFloor,
			contains: []string{"confidence 0.6900 below zone critical floor 0.7000"},
		},
		{
			name:     "evidence floor",
			in:       Input{Zone: critical, Selected: incident.Hypothesis{Confidence: 0.95, EvidenceQuality: 0.2}, Findings: incident.Findings{watch}},
			rule:     incident.RuleEvidenceFloor,
			contains: []string{"evidence quality 0.2000", "watch: nist:SI-4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := Evaluate(tt.in)
			if v.Passed != tt.passed {
				t.Fatalf("Passed = %v, want %v (%s)", v.Passed, tt.passed, v.Rationale)
			}
			if tt.passed && v.FailingRule != nil {
				t.Errorf("FailingRule = %v, want nil", *v.FailingRule)
			}
			if !tt.passed {
				if v.FailingRule == nil {
					t.Fatal("FailingRule = nil on failed verdict")
				}
				if *v.FailingRule != tt.rule {
					t.Errorf("FailingRule = %q, want %q", *v.FailingRule, tt.rule)
				}
			}
			for _, s := range tt.contains {
				if !strings.Contains(v.Rationale, s) {
					t.Errorf("rationale %q missing %q", v.Rationale, s)
				}
			}
		})
	}
}
