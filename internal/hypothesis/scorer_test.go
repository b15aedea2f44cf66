package hypothesis

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/linnemanlabs/arbiter/internal/enrich"
	"github.com/linnemanlabs/arbiter/internal/incident"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Rules: []Rule{
			{
				CauseCode: "T1110", Summary: "Credential brute force",
				Patterns:       []string{"failed login", "AUTH_FAILURE"},
				BaseConfidence: 0.6, PerMatch: 0.1, MaxConfidence: 0.9,
			},
			{
				CauseCode: "T1486", Summary: "Data encrypted for impact",
				Patterns:       []string{"ransom", "mass rename"},
				Kinds:          []incident.Kind{incident.KindAlert, incident.KindLog},
				BaseConfidence: 0.7, PerMatch: 0.1, MaxConfidence: 0.95,
			},
		},
		Quality:                DefaultQuality(),
		UnclassifiedConfidence: 0.3,
		MaxEnrichmentDelta:     0.1,
	}
}

func ev(kind incident.Kind, sig string, at time.Time) incident.Evidence {
	return incident.Evidence{Kind: kind, Source: "test", Signature: sig, ObservedAt: at}
}

func TestBaseline_InsufficientEvidence(t *testing.T) {
	t.Parallel()

	s := NewScorer(testConfig(), nil, nil)
	for _, inc := range []*incident.Incident{
		{ID: "empty", Zone: "standard"},
		{ID: "malformed", Zone: "standard", Evidence: []incident.Evidence{
			{Kind: "trace", Signature: "auth_failure"},
			{Kind: incident.KindLog, Signature: "  ", Message: ""},
		}},
	} {
		hs := s.Baseline(inc)
		if len(hs) != 1 {
			t.Fatalf("%s: hypotheses = %d, want 1", inc.ID, len(hs))
		}
		h := hs[0]
		if h.CauseCode != incident.CauseInsufficientEvidence || h.Confidence != 0.05 || h.EvidenceQuality != 0 {
			t.Errorf("%s: got %+v", inc.ID, h)
		}
	}
}

func TestBaseline_Unclassified(t *testing.T) {
	t.Parallel()

	s := NewScorer(testConfig(), nil, nil)
	inc := &incident.Incident{ID: "i", Zone: "standard", Evidence: []incident.Evidence{
		ev(incident.KindMetric, "cpu_saturation", t0),
	}}
	hs := s.Baseline(inc)
	if len(hs) != 1 || hs[0].CauseCode != incident.CauseUnclassified {
		t.Fatalf("got %+v, want single UNCLASSIFIED", hs)
	}
	if hs[0].Confidence != 0.3 {
		t.Errorf("Confidence = %v, want 0.3", hs[0].Confidence)
	}
	// 1/5*0.4 + 1/3*0.35 + 1*0.25
	if want := incident.Round4(0.08 + 0.35/3 + 0.25); hs[0].EvidenceQuality != want {
		t.Errorf("EvidenceQuality = %v, want %v", hs[0].EvidenceQuality, want)
	}
}

func TestBaseline_HeuristicConfidence(t *testing.T) {
	t.Parallel()

	s := NewScorer(testConfig(), nil, nil)
	inc := &incident.Incident{ID: "i", Zone: "standard", Evidence: []incident.Evidence{
		ev(incident.KindLog, "Failed login for admin", t0),
		ev(incident.KindLog, "auth_failure burst", t0.Add(time.Minute)),
		ev(incident.KindAlert, "AUTH_FAILURE threshold", t0.Add(2*time.Minute)),
		ev(incident.KindMetric, "ransom note count", t0), // kind filtered for T1486
	}}
	hs := s.Baseline(inc)
	if len(hs) != 1 {
		t.Fatalf("hypotheses = %+v, want only T1110", hs)
	}
	h := hs[0]
	if h.CauseCode != "T1110" || h.Source != incident.SourceRuleBased {
		t.Errorf("got %+v", h)
	}
	if h.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", h.Confidence)
	}
	// 3/5*0.4 + 2/3*0.35 + 1*0.25
	if want := incident.Round4(0.24 + 0.7/3 + 0.25); h.EvidenceQuality != want {
		t.Errorf("EvidenceQuality = %v, want %v", h.EvidenceQuality, want)
	}
}

func TestBaseline_ConfidenceCappedAtMax(t *testing.T) {
	t.Parallel()

	s := NewScorer(testConfig(), nil, nil)
	inc := &incident.Incident{ID: "i", Zone: "standard"}
	for i := range 10 {
		inc.Evidence = append(inc.Evidence, ev(incident.KindLog, "failed login", t0.Add(time.Duration(i)*time.Second)))
	}
	if got := s.Baseline(inc)[0].Confidence; got != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", got)
	}
}

func TestEvidenceQuality_Recency(t *testing.T) {
	t.Parallel()

	q := DefaultQuality()
	items := []incident.Evidence{
		ev(incident.KindLog, "a", t0),
		ev(incident.KindLog, "b", t0.Add(-2*time.Hour)),
		ev(incident.KindLog, "c", time.Time{}),
	}
	got := q.EvidenceQuality(items, t0)
	want := incident.Round4(0.4*3.0/5 + 0.35/3 + 0.25/3)
	if got != want {
		t.Errorf("EvidenceQuality = %v, want %v", got, want)
	}
	if q.EvidenceQuality(nil, t0) != 0 {
		t.Error("empty set should score 0")
	}
}

func TestBaseline_Deterministic(t *testing.T) {
	t.Parallel()

	s := NewScorer(testConfig(), nil, nil)
	inc := &incident.Incident{ID: "i", Zone: "critical", Evidence: []incident.Evidence{
		ev(incident.KindAlert, "ransomware beacon", t0),
		ev(incident.KindLog, "failed login", t0),
	}}
	first := s.Baseline(inc)
	for range 20 {
		if diff := cmp.Diff(first, s.Baseline(inc)); diff != "" {
			t.Fatalf("baseline not deterministic (-first +got):\n%s", diff)
		}
	}
	if first[0].Order != 0 || first[1].Order != 1 {
		t.Errorf("orders = %d,%d, want 0,1", first[0].Order, first[1].Order)
	}
}

func TestSelect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []incident.Hypothesis
		want string
	}{
		{"highest confidence", []incident.Hypothesis{
			{CauseCode: "a", Confidence: 0.5, EvidenceQuality: 0.9, Order: 0},
			{CauseCode: "b", Confidence: 0.6, EvidenceQuality: 0.1, Order: 1},
		}, "b"},
		{"tie on confidence uses quality", []incident.Hypothesis{
			{CauseCode: "a", Confidence: 0.6, EvidenceQuality: 0.3, Order: 0},
			{CauseCode: "b", Confidence: 0.6, EvidenceQuality: 0.4, Order: 1},
		}, "b"},
		{"full tie uses earliest", []incident.Hypothesis{
			{CauseCode: "b", Confidence: 0.6, EvidenceQuality: 0.4, Order: 1},
			{CauseCode: "a", Confidence: 0.6, EvidenceQuality: 0.4, Order: 0},
		}, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Select(tt.in)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if got.CauseCode != tt.want {
				t.Errorf("selected %q, want %q", got.CauseCode, tt.want)
			}
		})
	}

	if _, err := Select(nil); !errors.Is(err, ErrNoHypotheses) {
		t.Errorf("Select(nil) err = %v, want ErrNoHypotheses", err)
	}
}

func ptr(f float64) *float64 { return &f }

func TestApply_BoundsConfidence(t *testing.T) {
	t.Parallel()

	base := []incident.Hypothesis{
		{CauseCode: "a", Summary: "a", Confidence: 0.6, EvidenceQuality: 0.5, Source: incident.SourceRuleBased},
		{CauseCode: "b", Summary: "b", Confidence: 0.95, EvidenceQuality: 0.5, Source: incident.SourceRuleBased, Order: 1},
		{CauseCode: "c", Summary: "c", Confidence: 0.3, EvidenceQuality: 0.5, Source: incident.SourceRuleBased, Order: 2},
	}
	got := Apply(base, []enrich.Refinement{
		{Index: 0, Confidence: ptr(0.99)},
		{Index: 1, Confidence: ptr(1)},
		{Index: 2, Summary: "refined"},
		{Index: 7, Summary: "ignored"},
	}, 0.1)

	want := []incident.Hypothesis{
		{CauseCode: "a", Summary: "a", Confidence: 0.7, EvidenceQuality: 0.5, Source: incident.SourceLLMEnriched},
		{CauseCode: "b", Summary: "b", Confidence: 1, EvidenceQuality: 0.5, Source: incident.SourceLLMEnriched, Order: 1},
		{CauseCode: "c", Summary: "refined", Confidence: 0.3, EvidenceQuality: 0.5, Source: incident.SourceLLMEnriched, Order: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply mismatch (-want +got):\n%s", diff)
	}
	if base[0].Confidence != 0.6 || base[2].Summary != "c" {
		t.Error("Apply modified its input")
	}
}

func TestApply_LowerBound(t *testing.T) {
	t.Parallel()

	base := []incident.Hypothesis{{CauseCode: "a", Confidence: 0.05}}
	got := Apply(base, []enrich.Refinement{{Index: 0, Confidence: ptr(0)}}, 0.2)
	if got[0].Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", got[0].Confidence)
	}
}

type stubEnricher struct {
	res   enrich.Result
	err   error
	calls int
}

func (s *stubEnricher) Enrich(_ context.Context, inc *incident.Incident, _ []incident.Hypothesis) (enrich.Result, error) {
	s.calls++
	rec := s.res.Record
	rec.IncidentID = inc.ID
	return enrich.Result{Refinements: s.res.Refinements, Record: rec}, s.err
}

func (s *stubEnricher) Status() enrich.Status { return enrich.Status{Enabled: true, Model: "stub"} }

func bruteForce() *incident.Incident {
	return &incident.Incident{ID: "bf", Zone: "standard", Evidence: []incident.Evidence{
		ev(incident.KindLog, "failed login", t0),
		ev(incident.KindAlert, "auth_failure", t0),
	}}
}

func TestScore_EnrichmentApplied(t *testing.T) {
	t.Parallel()

	e := &stubEnricher{res: enrich.Result{
		Refinements: []enrich.Refinement{{Index: 0, Summary: "Password spray from one ASN", Confidence: ptr(0.95)}},
		Record:      incident.CallRecord{Attempted: true, Succeeded: true},
	}}
	got, err := NewScorer(testConfig(), e, nil).Score(context.Background(), bruteForce())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !got.Enriched || got.Selected.Source != incident.SourceLLMEnriched {
		t.Errorf("expected enriched selection, got %+v", got)
	}
	if got.Selected.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8 (0.7 + delta)", got.Selected.Confidence)
	}
	if got.Selected.CauseCode != "T1110" {
		t.Errorf("CauseCode = %q", got.Selected.CauseCode)
	}
}

func TestScore_FailureEqualsDisabled(t *testing.T) {
	t.Parallel()

	disabled, err := NewScorer(testConfig(), enrich.Disabled{}, nil).Score(context.Background(), bruteForce())
	if err != nil {
		t.Fatalf("Score disabled: %v", err)
	}

	failing := &stubEnricher{
		res: enrich.Result{
			Refinements: []enrich.Refinement{{Index: 0, Confidence: ptr(0.1)}},
			Record:      incident.CallRecord{Attempted: true}.Failed("timeout"),
		},
		err: errors.New("timeout: context deadline exceeded"),
	}
	failed, err := NewScorer(testConfig(), failing, nil).Score(context.Background(), bruteForce())
	if err != nil {
		t.Fatalf("Score failing: %v", err)
	}

	if diff := cmp.Diff(disabled.Hypotheses, failed.Hypotheses); diff != "" {
		t.Errorf("hypotheses differ (-disabled +failed):\n%s", diff)
	}
	if diff := cmp.Diff(disabled.Selected, failed.Selected); diff != "" {
		t.Errorf("selection differs (-disabled +failed):\n%s", diff)
	}
	if failed.Enriched || failed.Enrichment.Succeeded {
		t.Error("failed enrichment must not be reported as applied")
	}
}

func TestScore_SkipsEnrichmentWithoutEvidence(t *testing.T) {
	t.Parallel()

	e := &stubEnricher{}
	got, err := NewScorer(testConfig(), e, nil).Score(context.Background(), &incident.Incident{ID: "x"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if e.calls != 0 {
		t.Errorf("enricher calls = %d, want 0", e.calls)
	}
	if got.Enrichment.Attempted {
		t.Error("record should be not attempted")
	}
	if got.Selected.CauseCode != incident.CauseInsufficientEvidence {
		t.Errorf("selected %q", got.Selected.CauseCode)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	good := testConfig()
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing cause code", func(c *Config) { c.Rules[0].CauseCode = "" }},
		{"reserved cause code", func(c *Config) { c.Rules[0].CauseCode = incident.CauseUnclassified }},
		{"duplicate cause code", func(c *Config) { c.Rules[1].CauseCode = c.Rules[0].CauseCode }},
		{"no patterns", func(c *Config) { c.Rules[0].Patterns = nil }},
		{"unknown kind", func(c *Config) { c.Rules[1].Kinds = []incident.Kind{"trace"} }},
		{"confidence out of range", func(c *Config) { c.Rules[0].BaseConfidence = 1.2 }},
		{"max below base", func(c *Config) { c.Rules[0].MaxConfidence = 0.1 }},
		{"weights sum", func(c *Config) { c.Quality.VolumeWeight = 0.9 }},
		{"nan weight", func(c *Config) { c.Quality.RecencyWeight = math.NaN() }},
		{"saturation", func(c *Config) { c.Quality.VolumeSaturation = 0 }},
		{"delta", func(c *Config) { c.MaxEnrichmentDelta = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := testConfig()
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
