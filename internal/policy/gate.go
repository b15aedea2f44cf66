package policy

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/arbiter/internal/incident"
)

// Input is everything the gate looks at.
type Input struct {
	Zone     Zone
	Selected incident.Hypothesis
	Findings incident.Findings
}

type rule struct {
	name  incident.Rule
	check func(Input) (failed bool, why string)
}

// rules are evaluated in priority order; the first failure decides.
var rules = []rule{
	{incident.RuleComplianceFail, func(in Input) (bool, string) {
		failed := in.Findings.WithStatus(incident.StatusFail)
		if len(failed) == 0 {
			return false, ""
		}
		return true, "compliance control failed: " + failed.Refs()
	}},
	{incident.RuleConfidenceFloor, func(in Input) (bool, string) {
		if in.Selected.Confidence >= in.Zone.MinConfidence {
			return false, ""
		}
		return true, fmt.Sprintf("confidence %.4f below zone %s floor %.4f", in.Selected.Confidence, in.Zone.Name, in.Zone.MinConfidence)
	}},
	{incident.RuleEvidenceFloor, func(in Input) (bool, string) {
		if in.Selected.EvidenceQuality >= in.Zone.MinEvidenceQuality {
			return false, ""
		}
		return true, fmt.Sprintf("evidence quality %.4f below zone %s floor %.4f", in.Selected.EvidenceQuality, in.Zone.Name, in.Zone.MinEvidenceQuality)
	}},
}

// Evaluate applies the gate. It is pure and total.
func Evaluate(in Input) incident.Verdict {
	var b strings.Builder
	for _, r := range rules {
		failed, why := r.check(in)
		if !failed {
			continue
		}
		name := r.name
		b.WriteString("policy failed: ")
		b.WriteString(why)
		writeWatch(&b, in.Findings)
		return incident.Verdict{Passed: false, FailingRule: &name, Rationale: b.String()}
	}

	fmt.Fprintf(&b, "policy passed in zone %s: confidence %.4f >= %.4f, evidence quality %.4f >= %.4f",
		in.Zone.Name, in.Selected.Confidence, in.Zone.MinConfidence, in.Selected.EvidenceQuality, in.Zone.MinEvidenceQuality)
	writeWatch(&b, in.Findings)
	return incident.Verdict{Passed: true, Rationale: b.String()}
}

func writeWatch(b *strings.Builder, fs incident.Findings) {
	if watch := fs.WithStatus(incident.StatusWatch); len(watch) > 0 {
		b.WriteString("; watch: ")
		b.WriteString(watch.Refs())
	}
}
