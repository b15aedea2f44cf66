// Package summary aggregates the decisions of one batch run into the run
// summary written next to decisions.jsonl.
package summary

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/linnemanlabs/arbiter/internal/audit"
	"github.com/linnemanlabs/arbiter/internal/enrich"
	"github.com/linnemanlabs/arbiter/internal/incident"
)

// Summary is the aggregate view of a run.
type Summary struct {
	RunCount                 int            `json:"run_count"`
	IncidentIDs              []string       `json:"incident_ids"`
	DecisionTypes            map[string]int `json:"decision_types"`
	EscalationRate           float64        `json:"escalation_rate"`
	PolicyPassRate           float64        `json:"policy_pass_rate"`
	MeanEvidenceQuality      float64        `json:"mean_evidence_quality"`
	MeanHypothesisConfidence float64        `json:"mean_hypothesis_confidence"`
	Zones                    []string       `json:"zones"`
	NISTWatchCount           int            `json:"nist_watch_count"`
	IECWatchCount            int            `json:"iec_watch_count"`
	Runtime                  Runtime        `json:"llm_runtime"`
}

// Runtime describes how enrichment was configured and what it did.
type Runtime struct {
	Enabled         bool          `json:"arg_use_llm"`
	Model           string        `json:"model"`
	Status          enrich.Status `json:"debug"`
	CallsFileExists bool          `json:"llm_calls_file_exists"`
	CallsCount      int           `json:"llm_calls_count"`
}

// ReadRuntime fills the audit-file fields of a Runtime from the log at auditPath.
func ReadRuntime(enabled bool, model string, status enrich.Status, auditPath string) (Runtime, error) {
	rt := Runtime{Enabled: enabled, Model: model, Status: status}
	if _, err := os.Stat(auditPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rt, nil
		}
		return rt, fmt.Errorf("stat audit log: %w", err)
	}
	rt.CallsFileExists = true
	n, err := audit.CountLines(auditPath)
	if err != nil {
		return rt, err
	}
	rt.CallsCount = n
	return rt, nil
}

// Build aggregates decisions in the order given. An empty run yields zero
// rates and means.
func Build(decisions []incident.Decision, rt Runtime) *Summary {
	s := &Summary{
		RunCount:      len(decisions),
		IncidentIDs:   make([]string, 0, len(decisions)),
		DecisionTypes: make(map[string]int, len(incident.DecisionTypes)),
		Zones:         []string{},
		Runtime:       rt,
	}
	for _, d := range incident.DecisionTypes {
		s.DecisionTypes[d.String()] = 0
	}

	var escalations, passes int
	var eqSum, confSum float64
	for i := range decisions {
		d := &decisions[i]
		s.IncidentIDs = append(s.IncidentIDs, d.IncidentID)
		if d.DecisionType.Valid() {
			s.DecisionTypes[d.DecisionType.String()]++
		}
		if d.EscalationRequired {
			escalations++
		}
		if d.PolicyPassed {
			passes++
		}
		eqSum += d.EvidenceQuality
		confSum += d.SelectedHypothesisConfidence
		if d.Zone != "" && !slices.Contains(s.Zones, d.Zone) {
			s.Zones = append(s.Zones, d.Zone)
		}
		s.NISTWatchCount += countWatch(d.NISTFindings)
		s.IECWatchCount += countWatch(d.IECFindings)
	}
	slices.Sort(s.Zones)

	n := float64(max(len(decisions), 1))
	s.EscalationRate = incident.Round4(float64(escalations) / n)
	s.PolicyPassRate = incident.Round4(float64(passes) / n)
	s.MeanEvidenceQuality = incident.Round4(eqSum / n)
	s.MeanHypothesisConfidence = incident.Round4(confSum / n)
	return s
}

func countWatch(findings []incident.Finding) int {
	n := 0
	for _, f := range findings {
		if f.Status == incident.StatusWatch {
			n++
		}
	}
	return n
}

// JSON renders s indented by two spaces.
func (s *Summary) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Write stores s as indented JSON at path.
func Write(path string, s *Summary) error {
	b, err := s.JSON()
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o640); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
