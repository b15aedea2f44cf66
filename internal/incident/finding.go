package incident

import (
	"fmt"
	"strings"
)

// Catalog identifies one of the two compliance control catalogs.
type Catalog string

const (
	// CatalogNIST is Catalog-A, reported as nist_findings.
	CatalogNIST Catalog = "nist"
	// CatalogIEC is Catalog-B, reported as iec_findings.
	CatalogIEC Catalog = "iec"
)

// Valid reports whether c is a known catalog.
func (c Catalog) Valid() bool {
	return c == CatalogNIST || c == CatalogIEC
}

// Status is the outcome of evaluating one control.
type Status string

const (
	StatusPass  Status = "pass"
	StatusWatch Status = "watch"
	StatusFail  Status = "fail"
)

// Finding is the status of one applicable control for one incident.
type Finding struct {
	Catalog   Catalog `json:"-"`
	ControlID string  `json:"catalog_control_id"`
	Status    Status  `json:"status"`
	Rationale string  `json:"rationale"`
}

// Ref returns the catalog-qualified control id, e.g. "nist:SI-4".
func (f Finding) Ref() string {
	return string(f.Catalog) + ":" + f.ControlID
}

// Findings is an ordered list of findings across both catalogs.
type Findings []Finding

// ByCatalog returns the findings of catalog c, preserving order. The result is
// never nil so it serializes as an empty list.
func (fs Findings) ByCatalog(c Catalog) []Finding {
	out := []Finding{}
	for _, f := range fs {
		if f.Catalog == c {
			out = append(out, f)
		}
	}
	return out
}

// WithStatus returns the findings that have status s.
func (fs Findings) WithStatus(s Status) Findings {
	var out Findings
	for _, f := range fs {
		if f.Status == s {
			out = append(out, f)
		}
	}
	return out
}

// Refs joins the catalog-qualified ids of fs.
func (fs Findings) Refs() string {
	refs := make([]string, len(fs))
	for i, f := range fs {
		refs[i] = f.Ref()
	}
	return strings.Join(refs, ", ")
}

// Rule names the policy rule that failed a verdict.
type Rule string

const (
	RuleComplianceFail  Rule = "compliance_fail"
	RuleConfidenceFloor Rule = "confidence_floor"
	RuleEvidenceFloor   Rule = "evidence_floor"
)

// Verdict is the outcome of the policy gate.
type Verdict struct {
	Passed      bool   `json:"passed"`
	FailingRule *Rule  `json:"failing_rule"`
	Rationale   string `json:"rationale"`
}

func (v Verdict) String() string {
	if v.Passed {
		return "passed"
	}
	if v.FailingRule == nil {
		return "failed"
	}
	return fmt.Sprintf("failed (%s)", *v.FailingRule)
}
