package incident

import (
	"strings"
	"time"
)

// Kind is the type of a single evidence observation.
type Kind string

const (
	KindMetric Kind = "metric"
	KindLog    Kind = "log"
	KindAlert  Kind = "alert"
)

// Kinds lists every known evidence kind. Evidence diversity is measured against it.
var Kinds = []Kind{KindMetric, KindLog, KindAlert}

// Valid reports whether k is one of the known evidence kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMetric, KindLog, KindAlert:
		return true
	}
	return false
}

// Evidence is one typed observation attached to an incident.
type Evidence struct {
	Kind       Kind      `json:"kind" yaml:"kind"`
	Source     string    `json:"source,omitempty" yaml:"source"`
	Signature  string    `json:"signature,omitempty" yaml:"signature"`
	Message    string    `json:"message,omitempty" yaml:"message"`
	Value      float64   `json:"value,omitempty" yaml:"value"`
	ObservedAt time.Time `json:"observed_at,omitempty" yaml:"observed_at"`
}

// Valid reports whether the observation can be used for scoring. Items with an
// unknown kind or no text at all are malformed and ignored by the scorer.
func (e Evidence) Valid() bool {
	if !e.Kind.Valid() {
		return false
	}
	return strings.TrimSpace(e.Signature) != "" || strings.TrimSpace(e.Message) != ""
}

// Text returns the lowercased searchable text of the observation.
func (e Evidence) Text() string {
	return strings.ToLower(e.Signature + " " + e.Message)
}

// Incident is a loaded incident record. It is treated as immutable once loaded;
// pipeline stages read it but never modify it.
type Incident struct {
	ID       string     `json:"incident_id" yaml:"id"`
	Title    string     `json:"title,omitempty" yaml:"title"`
	Zone     string     `json:"zone" yaml:"zone"`
	Evidence []Evidence `json:"evidence" yaml:"evidence"`
}

// ValidEvidence returns the well-formed observations in their original order.
func (i *Incident) ValidEvidence() []Evidence {
	out := make([]Evidence, 0, len(i.Evidence))
	for _, e := range i.Evidence {
		if e.Valid() {
			out = append(out, e)
		}
	}
	return out
}
