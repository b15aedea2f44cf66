package enrich

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/arbiter/internal/incident"
)

const systemPrompt = `You review draft root-cause hypotheses for a security incident.
You may only rewrite summaries and suggest confidence values for the drafts you are given.
Never invent new hypotheses, never change cause codes, never recommend actions.

Respond with a single JSON object and nothing else:
{"refinements":[{"index":0,"summary":"...","confidence":0.8}]}

"index" refers to the draft number. "summary" and "confidence" are optional.
"confidence" must be a number between 0 and 1.`

func buildPrompt(inc *incident.Incident, drafts []incident.Hypothesis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident %s: %s\nZone: %s\n\nEvidence:\n", inc.ID, inc.Title, inc.Zone)
	for _, ev := range inc.ValidEvidence() {
		fmt.Fprintf(&b, "- [%s] %s %s", ev.Kind, ev.Source, ev.Signature)
		if ev.Message != "" {
			fmt.Fprintf(&b, ": %s", ev.Message)
		}
		if !ev.ObservedAt.IsZero() {
			fmt.Fprintf(&b, " (%s)", ev.ObservedAt.UTC().Format("2006-01-02T15:04:05Z"))
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nDraft hypotheses:\n")
	for i, h := range drafts {
		fmt.Fprintf(&b, "%d. %s confidence=%.4f evidence_quality=%.4f: %s\n", i, h.CauseCode, h.Confidence, h.EvidenceQuality, h.Summary)
	}
	return b.String()
}

// digest identifies a request by model and prompt contents.
func digest(model string, req *CompletionRequest) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(req.System))
	h.Write([]byte{0})
	h.Write([]byte(req.Prompt))
	return hex.EncodeToString(h.Sum(nil))
}

type wireRefinement struct {
	Index      *int     `json:"index"`
	Summary    *string  `json:"summary"`
	Confidence *float64 `json:"confidence"`
}

type wireResponse struct {
	Refinements []wireRefinement `json:"refinements"`
}

// parseRefinements decodes a provider response. Any malformed entry rejects
// the whole response.
func parseRefinements(text string, drafts int) ([]Refinement, error) {
	text = stripFences(text)
	if text == "" {
		return nil, errors.New("empty response")
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	var wire wireResponse
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON object")
	}
	if wire.Refinements == nil {
		return nil, errors.New("missing refinements")
	}

	seen := make(map[int]bool, len(wire.Refinements))
	out := make([]Refinement, 0, len(wire.Refinements))
	for i, w := range wire.Refinements {
		if w.Index == nil {
			return nil, fmt.Errorf("refinement %d: missing index", i)
		}
		idx := *w.Index
		if idx < 0 || idx >= drafts {
			return nil, fmt.Errorf("refinement %d: index %d out of range", i, idx)
		}
		if seen[idx] {
			return nil, fmt.Errorf("refinement %d: duplicate index %d", i, idx)
		}
		seen[idx] = true

		r := Refinement{Index: idx}
		if w.Summary != nil {
			s := strings.TrimSpace(*w.Summary)
			if s == "" {
				return nil, fmt.Errorf("refinement %d: empty summary", i)
			}
			r.Summary = s
		}
		if w.Confidence != nil {
			c := *w.Confidence
			if c != c || c < 0 || c > 1 {
				return nil, fmt.Errorf("refinement %d: confidence %v outside [0,1]", i, c)
			}
			r.Confidence = &c
		}
		out = append(out, r)
	}
	return out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
