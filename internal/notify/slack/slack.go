// Package slack sends escalation notices for triage decisions to Slack via
// incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/arbiter/internal/incident"
	"github.com/linnemanlabs/arbiter/internal/triage"
)

const (
	maxRationaleLen = 2000
	httpTimeout     = 10 * time.Second
)

// Notifier posts triage results to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Send posts a triage result to the configured webhook.
func (n *Notifier) Send(ctx context.Context, result *triage.Result) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(result))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent",
		"incident_id", result.IncidentID,
		"decision_type", result.Decision.DecisionType.String(),
	)
	return nil
}

func buildMessage(r *triage.Result) map[string]any {
	blocks := []map[string]any{
		headerBlock(r),
		fieldsBlock(r),
		{"type": "divider"},
		rationaleBlock(r),
	}
	if fb := findingsBlock(r); fb != nil {
		blocks = append(blocks, fb)
	}
	blocks = append(blocks, contextBlock(r))
	return map[string]any{
		"text":   fallbackText(r),
		"blocks": blocks,
	}
}

func fallbackText(r *triage.Result) string {
	return fmt.Sprintf("%s: %s (%s)", r.IncidentID, r.Decision.DecisionType, r.Decision.Zone)
}

func headerBlock(r *triage.Result) map[string]any {
	title := "Escalation required"
	if r.Failed() {
		title = "Triage failed"
	}
	name := r.IncidentID
	if r.Title != "" {
		name = r.Title
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s: %s", decisionEmoji(r), title, name),
		},
	}
}

func fieldsBlock(r *triage.Result) map[string]any {
	d := r.Decision
	cause := "n/a"
	if r.Selected != nil {
		cause = r.Selected.CauseCode
	}
	policy := "passed"
	if !d.PolicyPassed {
		policy = "failed"
	}
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Decision:* %s", d.DecisionType)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Zone:* %s", d.Zone)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Cause:* %s", cause)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Policy:* %s", policy)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Confidence:* %.2f", d.SelectedHypothesisConfidence)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Evidence quality:* %.2f", d.EvidenceQuality)},
	}
	return map[string]any{"type": "section", "fields": fields}
}

func rationaleBlock(r *triage.Result) map[string]any {
	text := truncate(r.Decision.Rationale, maxRationaleLen)
	if text == "" {
		text = "_No rationale recorded._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Rationale*\n%s", text),
		},
	}
}

// findingsBlock lists non-passing findings; nil when every control passed.
func findingsBlock(r *triage.Result) map[string]any {
	var lines []string
	for _, f := range r.Decision.Findings() {
		if f.Status == incident.StatusPass {
			continue
		}
		lines = append(lines, fmt.Sprintf("• `%s:%s` %s", f.Catalog, f.ControlID, f.Status))
	}
	if len(lines) == 0 {
		return nil
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": "*Findings*\n" + strings.Join(lines, "\n"),
		},
	}
}

func contextBlock(r *triage.Result) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{{
			"type": "mrkdwn",
			"text": fmt.Sprintf("arbiter • %s • result %s • %s",
				r.IncidentID, r.ID, r.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		}},
	}
}

func decisionEmoji(r *triage.Result) string {
	if r.Failed() {
		return "\U0001f534" // red circle
	}
	switch r.Decision.DecisionType {
	case incident.Refuse:
		return "\U0001f534" // red circle
	case incident.Escalate:
		return "\U0001f7e0" // orange circle
	default:
		return "\U0001f7e1" // yellow circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
