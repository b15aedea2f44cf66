package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

// Triage holds the settings shared by the batch CLI and the server: which
// ruleset and incidents to use and how enrichment behaves.
type Triage struct {
	RulesetPath   string
	IncidentDir   string
	Enrich        bool
	ClaudeAPIKey  string
	ClaudeModel   string
	ClaudeBaseURL string
	EnrichTimeout time.Duration
	EnrichRate    float64
	EnrichBurst   int
	Workers       int
}

// RegisterFlags binds Triage fields to the given FlagSet with defaults inline
func (t *Triage) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&t.RulesetPath, "ruleset", "", "path to a ruleset YAML file (empty = embedded default)")
	fs.StringVar(&t.IncidentDir, "incident-dir", "", "directory of additional incident YAML files")
	fs.BoolVar(&t.Enrich, "enrich", false, "enable LLM enrichment of hypotheses")
	fs.StringVar(&t.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude provider (required with -enrich)")
	fs.StringVar(&t.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model used for enrichment")
	fs.StringVar(&t.ClaudeBaseURL, "claude-base-url", "", "override the Claude API base URL")
	fs.DurationVar(&t.EnrichTimeout, "enrich-timeout", 20*time.Second, "per-call enrichment timeout (1s..5m)")
	fs.Float64Var(&t.EnrichRate, "enrich-rate", 2, "enrichment calls per second (0 = unlimited)")
	fs.IntVar(&t.EnrichBurst, "enrich-burst", 1, "enrichment rate limiter burst (>= 1)")
	fs.IntVar(&t.Workers, "workers", 4, "incidents processed concurrently per batch (1..64)")
}

// Validate checks the triage fields.
func (t *Triage) Validate() error {
	var errs []error

	if t.Workers < 1 || t.Workers > 64 {
		errs = append(errs, fmt.Errorf("invalid WORKERS %d (must be 1..64)", t.Workers))
	}
	if t.EnrichTimeout < time.Second || t.EnrichTimeout > 5*time.Minute {
		errs = append(errs, fmt.Errorf("invalid ENRICH_TIMEOUT %s (must be 1s..5m)", t.EnrichTimeout))
	}
	if t.EnrichRate < 0 {
		errs = append(errs, fmt.Errorf("invalid ENRICH_RATE %g (must be >= 0)", t.EnrichRate))
	}
	if t.EnrichBurst < 1 {
		errs = append(errs, fmt.Errorf("invalid ENRICH_BURST %d (must be >= 1)", t.EnrichBurst))
	}

	// the key is only needed when enrichment actually runs
	if t.Enrich && t.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required when ENRICH is set"))
	}
	if t.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	return errors.Join(errs...)
}

// Config is the server configuration.
type Config struct {
	Triage
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APITokens             string
	DatabaseURL           string
	SlackWebhookURL       string
	AuditLogPath          string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	c.Triage.RegisterFlags(fs)
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma-separated bearer tokens accepted by the API")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for escalation notifications")
	fs.StringVar(&c.AuditLogPath, "audit-log", "data/llm_calls.jsonl", "path of the enrichment audit log")
}

// Tokens returns the configured API tokens with blanks removed.
func (c *Config) Tokens() []string {
	var out []string
	for _, t := range strings.Split(c.APITokens, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// the API is never served unauthenticated
	if len(c.Tokens()) == 0 {
		errs = append(errs, errors.New("API_TOKENS is required"))
	}

	if c.AuditLogPath == "" {
		errs = append(errs, errors.New("AUDIT_LOG is required"))
	}

	if err := c.Triage.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
