// Package app assembles the triage service from configuration. Both the
// batch CLI and the server build their pipeline through New.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/arbiter/internal/audit"
	"github.com/linnemanlabs/arbiter/internal/cfg"
	"github.com/linnemanlabs/arbiter/internal/decision"
	"github.com/linnemanlabs/arbiter/internal/enrich"
	"github.com/linnemanlabs/arbiter/internal/hypothesis"
	"github.com/linnemanlabs/arbiter/internal/llm/claude"
	"github.com/linnemanlabs/arbiter/internal/ruleset"
	"github.com/linnemanlabs/arbiter/internal/scenario"
	"github.com/linnemanlabs/arbiter/internal/triage"
	"github.com/linnemanlabs/arbiter/internal/triage/memstore"
)

// Options carries the dependencies that differ between binaries.
type Options struct {
	Logger log.Logger
	// AuditPath is where enrichment calls are recorded. Only opened when
	// enrichment is enabled.
	AuditPath string
	// Store defaults to an in-memory store.
	Store    triage.Store
	Notifier triage.Notifier
	// Metrics is optional.
	Metrics *triage.Metrics
}

// App is an assembled triage service and the resources it owns.
type App struct {
	Ruleset  *ruleset.Ruleset
	Source   scenario.Source
	Enricher enrich.HypothesisEnricher
	Service  *triage.Service
	// Audit is nil when enrichment is disabled.
	Audit *audit.JSONL
}

// New loads the ruleset and incident sources named by tc and wires the
// pipeline. The caller must Close the returned App.
func New(ctx context.Context, tc cfg.Triage, opts Options) (*App, error) {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	rs, err := loadRuleset(tc.RulesetPath)
	if err != nil {
		return nil, err
	}
	for _, id := range rs.MalformedControls() {
		L.Warn(ctx, "malformed compliance control will always fail", "control", id)
	}

	var src scenario.Source = scenario.Embedded()
	if tc.IncidentDir != "" {
		// directory incidents shadow embedded ones with the same id
		src = scenario.Chain{scenario.Dir(tc.IncidentDir), src}
	}

	a := &App{Ruleset: rs, Source: src}

	var enrichHooks enrich.Hooks
	var svcHooks triage.Hooks
	if opts.Metrics != nil {
		enrichHooks = opts.Metrics.EnrichHooks()
		svcHooks = opts.Metrics.Hooks()
	}

	if tc.Enrich {
		if opts.AuditPath == "" {
			return nil, errors.New("audit log path is required when enrichment is enabled")
		}
		a.Audit, err = audit.OpenJSONL(opts.AuditPath)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		provider := claude.New(claude.Config{
			APIKey:  tc.ClaudeAPIKey,
			Model:   tc.ClaudeModel,
			BaseURL: tc.ClaudeBaseURL,
		})
		a.Enricher = enrich.New(provider, a.Audit, L.With("component", "enrich"), enrich.Options{
			Model:         tc.ClaudeModel,
			Timeout:       tc.EnrichTimeout,
			RatePerSecond: tc.EnrichRate,
			Burst:         tc.EnrichBurst,
			Hooks:         enrichHooks,
		})
		L.Info(ctx, "enrichment enabled", "provider", provider.Name(), "model", tc.ClaudeModel, "audit_log", opts.AuditPath)
	} else {
		a.Enricher = enrich.Disabled{Model: tc.ClaudeModel}
	}

	store := opts.Store
	if store == nil {
		store = memstore.New()
	}

	scorer := hypothesis.NewScorer(rs.Scoring, a.Enricher, L.With("component", "scorer"))
	pipeline := triage.NewPipeline(scorer, rs.Classifier(), rs.Zones(), decision.NewEngine(rs.Zones(), rs.Decision), L)
	a.Service = triage.NewService(src, pipeline, store, a.Enricher, L, triage.Options{
		Workers:  tc.Workers,
		Notifier: opts.Notifier,
		Hooks:    svcHooks,
	})
	return a, nil
}

// Close releases the audit log, if any.
func (a *App) Close() error {
	if a.Audit == nil {
		return nil
	}
	return a.Audit.Close()
}

func loadRuleset(path string) (*ruleset.Ruleset, error) {
	if path == "" {
		rs, err := ruleset.Default()
		if err != nil {
			return nil, fmt.Errorf("default ruleset: %w", err)
		}
		return rs, nil
	}
	return ruleset.Load(path)
}
