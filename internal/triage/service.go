package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/arbiter/internal/decision"
	"github.com/linnemanlabs/arbiter/internal/enrich"
	"github.com/linnemanlabs/arbiter/internal/incident"
	"github.com/linnemanlabs/arbiter/internal/scenario"
)

const DefaultWorkers = 4

// Notifier is told about every result that requires human escalation.
type Notifier interface {
	Send(ctx context.Context, result *Result) error
}

// Hooks observes pipeline activity. Nil fields are skipped.
type Hooks struct {
	OnDecision func(d *incident.Decision, findings incident.Findings, seconds float64)
	OnFailure  func(stage Stage)
	OnRun      func(outcome string, incidents int, seconds float64)
}

// Options configures a Service.
type Options struct {
	// Workers bounds how many incidents a batch processes concurrently.
	Workers  int
	Notifier Notifier
	Hooks    Hooks
}

// Service coordinates single-incident and batch triage. It is the only
// component that knows about more than one incident.
type Service struct {
	source   scenario.Source
	pipeline *Pipeline
	store    Store
	enricher enrich.HypothesisEnricher
	notifier Notifier
	hooks    Hooks
	workers  int
	logger   log.Logger
	now      func() time.Time
}

// NewService creates a triage service. enricher is only consulted for status;
// the pipeline's scorer owns the enrichment calls.
func NewService(source scenario.Source, pipeline *Pipeline, store Store, enricher enrich.HypothesisEnricher, logger log.Logger, opts Options) *Service {
	if source == nil || pipeline == nil || store == nil {
		panic(xerrors.New("triage service requires source, pipeline and store"))
	}
	if enricher == nil {
		enricher = enrich.Disabled{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	return &Service{
		source:   source,
		pipeline: pipeline,
		store:    store,
		enricher: enricher,
		notifier: opts.Notifier,
		hooks:    opts.Hooks,
		workers:  opts.Workers,
		logger:   logger,
		now:      time.Now,
	}
}

// Triage processes a single incident by id. An unknown id is reported as
// scenario.ErrNotFound rather than a failure decision.
func (s *Service) Triage(ctx context.Context, incidentID string) (*Result, error) {
	r, err := s.process(ctx, "", incidentID, true)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(context.WithoutCancel(ctx), r); err != nil {
		return r, fmt.Errorf("persist result: %w", err)
	}
	s.notify(ctx, r)
	return r, nil
}

// Run processes every selected incident with bounded parallelism. A failing
// incident becomes a failure decision and the batch continues. A defect
// aborts the batch. On cancellation, incidents not yet started are skipped
// and the completed results are returned together with the context error.
func (s *Service) Run(ctx context.Context, selectors []string) (*Run, error) {
	ids, err := scenario.Resolve(ctx, s.source, selectors)
	if err != nil {
		return nil, err
	}

	run := &Run{ID: ulid.Make().String(), StartedAt: s.now().UTC()}
	L := s.logger.With("run_id", run.ID)
	L.Info(ctx, "triage run started", "incidents", len(ids), "workers", s.workers)

	results := make([]*Result, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			r, err := s.process(gctx, run.ID, id, false)
			if err != nil {
				return err
			}
			if err := s.store.Put(context.WithoutCancel(gctx), r); err != nil {
				L.Error(gctx, err, "failed to persist triage result", "incident_id", id)
			}
			s.notify(gctx, r)
			results[i] = r
			return nil
		})
	}
	err = g.Wait()

	for _, r := range results {
		if r != nil {
			run.Results = append(run.Results, r)
		}
	}
	run.CompletedAt = s.now().UTC()
	elapsed := run.CompletedAt.Sub(run.StartedAt).Seconds()

	outcome := "complete"
	switch {
	case err != nil:
		outcome = "defect"
		L.Error(ctx, err, "triage run aborted", "completed", len(run.Results), "selected", len(ids))
	case ctx.Err() != nil:
		outcome = "canceled"
		err = ctx.Err()
		L.Warn(ctx, "triage run canceled", "completed", len(run.Results), "selected", len(ids))
	default:
		L.Info(ctx, "triage run complete", "incidents", len(run.Results), "duration", elapsed)
	}
	if s.hooks.OnRun != nil {
		s.hooks.OnRun(outcome, len(run.Results), elapsed)
	}
	return run, err
}

// Get retrieves a triage result by ID.
func (s *Service) Get(ctx context.Context, id string) (*Result, bool, error) {
	return s.store.Get(ctx, id)
}

// GetByIncident retrieves the latest result for an incident.
func (s *Service) GetByIncident(ctx context.Context, incidentID string) (*Result, bool, error) {
	return s.store.GetByIncident(ctx, incidentID)
}

// EnrichmentStatus reports the enricher's configuration and counters.
func (s *Service) EnrichmentStatus() enrich.Status {
	return s.enricher.Status()
}

// process runs one incident. Only defects, and missing incidents when
// strict is set, are returned as errors.
func (s *Service) process(ctx context.Context, runID, incidentID string, strict bool) (*Result, error) {
	start := s.now()
	L := s.logger.With("incident_id", incidentID)
	r := &Result{
		ID:         ulid.Make().String(),
		RunID:      runID,
		IncidentID: incidentID,
		CreatedAt:  start.UTC(),
	}

	inc, err := s.source.Load(ctx, incidentID)
	if err != nil {
		if strict && errors.Is(err, scenario.ErrNotFound) {
			return nil, err
		}
		L.Warn(ctx, "incident could not be loaded", "error", err)
		s.fail(r, "", StageLoad, err)
		r.Duration = s.now().Sub(start).Seconds()
		return r, nil
	}
	r.Title = inc.Title

	out, err := s.pipeline.Run(ctx, inc)
	if err != nil {
		if errors.Is(err, ErrDefect) {
			return nil, fmt.Errorf("incident %s: %w", incidentID, err)
		}
		stage := StageScore
		var se *StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		L.Error(ctx, err, "incident pipeline failed", "stage", stage)
		s.fail(r, inc.Zone, stage, err)
		r.Duration = s.now().Sub(start).Seconds()
		return r, nil
	}

	sel := out.Scored.Selected
	r.Decision = out.Decision
	r.Verdict = out.Verdict
	r.Hypotheses = out.Scored.Hypotheses
	r.Selected = &sel
	r.Enrichment = out.Scored.Enrichment
	r.Duration = s.now().Sub(start).Seconds()

	if s.hooks.OnDecision != nil {
		s.hooks.OnDecision(&r.Decision, out.Findings, r.Duration)
	}
	L.Info(ctx, "incident decided",
		"decision", r.Decision.DecisionType,
		"escalation_required", r.Decision.EscalationRequired,
		"policy_passed", r.Decision.PolicyPassed,
		"cause_code", sel.CauseCode,
		"enriched", out.Scored.Enriched,
	)
	return r, nil
}

func (s *Service) fail(r *Result, zone string, stage Stage, err error) {
	r.Decision = decision.Failure(r.IncidentID, zone, string(stage), err)
	r.Verdict = incident.Verdict{Rationale: r.Decision.Rationale}
	r.FailedStage = stage
	if s.hooks.OnFailure != nil {
		s.hooks.OnFailure(stage)
	}
}

func (s *Service) notify(ctx context.Context, r *Result) {
	if s.notifier == nil || !r.Decision.EscalationRequired {
		return
	}
	if err := s.notifier.Send(context.WithoutCancel(ctx), r); err != nil {
		s.logger.Error(ctx, err, "failed to send escalation notification", "incident_id", r.IncidentID, "triage_id", r.ID)
	}
}
