package triage

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/arbiter/internal/compliance"
	"github.com/linnemanlabs/arbiter/internal/decision"
	"github.com/linnemanlabs/arbiter/internal/hypothesis"
	"github.com/linnemanlabs/arbiter/internal/incident"
	"github.com/linnemanlabs/arbiter/internal/policy"
)

var tracer = otel.Tracer("github.com/linnemanlabs/arbiter/internal/triage")

// ErrDefect marks failures that indicate a bug or broken configuration rather
// than a bad incident. A defect aborts the whole batch.
var ErrDefect = errors.New("triage defect")

// StageError attributes a pipeline failure to the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Outcome is everything the pipeline derived for one incident.
type Outcome struct {
	Scored   hypothesis.Scored
	Findings incident.Findings
	Verdict  incident.Verdict
	Decision incident.Decision
}

// Pipeline runs the per-incident stages in order. It holds no per-incident
// state and is safe for concurrent use.
type Pipeline struct {
	scorer     *hypothesis.Scorer
	classifier *compliance.Classifier
	zones      *policy.Zones
	engine     *decision.Engine
	logger     log.Logger
}

// NewPipeline wires the stages together. All dependencies are required.
func NewPipeline(scorer *hypothesis.Scorer, classifier *compliance.Classifier, zones *policy.Zones, engine *decision.Engine, logger log.Logger) *Pipeline {
	if scorer == nil || classifier == nil || zones == nil || engine == nil {
		panic(xerrors.New("pipeline requires scorer, classifier, zones and engine"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Pipeline{scorer: scorer, classifier: classifier, zones: zones, engine: engine, logger: logger}
}

// Run processes one incident. Every returned error is a *StageError; errors
// matching ErrDefect must abort the caller's batch.
func (p *Pipeline) Run(ctx context.Context, inc *incident.Incident) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "triage.Pipeline.Run", trace.WithAttributes(
		attribute.String("arbiter.incident.id", inc.ID),
		attribute.String("arbiter.zone", inc.Zone),
	))
	defer span.End()

	// unknown zones are classified and gated as the strictest zone
	zone, known := p.zones.Lookup(inc.Zone)
	classifyAs := inc.Zone
	if !known {
		classifyAs = p.zones.Strictest().Name
		p.logger.Warn(ctx, "unknown zone, applying strictest thresholds", "incident_id", inc.ID, "zone", inc.Zone, "classified_as", classifyAs)
	}

	var out Outcome
	err := p.stage(ctx, StageScore, func(ctx context.Context) error {
		scored, err := p.scorer.Score(ctx, inc)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDefect, err)
		}
		out.Scored = scored
		return nil
	})
	if err == nil {
		err = p.stage(ctx, StageClassify, func(context.Context) error {
			out.Findings = p.classifier.Classify(compliance.Subject{Zone: classifyAs, Selected: out.Scored.Selected})
			return nil
		})
	}
	if err == nil {
		err = p.stage(ctx, StageGate, func(context.Context) error {
			out.Verdict = policy.Evaluate(policy.Input{Zone: zone, Selected: out.Scored.Selected, Findings: out.Findings})
			return nil
		})
	}
	if err == nil {
		err = p.stage(ctx, StageDecide, func(context.Context) error {
			d, err := p.engine.Decide(decision.Input{
				IncidentID: inc.ID,
				Zone:       zone,
				Selected:   out.Scored.Selected,
				Findings:   out.Findings,
				Verdict:    out.Verdict,
			})
			if err != nil {
				return fmt.Errorf("%w: %w", ErrDefect, err)
			}
			out.Decision = d
			return nil
		})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("arbiter.decision", out.Decision.DecisionType.String()),
		attribute.Bool("arbiter.escalation_required", out.Decision.EscalationRequired),
	)
	return &out, nil
}

// stage runs fn in its own span. A panic inside fn becomes a StageError so a
// single broken incident cannot take down the batch.
func (p *Pipeline) stage(ctx context.Context, name Stage, fn func(context.Context) error) (err error) {
	ctx, span := tracer.Start(ctx, "triage.stage."+string(name))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = &StageError{Stage: name, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := fn(ctx); err != nil {
		return &StageError{Stage: name, Err: err}
	}
	return nil
}
