package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/arbiter/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/arbiter/internal/enrich")

const (
	DefaultTimeout   = 20 * time.Second
	DefaultMaxTokens = 1024
)

// AuditLog receives one record per enrichment attempt.
type AuditLog interface {
	Append(ctx context.Context, rec *incident.CallRecord) error
}

// Hooks observes enrichment calls. Nil fields are skipped.
type Hooks struct {
	OnCall func(outcome string, seconds float64)
}

// Options configures an Adapter.
type Options struct {
	Model     string
	Timeout   time.Duration
	MaxTokens int
	// RatePerSecond bounds outbound calls across all workers; 0 disables limiting.
	RatePerSecond float64
	Burst         int
	Hooks         Hooks
}

// Adapter is the network-backed HypothesisEnricher.
type Adapter struct {
	provider  Provider
	audit     AuditLog
	logger    log.Logger
	model     string
	timeout   time.Duration
	maxTokens int
	limiter   *rate.Limiter
	hooks     Hooks
	now       func() time.Time

	calls     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// New creates an Adapter. provider and audit are required.
func New(provider Provider, audit AuditLog, logger log.Logger, opts Options) *Adapter {
	if provider == nil {
		panic(xerrors.New("enrichment provider is required"))
	}
	if audit == nil {
		panic(xerrors.New("enrichment audit log is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	a := &Adapter{
		provider:  provider,
		audit:     audit,
		logger:    logger,
		model:     opts.Model,
		timeout:   opts.Timeout,
		maxTokens: opts.MaxTokens,
		hooks:     opts.Hooks,
		now:       time.Now,
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return a
}

// Status reports configuration and call counters.
func (a *Adapter) Status() Status {
	return Status{
		Enabled:   true,
		Provider:  a.provider.Name(),
		Model:     a.model,
		Calls:     a.calls.Load(),
		Succeeded: a.succeeded.Load(),
		Failed:    a.failed.Load(),
	}
}

// Enrich asks the provider to refine drafts. Exactly one audit record is
// appended per call. The call is bounded by the configured timeout and is
// abandoned as soon as ctx is cancelled.
func (a *Adapter) Enrich(ctx context.Context, inc *incident.Incident, drafts []incident.Hypothesis) (Result, error) {
	ctx, span := tracer.Start(ctx, "enrich.Enrich", trace.WithAttributes(
		attribute.String("arbiter.incident.id", inc.ID),
		attribute.String("arbiter.enrich.model", a.model),
		attribute.Int("arbiter.enrich.drafts", len(drafts)),
	))
	defer span.End()

	L := a.logger.With("incident_id", inc.ID, "model", a.model)

	req := &CompletionRequest{
		System:    systemPrompt,
		Prompt:    buildPrompt(inc, drafts),
		MaxTokens: a.maxTokens,
	}

	start := a.now()
	rec := incident.CallRecord{
		IncidentID:    inc.ID,
		RequestDigest: digest(a.model, req),
		Model:         a.model,
		Attempted:     true,
		Timestamp:     start.UTC(),
	}
	a.calls.Add(1)

	refinements, err := a.call(ctx, req, len(drafts))
	rec.LatencyMS = a.now().Sub(start).Milliseconds()

	outcome := "success"
	if err != nil {
		outcome = failureOutcome(err)
		rec = rec.Failed(err.Error())
	} else {
		rec.Succeeded = true
	}

	// the audit record must land even when the caller has given up
	if appendErr := a.audit.Append(context.WithoutCancel(ctx), &rec); appendErr != nil {
		L.Error(ctx, appendErr, "failed to append enrichment audit record")
		if err == nil {
			outcome = "audit_error"
			err = fmt.Errorf("append audit record: %w", appendErr)
		}
	}

	if a.hooks.OnCall != nil {
		a.hooks.OnCall(outcome, float64(rec.LatencyMS)/1000)
	}

	if err != nil {
		a.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Warn(ctx, "enrichment failed, using baseline", "outcome", outcome, "latency_ms", rec.LatencyMS, "error", err)
		return Result{Record: rec}, err
	}

	a.succeeded.Add(1)
	L.Info(ctx, "enrichment complete", "refinements", len(refinements), "latency_ms", rec.LatencyMS)
	return Result{Refinements: refinements, Record: rec}, nil
}

func (a *Adapter) call(ctx context.Context, req *CompletionRequest, drafts int) ([]Refinement, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, fmt.Errorf("canceled: rate limit wait: %w", err)
			}
			return nil, fmt.Errorf("timeout: rate limit wait: %w", err)
		}
	}

	resp, err := a.provider.Complete(ctx, req)
	if err != nil {
		return nil, classify(ctx, err)
	}

	refinements, err := parseRefinements(resp.Text, drafts)
	if err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	return refinements, nil
}

// classify labels transport failures with the reason the call ended.
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("timeout: %w", err)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("canceled: %w", err)
	}
	return fmt.Errorf("transport: %w", err)
}

func failureOutcome(err error) string {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "timeout"):
		return "timeout"
	case strings.HasPrefix(msg, "canceled"):
		return "canceled"
	case strings.HasPrefix(msg, "transport"):
		return "transport"
	case strings.HasPrefix(msg, "malformed response"):
		return "malformed"
	}
	return "error"
}
