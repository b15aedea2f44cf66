// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/arbiter/internal/incident"
	"github.com/linnemanlabs/arbiter/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/arbiter/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists triage results in PostgreSQL. The caller owns the pool.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pgstore: nil pool")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const resultColumns = `id, run_id, incident_id, title, decision, verdict, hypotheses,
	selected, enrichment, failed_stage, created_at, duration_s`

// Get retrieves a triage result by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Result, bool, error) {
	return s.getOne(ctx, "pgstore.Get",
		`SELECT `+resultColumns+` FROM triage_results WHERE id = $1`, id)
}

// GetByIncident retrieves the most recent result for an incident.
func (s *Store) GetByIncident(ctx context.Context, incidentID string) (*triage.Result, bool, error) {
	return s.getOne(ctx, "pgstore.GetByIncident",
		`SELECT `+resultColumns+` FROM triage_results WHERE incident_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1`, incidentID)
}

func (s *Store) getOne(ctx context.Context, spanName, query string, arg string) (*triage.Result, bool, error) {
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	r, err := scanResult(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// Put inserts or replaces a triage result.
func (s *Store) Put(ctx context.Context, r *triage.Result) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.String("incident.id", r.IncidentID),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := upsertResult(ctx, tx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func upsertResult(ctx context.Context, tx pgx.Tx, r *triage.Result) error {
	decisionJSON, err := json.Marshal(r.Decision)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	verdictJSON, err := json.Marshal(r.Verdict)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	hyps := r.Hypotheses
	if hyps == nil {
		hyps = []incident.Hypothesis{}
	}
	hypsJSON, err := json.Marshal(hyps)
	if err != nil {
		return fmt.Errorf("marshal hypotheses: %w", err)
	}
	var selectedJSON []byte
	if r.Selected != nil {
		if selectedJSON, err = json.Marshal(r.Selected); err != nil {
			return fmt.Errorf("marshal selected: %w", err)
		}
	}
	enrichmentJSON, err := json.Marshal(r.Enrichment)
	if err != nil {
		return fmt.Errorf("marshal enrichment: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO triage_results (id, run_id, incident_id, title, decision_type,
			escalation_required, policy_passed, zone, decision, verdict, hypotheses,
			selected, enrichment, failed_stage, created_at, duration_s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			incident_id = EXCLUDED.incident_id,
			title = EXCLUDED.title,
			decision_type = EXCLUDED.decision_type,
			escalation_required = EXCLUDED.escalation_required,
			policy_passed = EXCLUDED.policy_passed,
			zone = EXCLUDED.zone,
			decision = EXCLUDED.decision,
			verdict = EXCLUDED.verdict,
			hypotheses = EXCLUDED.hypotheses,
			selected = EXCLUDED.selected,
			enrichment = EXCLUDED.enrichment,
			failed_stage = EXCLUDED.failed_stage,
			created_at = EXCLUDED.created_at,
			duration_s = EXCLUDED.duration_s`,
		r.ID, r.RunID, r.IncidentID, r.Title, r.Decision.DecisionType.String(),
		r.Decision.EscalationRequired, r.Decision.PolicyPassed, r.Decision.Zone,
		decisionJSON, verdictJSON, hypsJSON, selectedJSON, enrichmentJSON,
		string(r.FailedStage), r.CreatedAt, r.Duration,
	)
	if err != nil {
		return fmt.Errorf("upsert triage_results: %w", err)
	}
	return nil
}

func scanResult(row pgx.Row) (*triage.Result, error) {
	var (
		r                                   triage.Result
		decisionJSON, verdictJSON, hypsJSON []byte
		selectedJSON, enrichmentJSON        []byte
		failedStage                         string
	)
	err := row.Scan(
		&r.ID, &r.RunID, &r.IncidentID, &r.Title,
		&decisionJSON, &verdictJSON, &hypsJSON, &selectedJSON, &enrichmentJSON,
		&failedStage, &r.CreatedAt, &r.Duration,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan triage_results: %w", err)
	}
	r.FailedStage = triage.Stage(failedStage)

	if err := json.Unmarshal(decisionJSON, &r.Decision); err != nil {
		return nil, fmt.Errorf("unmarshal decision: %w", err)
	}
	if err := json.Unmarshal(verdictJSON, &r.Verdict); err != nil {
		return nil, fmt.Errorf("unmarshal verdict: %w", err)
	}
	if err := json.Unmarshal(hypsJSON, &r.Hypotheses); err != nil {
		return nil, fmt.Errorf("unmarshal hypotheses: %w", err)
	}
	if len(selectedJSON) > 0 {
		r.Selected = new(incident.Hypothesis)
		if err := json.Unmarshal(selectedJSON, r.Selected); err != nil {
			return nil, fmt.Errorf("unmarshal selected: %w", err)
		}
	}
	if err := json.Unmarshal(enrichmentJSON, &r.Enrichment); err != nil {
		return nil, fmt.Errorf("unmarshal enrichment: %w", err)
	}
	return &r, nil
}
