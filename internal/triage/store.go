package triage

import "context"

// Store is the persistence interface for triage results.
type Store interface {
	Get(ctx context.Context, id string) (*Result, bool, error)
	// GetByIncident returns the most recent result for an incident.
	GetByIncident(ctx context.Context, incidentID string) (*Result, bool, error)
	Put(ctx context.Context, result *Result) error
}
