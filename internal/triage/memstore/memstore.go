// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/linnemanlabs/arbiter/internal/triage"
)

// Store holds triage results in memory. Suitable for dev/testing and
// single-process batch runs.
type Store struct {
	mu      sync.RWMutex
	results map[string]*triage.Result // result ID -> result
	latest  map[string]string         // incident ID -> most recent result ID
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		results: make(map[string]*triage.Result),
		latest:  make(map[string]string),
	}
}

// Get retrieves a triage result by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok {
		return nil, false, nil
	}
	return clone(r), true, nil
}

// GetByIncident retrieves the most recent result for an incident. Returns a copy.
func (s *Store) GetByIncident(_ context.Context, incidentID string) (*triage.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.latest[incidentID]
	if !ok {
		return nil, false, nil
	}
	return clone(s.results[id]), true, nil
}

// Put stores a copy of the triage result. A result only becomes the
// incident's latest if it is not older than the current one.
func (s *Store) Put(_ context.Context, r *triage.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.ID] = clone(r)
	if cur, ok := s.latest[r.IncidentID]; ok && cur != r.ID {
		if s.results[cur].CreatedAt.After(r.CreatedAt) {
			return nil
		}
	}
	s.latest[r.IncidentID] = r.ID
	return nil
}

func clone(r *triage.Result) *triage.Result {
	cp := *r
	cp.Hypotheses = slices.Clone(r.Hypotheses)
	cp.Decision.NISTFindings = slices.Clone(r.Decision.NISTFindings)
	cp.Decision.IECFindings = slices.Clone(r.Decision.IECFindings)
	if r.Selected != nil {
		sel := *r.Selected
		cp.Selected = &sel
	}
	if r.Verdict.FailingRule != nil {
		rule := *r.Verdict.FailingRule
		cp.Verdict.FailingRule = &rule
	}
	if r.Enrichment.Error != nil {
		msg := *r.Enrichment.Error
		cp.Enrichment.Error = &msg
	}
	return &cp
}
