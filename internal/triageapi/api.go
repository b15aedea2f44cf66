// Package triageapi exposes the triage service over HTTP.
package triageapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/arbiter/internal/enrich"
	"github.com/linnemanlabs/arbiter/internal/triage"
)

// maxRunSelectors bounds the selectors accepted by one run request.
const maxRunSelectors = 256

// TriageService defines the business operations triageapi needs.
type TriageService interface {
	Triage(ctx context.Context, incidentID string) (*triage.Result, error)
	Run(ctx context.Context, selectors []string) (*triage.Run, error)
	Get(ctx context.Context, id string) (*triage.Result, bool, error)
	GetByIncident(ctx context.Context, incidentID string) (*triage.Result, bool, error)
	EnrichmentStatus() enrich.Status
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. Authentication is
// applied by the caller.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/incidents/{id}/triage", a.handleTriageIncident)
		r.Get("/incidents/{id}/decision", a.handleGetDecision)
		r.Post("/runs", a.handleRun)
		r.Get("/triage/{id}", a.handleGetTriage)
		r.Get("/enrichment/status", a.handleEnrichmentStatus)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
