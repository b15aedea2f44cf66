package triageapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/arbiter/internal/scenario"
	"github.com/linnemanlabs/arbiter/internal/triage"
)

// RunRequest is the body of POST /api/v1/runs.
type RunRequest struct {
	Incidents []string `json:"incidents"`
}

// RunResponse summarizes a batch run.
type RunResponse struct {
	*triage.Run
	Complete bool `json:"complete"`
}

func (a *API) handleTriageIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("arbiter.incident.id", id))

	result, err := a.svc.Triage(r.Context(), id)
	switch {
	case errors.Is(err, scenario.ErrNotFound):
		writeError(w, http.StatusNotFound, "incident not found")
		return
	case err != nil && result == nil:
		a.logger.Error(r.Context(), err, "triage failed", "incident_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	case err != nil:
		// decided but not persisted; the caller still gets the decision
		a.logger.Error(r.Context(), err, "triage result not persisted", "incident_id", id, "triage_id", result.ID)
	}

	span.SetAttributes(attribute.String("arbiter.decision_type", result.Decision.DecisionType.String()))
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if len(req.Incidents) == 0 {
		writeError(w, http.StatusBadRequest, "incidents is required")
		return
	}
	if len(req.Incidents) > maxRunSelectors {
		writeError(w, http.StatusBadRequest, "too many incidents")
		return
	}

	run, err := a.svc.Run(r.Context(), req.Incidents)
	if err != nil {
		a.logger.Error(r.Context(), err, "triage run failed", "selectors", len(req.Incidents))
		if run == nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusInternalServerError, RunResponse{Run: run})
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("arbiter.run.id", run.ID),
		attribute.Int("arbiter.run.incidents", len(run.Results)),
	)
	writeJSON(w, http.StatusOK, RunResponse{Run: run, Complete: true})
}

func (a *API) handleGetTriage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("arbiter.triage.id", id))

	result, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get triage result", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, ok, err := a.svc.GetByIncident(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get decision", "incident_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	writeJSON(w, http.StatusOK, result.Decision)
}

func (a *API) handleEnrichmentStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.EnrichmentStatus())
}
