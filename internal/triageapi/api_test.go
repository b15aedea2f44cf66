package triageapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/arbiter/internal/enrich"
	"github.com/linnemanlabs/arbiter/internal/incident"
	"github.com/linnemanlabs/arbiter/internal/scenario"
	"github.com/linnemanlabs/arbiter/internal/triage"
)

type fakeService struct {
	results   map[string]*triage.Result // result id -> result
	incidents map[string]*triage.Result // incident id -> latest
	runErr    error
	putErr    error
	getErr    error
	gotSel    []string
}

func newFakeService() *fakeService {
	r := &triage.Result{
		ID:         "01RESULT",
		IncidentID: "inc-001",
		Decision: incident.Decision{
			IncidentID:   "inc-001",
			DecisionType: incident.Propose,
			PolicyPassed: true,
			Zone:         "standard",
			NISTFindings: []incident.Finding{},
			IECFindings:  []incident.Finding{},
		},
	}
	return &fakeService{
		results:   map[string]*triage.Result{r.ID: r},
		incidents: map[string]*triage.Result{r.IncidentID: r},
	}
}

func (f *fakeService) Triage(_ context.Context, id string) (*triage.Result, error) {
	r, ok := f.incidents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", scenario.ErrNotFound, id)
	}
	if f.putErr != nil {
		return r, f.putErr
	}
	return r, nil
}

func (f *fakeService) Run(_ context.Context, sel []string) (*triage.Run, error) {
	f.gotSel = sel
	if f.runErr != nil {
		return nil, f.runErr
	}
	run := &triage.Run{ID: "01RUN"}
	for _, r := range f.incidents {
		run.Results = append(run.Results, r)
	}
	return run, nil
}

func (f *fakeService) Get(_ context.Context, id string) (*triage.Result, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	r, ok := f.results[id]
	return r, ok, nil
}

func (f *fakeService) GetByIncident(_ context.Context, id string) (*triage.Result, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	r, ok := f.incidents[id]
	return r, ok, nil
}

func (f *fakeService) EnrichmentStatus() enrich.Status {
	return enrich.Status{Enabled: true, Provider: "claude", Model: "claude-test", Calls: 3, Succeeded: 2, Failed: 1}
}

func newTestRouter(t *testing.T, svc TriageService) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	New(log.Nop(), svc).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, newFakeService())
	if api.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil)
}

// Routing

func TestRoutes(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, newFakeService())

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"triage known incident", http.MethodPost, "/api/v1/incidents/inc-001/triage", "", http.StatusOK},
		{"triage unknown incident", http.MethodPost, "/api/v1/incidents/inc-404/triage", "", http.StatusNotFound},
		{"triage wrong method", http.MethodGet, "/api/v1/incidents/inc-001/triage", "", http.StatusMethodNotAllowed},
		{"decision known", http.MethodGet, "/api/v1/incidents/inc-001/decision", "", http.StatusOK},
		{"decision unknown", http.MethodGet, "/api/v1/incidents/inc-404/decision", "", http.StatusNotFound},
		{"result known", http.MethodGet, "/api/v1/triage/01RESULT", "", http.StatusOK},
		{"result unknown", http.MethodGet, "/api/v1/triage/nope", "", http.StatusNotFound},
		{"run all", http.MethodPost, "/api/v1/runs", `{"incidents":["all"]}`, http.StatusOK},
		{"run invalid JSON", http.MethodPost, "/api/v1/runs", `{bad`, http.StatusBadRequest},
		{"run unknown field", http.MethodPost, "/api/v1/runs", `{"incident":["all"]}`, http.StatusBadRequest},
		{"run empty list", http.MethodPost, "/api/v1/runs", `{"incidents":[]}`, http.StatusBadRequest},
		{"enrichment status", http.MethodGet, "/api/v1/enrichment/status", "", http.StatusOK},
		{"unknown route", http.MethodGet, "/api/v1/alerts", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(r, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d (body %s)", tt.method, tt.path, rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestHandleGetDecision_Body(t *testing.T) {
	t.Parallel()

	rec := do(newTestRouter(t, newFakeService()), http.MethodGet, "/api/v1/incidents/inc-001/decision", "")
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["decision_type"] != "propose" || got["incident_id"] != "inc-001" {
		t.Errorf("decision = %v", got)
	}
	if _, ok := got["nist_findings"]; !ok {
		t.Error("decision should carry nist_findings")
	}
}

func TestHandleRun_PassesSelectors(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	rec := do(newTestRouter(t, svc), http.MethodPost, "/api/v1/runs", `{"incidents":["inc-002","inc-001"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Join(svc.gotSel, ",") != "inc-002,inc-001" {
		t.Errorf("selectors = %v", svc.gotSel)
	}
	var got struct {
		ID       string           `json:"id"`
		Results  []*triage.Result `json:"results"`
		Complete bool             `json:"complete"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "01RUN" || !got.Complete || len(got.Results) != 1 {
		t.Errorf("run response = %+v", got)
	}
}

func TestHandleRun_Error(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.runErr = errors.New("no incidents selected")
	rec := do(newTestRouter(t, svc), http.MethodPost, "/api/v1/runs", `{"incidents":[" "]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleTriage_PersistErrorStillReturnsDecision(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.putErr = errors.New("db down")
	rec := do(newTestRouter(t, svc), http.MethodPost, "/api/v1/incidents/inc-001/triage", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestStoreErrors(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.getErr = errors.New("db down")
	r := newTestRouter(t, svc)

	for _, path := range []string{"/api/v1/triage/01RESULT", "/api/v1/incidents/inc-001/decision"} {
		rec := do(r, http.MethodGet, path, "")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("GET %s = %d, want 500", path, rec.Code)
		}
		if strings.Contains(rec.Body.String(), "db down") {
			t.Errorf("GET %s leaked internal error: %s", path, rec.Body.String())
		}
	}
}

func TestHandleEnrichmentStatus(t *testing.T) {
	t.Parallel()

	rec := do(newTestRouter(t, newFakeService()), http.MethodGet, "/api/v1/enrichment/status", "")
	var got enrich.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Enabled || got.Calls != 3 || got.Failed != 1 {
		t.Errorf("status = %+v", got)
	}
}
