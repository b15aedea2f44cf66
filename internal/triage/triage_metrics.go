package triage

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/arbiter/internal/enrich"
	"github.com/linnemanlabs/arbiter/internal/incident"
)

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	DecisionsTotal     *prometheus.CounterVec
	FindingsTotal      *prometheus.CounterVec
	FailuresTotal      *prometheus.CounterVec
	PipelineDuration   *prometheus.HistogramVec
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	RunIncidents       prometheus.Histogram
	EnrichCallsTotal   *prometheus.CounterVec
	EnrichCallDuration prometheus.Histogram
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_decisions_total",
			Help: "Decisions by type, zone and whether escalation is required.",
		}, []string{"decision_type", "zone", "escalation_required"}),
		FindingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_compliance_findings_total",
			Help: "Compliance findings by catalog and status.",
		}, []string{"catalog", "status"}),
		FailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_pipeline_failures_total",
			Help: "Incidents that produced a failure decision, by failing stage.",
		}, []string{"stage"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbiter_pipeline_duration_seconds",
			Help:    "Per-incident pipeline duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms .. ~262s
		}, []string{"decision_type"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_runs_total",
			Help: "Batch runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbiter_run_duration_seconds",
			Help:    "Batch run duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms .. ~43m
		}),
		RunIncidents: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbiter_run_incidents",
			Help:    "Incidents completed per batch run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 .. 512
		}),
		EnrichCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_enrichment_calls_total",
			Help: "Enrichment calls by outcome.",
		}, []string{"outcome"}),
		EnrichCallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbiter_enrichment_call_duration_seconds",
			Help:    "Duration of individual enrichment calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. 32s
		}),
	}

	reg.MustRegister(
		m.DecisionsTotal,
		m.FindingsTotal,
		m.FailuresTotal,
		m.PipelineDuration,
		m.RunsTotal,
		m.RunDuration,
		m.RunIncidents,
		m.EnrichCallsTotal,
		m.EnrichCallDuration,
	)

	return m
}

// Hooks returns service Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnDecision: func(d *incident.Decision, findings incident.Findings, seconds float64) {
			dt := d.DecisionType.String()
			m.DecisionsTotal.WithLabelValues(dt, d.Zone, strconv.FormatBool(d.EscalationRequired)).Inc()
			m.PipelineDuration.WithLabelValues(dt).Observe(seconds)
			for _, f := range findings {
				m.FindingsTotal.WithLabelValues(string(f.Catalog), string(f.Status)).Inc()
			}
		},
		OnFailure: func(stage Stage) {
			m.FailuresTotal.WithLabelValues(string(stage)).Inc()
		},
		OnRun: func(outcome string, incidents int, seconds float64) {
			m.RunsTotal.WithLabelValues(outcome).Inc()
			m.RunDuration.Observe(seconds)
			m.RunIncidents.Observe(float64(incidents))
		},
	}
}

// EnrichHooks returns enrichment Hooks that update the enrichment metrics.
func (m *Metrics) EnrichHooks() enrich.Hooks {
	return enrich.Hooks{
		OnCall: func(outcome string, seconds float64) {
			m.EnrichCallsTotal.WithLabelValues(outcome).Inc()
			m.EnrichCallDuration.Observe(seconds)
		},
	}
}
