// Package metrics exposes Prometheus instrumentation for the compliance core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for scoring, answers and the review workflow.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Answer writes by outcome: accepted, conflict, rejected
	AnswersSubmitted *prometheus.CounterVec

	// Workflow transitions by action and outcome
	Transitions *prometheus.CounterVec

	// Score computation latency by mode: cached, incremental, full
	ScoreDuration *prometheus.HistogramVec

	// Outbox publish attempts by outcome
	EventsPublished *prometheus.CounterVec

	// Fail-closed tenant scope checks
	TenantIsolationViolations prometheus.Counter

	// MCP tool calls by tool and outcome: ok, tool_error, error
	ToolCalls *prometheus.CounterVec
}

// New registers all metrics with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AnswersSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "r2ready_answers_submitted_total",
			Help: "Answer submissions by outcome",
		}, []string{"outcome"}),

		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "r2ready_workflow_transitions_total",
			Help: "Review workflow transition attempts by action and outcome",
		}, []string{"action", "outcome"}),

		ScoreDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "r2ready_score_duration_seconds",
			Help:    "Duration of score computation by mode",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"mode"}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "r2ready_outbox_events_published_total",
			Help: "Outbox events relayed to the event bus by outcome",
		}, []string{"outcome"}),

		TenantIsolationViolations: f.NewCounter(prometheus.CounterOpts{
			Name: "r2ready_tenant_isolation_violations_total",
			Help: "Operations refused because the tenant scope was missing or mismatched",
		}),

		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "r2ready_mcp_tool_calls_total",
			Help: "MCP tool calls by tool and outcome",
		}, []string{"tool", "outcome"}),
	}
}

// IncAnswer records an answer submission outcome.
func (m *Metrics) IncAnswer(outcome string) {
	if m != nil {
		m.AnswersSubmitted.WithLabelValues(outcome).Inc()
	}
}

// IncTransition records a workflow transition attempt.
func (m *Metrics) IncTransition(action, outcome string) {
	if m != nil {
		m.Transitions.WithLabelValues(action, outcome).Inc()
	}
}

// ObserveScore records how long a score took to produce.
func (m *Metrics) ObserveScore(mode string, d time.Duration) {
	if m != nil {
		m.ScoreDuration.WithLabelValues(mode).Observe(d.Seconds())
	}
}

// IncPublished records an outbox publish attempt.
func (m *Metrics) IncPublished(outcome string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(outcome).Inc()
	}
}

// IncTenantIsolation records a refused cross-tenant or unscoped access.
func (m *Metrics) IncTenantIsolation() {
	if m != nil {
		m.TenantIsolationViolations.Inc()
	}
}

// IncToolCall records an MCP tool call.
func (m *Metrics) IncToolCall(tool, outcome string) {
	if m != nil {
		m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	}
}
