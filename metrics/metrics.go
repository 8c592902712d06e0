// Package metrics holds the Prometheus instruments of the policy engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for classification, reconciliation and
// collections. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Classifications by ramo and resulting category
	Classifications *prometheus.CounterVec

	// Persisted snapshots that disagreed with a fresh classification
	Divergences prometheus.Counter

	// Reconciliation results by verdict
	ReconciliationVerdicts *prometheus.CounterVec

	// Ambiguous indicator matches
	AmbiguousMatches prometheus.Counter

	// Collections ledger entries by priority tier
	PriorityTiers *prometheus.CounterVec

	// Duration of service operations (dashboard, collections, reconcile, apply_rules)
	OperationLatency *prometheus.HistogramVec
}

// New registers every metric with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_engine_classifications_total",
			Help: "Total policy classifications by ramo and lifecycle category",
		}, []string{"ramo", "category"}),

		Divergences: f.NewCounter(prometheus.CounterOpts{
			Name: "policy_engine_classification_divergence_total",
			Help: "Persisted classification snapshots that differ from the recomputed value",
		}),

		ReconciliationVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_engine_reconciliation_results_total",
			Help: "Reconciliation results by verdict",
		}, []string{"verdict"}),

		AmbiguousMatches: f.NewCounter(prometheus.CounterOpts{
			Name: "policy_engine_reconciliation_ambiguous_total",
			Help: "Indicators that matched more than one internal policy",
		}),

		PriorityTiers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_engine_collections_priority_total",
			Help: "Collections ledger entries by priority tier",
		}, []string{"priority"}),

		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "policy_engine_operation_duration_seconds",
			Help:    "Duration of service operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
	}
}

// IncrementClassification records one classification.
func (m *Metrics) IncrementClassification(ramo, category string) {
	if m != nil {
		m.Classifications.WithLabelValues(ramo, category).Inc()
	}
}

// IncrementDivergence records a snapshot that disagreed with the rules.
func (m *Metrics) IncrementDivergence() {
	if m != nil {
		m.Divergences.Inc()
	}
}

// IncrementVerdict records a reconciliation result.
func (m *Metrics) IncrementVerdict(verdict string) {
	if m != nil {
		m.ReconciliationVerdicts.WithLabelValues(verdict).Inc()
	}
}

// AddAmbiguous records n ambiguous matches.
func (m *Metrics) AddAmbiguous(n int) {
	if m != nil && n > 0 {
		m.AmbiguousMatches.Add(float64(n))
	}
}

// IncrementPriority records a collections ledger entry.
func (m *Metrics) IncrementPriority(priority string) {
	if m != nil {
		m.PriorityTiers.WithLabelValues(priority).Inc()
	}
}

// ObserveOperation records how long an operation took.
func (m *Metrics) ObserveOperation(operation string, d time.Duration) {
	if m != nil {
		m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}
