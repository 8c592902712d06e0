package metrics_test

import (
	"testing"
	"time"

	"github.com/mag/policy-engine/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.IncrementClassification("GMM", "NUEVA")
	m.IncrementClassification("GMM", "NUEVA")
	m.IncrementDivergence()
	m.IncrementVerdict("MATCH")
	m.AddAmbiguous(2)
	m.AddAmbiguous(0)
	m.IncrementPriority("CRITICO")
	m.ObserveOperation("dashboard", 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Classifications.WithLabelValues("GMM", "NUEVA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Divergences))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconciliationVerdicts.WithLabelValues("MATCH")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AmbiguousMatches))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PriorityTiers.WithLabelValues("CRITICO")))

	n, err := testutil.GatherAndCount(reg, "policy_engine_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.IncrementClassification("GMM", "NUEVA")
		m.IncrementDivergence()
		m.IncrementVerdict("MATCH")
		m.AddAmbiguous(1)
		m.IncrementPriority("URGENTE")
		m.ObserveOperation("reconcile", time.Second)
	})
}
