/*
service_test.go - Reconciliation service tests

COVERAGE:
  - Feed ingestion: validation, append-only corrections
  - Preview vs Run: only Run persists
  - Strict runs fail on ambiguity and store nothing
  - Verdict metrics
*/
package reconciliation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mag/policy-engine/engine"
	"github.com/mag/policy-engine/engine/store"
	"github.com/mag/policy-engine/factory"
	"github.com/mag/policy-engine/metrics"
	"github.com/mag/policy-engine/portfolio"
	"github.com/mag/policy-engine/reconciliation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, time.April, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store     *store.Memory
	portfolio *portfolio.Service
	svc       *reconciliation.Service
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := store.NewMemory()
	m := metrics.New(prometheus.NewRegistry())
	p := portfolio.New(s)
	return fixture{
		store:     s,
		portfolio: p,
		svc: reconciliation.New(p, s,
			reconciliation.WithMetrics(m),
			reconciliation.WithClock(func() time.Time { return fixedNow })),
		metrics: m,
	}
}

func (fx fixture) policy(t *testing.T, number, start, status string) {
	t.Helper()
	_, err := fx.portfolio.CreatePolicy(context.Background(), factory.PolicyJSON{
		Number: number, Ramo: 34, StartDate: start, ReceiptStatus: status,
	})
	require.NoError(t, err)
}

func TestIngestIndicators(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	inds, err := fx.svc.IngestIndicators(ctx, []factory.IndicatorJSON{
		{Period: "2025-03", PolicyNumber: "76384A", IsNew: true},
		{Period: "2025-02", PolicyNumber: "11111B"},
	})
	require.NoError(t, err)
	assert.Len(t, inds, 2)

	periods, err := fx.svc.Periods(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03", "2025-02"}, periods)

	march, err := fx.svc.Indicators(ctx, "2025-03")
	require.NoError(t, err)
	require.Len(t, march, 1)
	assert.Equal(t, "76384A", march[0].PolicyNumber)

	_, err = fx.svc.Indicators(ctx, "march")
	assert.True(t, errors.Is(err, engine.ErrValidation))
}

func TestIngestIndicators_RejectsBadDelivery(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	_, err := fx.svc.IngestIndicators(ctx, nil)
	assert.True(t, errors.Is(err, engine.ErrValidation))

	// One bad record rejects the whole delivery
	_, err = fx.svc.IngestIndicators(ctx, []factory.IndicatorJSON{
		{Period: "2025-03", PolicyNumber: "1A"},
		{Period: "2025-03"},
	})
	assert.True(t, errors.Is(err, engine.ErrValidation))

	inds, err := fx.svc.Indicators(ctx, "2025-03")
	require.NoError(t, err)
	assert.Empty(t, inds)
}

func TestPreview_DoesNotPersist(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.policy(t, "0076384A", "2025-03-01", "PAGADA")
	_, err := fx.svc.IngestIndicators(ctx, []factory.IndicatorJSON{{Period: "2025-03", PolicyNumber: "76384A", IsNew: true}})
	require.NoError(t, err)

	report, err := fx.svc.Preview(ctx, "2025-03", engine.ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.Match)
	assert.Equal(t, 100, report.Summary.MatchPct)

	runs, err := fx.svc.Runs(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRun_PersistsOutcome(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	// GIVEN: A new policy, a renewal the insurer calls new, and an unknown number
	fx.policy(t, "0076384A", "2025-03-01", "PAGADA")
	fx.policy(t, "500B", "2024-03-01", "PAGADA")
	fx.policy(t, "900C", "2025-03-15", "PAGADA")
	_, err := fx.svc.IngestIndicators(ctx, []factory.IndicatorJSON{
		{ID: "i1", Period: "2025-03", PolicyNumber: "76384A", IsNew: true},
		{ID: "i2", Period: "2025-03", PolicyNumber: "500B", IsNew: true},
		{ID: "i3", Period: "2025-03", PolicyNumber: "999Z", IsNew: true},
	})
	require.NoError(t, err)

	// WHEN: A bidirectional run is executed
	run, report, err := fx.svc.Run(ctx, "2025-03", engine.ReconcileOptions{Bidirectional: true})
	require.NoError(t, err)

	// THEN: Every verdict is present and the run is stored
	assert.Equal(t, 4, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Match)
	assert.Equal(t, 1, report.Summary.Mismatch)
	assert.Equal(t, 1, report.Summary.InsurerOnly)
	assert.Equal(t, 1, report.Summary.InternalOnly)
	assert.Equal(t, 25, report.Summary.MatchPct)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, fixedNow, run.CreatedAt)

	stored, err := fx.svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 4)
	assert.Equal(t, "i2", stored.Items[1].IndicatorID)
	assert.Equal(t, engine.VerdictMismatch, stored.Items[1].Verdict)
	assert.Equal(t, engine.CategorySubsecuente, stored.Items[1].InternalCategory)
	assert.True(t, stored.Items[1].InsurerIsNew)
	assert.Equal(t, engine.VerdictInternalOnly, stored.Items[3].Verdict)
	assert.Equal(t, "900C", stored.Items[3].PolicyNumber)

	runs, err := fx.svc.Runs(ctx, "2025-03")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Options.Bidirectional)

	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.ReconciliationVerdicts.WithLabelValues("MATCH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.ReconciliationVerdicts.WithLabelValues("INTERNAL_ONLY")))
}

func TestRun_CorrectionsAreAppended(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.policy(t, "1A", "2025-03-01", "PAGADA")

	_, err := fx.svc.IngestIndicators(ctx, []factory.IndicatorJSON{{Period: "2025-03", PolicyNumber: "1A", IsNew: false}})
	require.NoError(t, err)
	_, err = fx.svc.IngestIndicators(ctx, []factory.IndicatorJSON{{Period: "2025-03", PolicyNumber: "1A", IsNew: true}})
	require.NoError(t, err)

	_, report, err := fx.svc.Run(ctx, "2025-03", engine.ReconcileOptions{})
	require.NoError(t, err)
	require.Len(t, report.Results, 2, "both deliveries are reconciled")
	assert.Equal(t, engine.VerdictMismatch, report.Results[0].Verdict)
	assert.Equal(t, engine.VerdictMatch, report.Results[1].Verdict)
}

func TestRun_StrictAmbiguity(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	// GIVEN: Two stored numbers that normalize alike
	fx.policy(t, "0076384A", "2025-03-01", "PAGADA")
	fx.policy(t, "076384A", "2024-03-01", "PAGADA")
	_, err := fx.svc.IngestIndicators(ctx, []factory.IndicatorJSON{{Period: "2025-03", PolicyNumber: "76384A", IsNew: true}})
	require.NoError(t, err)

	// WHEN: A lenient run
	_, report, err := fx.svc.Run(ctx, "2025-03", engine.ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.Ambiguous)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.AmbiguousMatches))

	// WHEN: A strict run
	_, _, err = fx.svc.Run(ctx, "2025-03", engine.ReconcileOptions{Strict: true})

	// THEN: It fails and nothing more is stored
	assert.True(t, errors.Is(err, engine.ErrAmbiguousMatch))
	runs, err := fx.svc.Runs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRun_InvalidPeriod(t *testing.T) {
	fx := newFixture(t)

	_, _, err := fx.svc.Run(context.Background(), "2025-3", engine.ReconcileOptions{})
	assert.True(t, errors.Is(err, engine.ErrValidation))

	_, err = fx.svc.Runs(context.Background(), "bad")
	assert.True(t, errors.Is(err, engine.ErrValidation))

	_, err = fx.svc.GetRun(context.Background(), "missing")
	assert.True(t, errors.Is(err, engine.ErrNotFound))
}
