/*
service_test.go - Portfolio service tests

COVERAGE:
  - Ingestion: validation, agent resolution, snapshot at creation
  - Query-time classification and snapshot divergence reporting
  - ApplyRules: updated / unchanged / failed accounting
*/
package portfolio_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mag/policy-engine/engine"
	"github.com/mag/policy-engine/engine/store"
	"github.com/mag/policy-engine/factory"
	"github.com/mag/policy-engine/metrics"
	"github.com/mag/policy-engine/portfolio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *store.Memory
	svc     *portfolio.Service
	metrics *metrics.Metrics
	logs    *bytes.Buffer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logs := &bytes.Buffer{}
	m := metrics.New(prometheus.NewRegistry())
	s := store.NewMemory()
	return fixture{
		store:   s,
		svc:     portfolio.New(s, portfolio.WithLogger(slog.New(slog.NewJSONHandler(logs, nil))), portfolio.WithMetrics(m)),
		metrics: m,
		logs:    logs,
	}
}

func money(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func lifePolicy(number, start string) factory.PolicyJSON {
	return factory.PolicyJSON{
		Number: number, Ramo: 11, StartDate: start,
		NetPremium: money("100000"), Commission: money("2800"), ReceiptStatus: "PAGADA",
	}
}

func TestCreatePolicy_ClassifiesAndSnapshots(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	// GIVEN: A new Life policy paying 2.8% commission
	// WHEN: It is created
	cp, err := fx.svc.CreatePolicy(ctx, lifePolicy("0076384A00", "2025-03-01"))
	require.NoError(t, err)

	// THEN: It is classified for its application year and the snapshot stored
	assert.Equal(t, engine.CategoryNueva, cp.Classification.Category)
	assert.Equal(t, engine.TierBasica, cp.Classification.Tier)
	assert.Equal(t, 2025, cp.AnalysisYear)

	stored, err := fx.store.GetPolicy(ctx, cp.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Snapshot)
	assert.Equal(t, 2025, stored.Snapshot.AnalysisYear)
	assert.Equal(t, engine.CategoryNueva, stored.Snapshot.Category)

	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.Classifications.WithLabelValues("VIDA", "NUEVA")))
}

func TestCreatePolicy_ResolvesAgentCode(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	agent, err := fx.svc.CreateAgent(ctx, factory.AgentJSON{Code: "625112", Name: "Beatriz Soto", Segment: "ALFA TOP"})
	require.NoError(t, err)

	pj := lifePolicy("1A", "2025-03-01")
	pj.AgentCode = "625112"
	cp, err := fx.svc.CreatePolicy(ctx, pj)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, cp.AgentID)
	assert.Equal(t, "ALFA TOP", cp.Segment, "segment inherited from the agent")

	pj = lifePolicy("2A", "2025-03-01")
	pj.AgentCode = "000000"
	_, err = fx.svc.CreatePolicy(ctx, pj)
	assert.True(t, errors.Is(err, engine.ErrValidation))

	pj = lifePolicy("3A", "2025-03-01")
	pj.AgentID = "ghost"
	_, err = fx.svc.CreatePolicy(ctx, pj)
	assert.True(t, errors.Is(err, engine.ErrValidation))

	pj = lifePolicy("4A", "2025-03-01")
	pj.ProductID = "ghost"
	_, err = fx.svc.CreatePolicy(ctx, pj)
	assert.True(t, errors.Is(err, engine.ErrValidation))
}

func TestCreatePolicy_DuplicateNumber(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	_, err := fx.svc.CreatePolicy(ctx, lifePolicy("1A", "2025-03-01"))
	require.NoError(t, err)
	_, err = fx.svc.CreatePolicy(ctx, lifePolicy("1A", "2025-04-01"))
	assert.True(t, errors.Is(err, engine.ErrConflict))
}

func TestCreatePolicy_BrokenConfiguration(t *testing.T) {
	fx := newFixture(t)
	fx.store.DeleteConfigValue(engine.KeyCommissionThreshold)

	_, err := fx.svc.CreatePolicy(context.Background(), lifePolicy("1A", "2025-03-01"))
	assert.True(t, errors.Is(err, engine.ErrConfiguration))
}

func TestListPolicies_ReportsDivergence(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	// GIVEN: A policy snapshotted as NUEVA under the default threshold
	cp, err := fx.svc.CreatePolicy(ctx, lifePolicy("1A", "2025-03-01"))
	require.NoError(t, err)

	// WHEN: The threshold is raised above its 2.8% ratio and the book read
	require.NoError(t, fx.store.SetConfigValue(ctx, engine.KeyCommissionThreshold, "0.03"))
	list, err := fx.svc.ListPolicies(ctx, engine.PolicyFilter{}, 2025)
	require.NoError(t, err)

	// THEN: The response carries the recomputed value and the divergence is reported
	require.Len(t, list, 1)
	assert.Equal(t, cp.ID, list[0].ID)
	assert.Equal(t, engine.CategoryNoAplica, list[0].Classification.Category)
	assert.Equal(t, engine.TierExcedente, list[0].Classification.Tier)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.Divergences))
	assert.Contains(t, fx.logs.String(), "classification snapshot diverges from rules")
}

func TestListPolicies_OtherYearSnapshotIsNotDivergence(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	_, err := fx.svc.CreatePolicy(ctx, lifePolicy("1A", "2025-03-01"))
	require.NoError(t, err)

	list, err := fx.svc.ListPolicies(ctx, engine.PolicyFilter{}, 2026)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, engine.CategorySubsecuente, list[0].Classification.Category)
	assert.Equal(t, 0.0, testutil.ToFloat64(fx.metrics.Divergences))
}

func TestPolicy(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	cp, err := fx.svc.CreatePolicy(ctx, lifePolicy("1A", "2024-06-01"))
	require.NoError(t, err)

	own, err := fx.svc.Policy(ctx, cp.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2024, own.AnalysisYear)
	assert.Equal(t, engine.CategoryNueva, own.Classification.Category)

	next, err := fx.svc.Policy(ctx, cp.ID, 2025)
	require.NoError(t, err)
	assert.Equal(t, engine.CategorySubsecuente, next.Classification.Category)

	_, err = fx.svc.Policy(ctx, "missing", 0)
	assert.True(t, errors.Is(err, engine.ErrNotFound))
}

func TestApplyRules(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	// GIVEN: Two policies snapshotted under the default rules
	_, err := fx.svc.CreatePolicy(ctx, lifePolicy("1A", "2025-03-01"))
	require.NoError(t, err)
	gmm := factory.PolicyJSON{Number: "2G", Ramo: 34, StartDate: "2025-04-01", ReceiptStatus: "PAGADA"}
	_, err = fx.svc.CreatePolicy(ctx, gmm)
	require.NoError(t, err)

	// WHEN: Rules are re-applied without any change
	res, err := fx.svc.ApplyRules(ctx, portfolio.ApplyOptions{Year: 2025})
	require.NoError(t, err)

	// THEN: Nothing is rewritten
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 2, res.Unchanged)

	// WHEN: The threshold changes and rules are re-applied to Life only
	require.NoError(t, fx.store.SetConfigValue(ctx, engine.KeyCommissionThreshold, "0.03"))
	res, err = fx.svc.ApplyRules(ctx, portfolio.ApplyOptions{Year: 2025, Ramo: engine.RamoVida})
	require.NoError(t, err)

	// THEN: The Life snapshot is rewritten and reads no longer diverge
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Updated)

	_, err = fx.svc.ListPolicies(ctx, engine.PolicyFilter{}, 2025)
	require.NoError(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(fx.metrics.Divergences))
}

func TestApplyRules_ReportsFailures(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	// GIVEN: A record that bypassed the factory without a start date
	require.NoError(t, fx.store.SavePolicy(ctx, engine.Policy{
		ID: "bad", Number: "9Z", StandardNumber: "9Z", Ramo: engine.RamoGMM, ApplicationYear: 2025,
	}))
	_, err := fx.svc.CreatePolicy(ctx, lifePolicy("1A", "2025-03-01"))
	require.NoError(t, err)

	// WHEN: Rules are applied per application year
	res, err := fx.svc.ApplyRules(ctx, portfolio.ApplyOptions{})
	require.NoError(t, err)

	// THEN: The bad record is skipped and reported
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "9Z")
}

func TestApplyRules_CancelledContext(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.CreatePolicy(context.Background(), lifePolicy("1A", "2025-03-01"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err = fx.svc.ApplyRules(ctx, portfolio.ApplyOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAgentsAndProducts(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	a, err := fx.svc.CreateAgent(ctx, factory.AgentJSON{Code: "1", Name: "Ana"})
	require.NoError(t, err)
	_, err = fx.svc.CreateAgent(ctx, factory.AgentJSON{Code: "1", Name: "Other"})
	assert.True(t, errors.Is(err, engine.ErrConflict))

	byID, err := fx.svc.Agents(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ana", byID[a.ID].Name)

	_, err = fx.svc.CreateProduct(ctx, factory.ProductJSON{Ramo: 34, Plan: "FLEX"})
	require.NoError(t, err)
	products, err := fx.svc.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 1)
}
