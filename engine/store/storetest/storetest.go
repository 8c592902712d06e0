/*
Package storetest is a contract suite every engine.Store implementation
must pass.

USAGE:
  func TestContract(t *testing.T) {
      storetest.Run(t, func(t *testing.T) engine.Store {
          return store.NewMemory()
      })
  }

  Each subtest gets a fresh store. Records carry no agent or product
  references so implementations that enforce foreign keys accept them.
*/
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mag/policy-engine/engine"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store seeded with the default configuration.
type Factory func(t *testing.T) engine.Store

// Run executes the contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s engine.Store)
	}{
		{"PolicyRoundTrip", testPolicyRoundTrip},
		{"PolicyConflicts", testPolicyConflicts},
		{"PolicyNotFound", testPolicyNotFound},
		{"ListPoliciesFilters", testListPoliciesFilters},
		{"ListPoliciesOrderAndPaging", testListPoliciesOrderAndPaging},
		{"Snapshots", testSnapshots},
		{"Agents", testAgents},
		{"Products", testProducts},
		{"IndicatorsAppendOnly", testIndicatorsAppendOnly},
		{"Config", testConfig},
		{"Goals", testGoals},
		{"Runs", testRuns},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// =============================================================================
// FIXTURES
// =============================================================================

func policy(id, number string, start engine.Date) engine.Policy {
	return engine.Policy{
		ID:                engine.PolicyID(id),
		Number:            number,
		StandardNumber:    engine.NormalizePolicyID(number),
		Ramo:              engine.RamoGMM,
		StartDate:         start,
		ApplicationYear:   start.Year(),
		ApplicationPeriod: start.Period(),
		NetPremium:        decimal.RequireFromString("12500.50"),
		ReceiptStatus:     engine.ReceiptPagada,
	}
}

func date(y int, m time.Month, d int) engine.Date { return engine.NewDate(y, m, d) }

// =============================================================================
// POLICIES
// =============================================================================

func testPolicyRoundTrip(t *testing.T, s engine.Store) {
	ctx := context.Background()

	// GIVEN: A policy with every optional field set
	p := policy("p1", "0076384A00", date(2025, time.March, 15))
	end := date(2026, time.March, 15)
	paid := date(2025, time.March, 20)
	p.EndDate = &end
	p.LastPaymentDate = &paid
	p.Ramo = engine.RamoVida
	p.Plan, p.Gama, p.Segment = "VIDA Y AHORRO", "ALTA", "ALFA TOP"
	p.InsuredName, p.ContractorName = "Ana Ruiz", "Grupo Ruiz"
	p.Currency = "MXN"
	p.TotalPremium = decimal.RequireFromString("14500.58")
	p.Commission = decimal.RequireFromString("350.01")
	p.PaidPremium = decimal.RequireFromString("6250.25")
	p.PaymentForm = "SEMESTRAL"
	p.InsuredCount = 2
	p.Source = "IMPORT"
	p.Notes = "renewal pending"

	require.NoError(t, s.SavePolicy(ctx, p))

	// WHEN: Read back
	got, err := s.GetPolicy(ctx, "p1")
	require.NoError(t, err)

	// THEN: Every field survives, money exactly
	assert.Equal(t, p.Number, got.Number)
	assert.Equal(t, "76384A00", got.StandardNumber)
	assert.Equal(t, engine.RamoVida, got.Ramo)
	assert.Equal(t, p.Plan, got.Plan)
	assert.Equal(t, p.Gama, got.Gama)
	assert.Equal(t, p.Segment, got.Segment)
	assert.Equal(t, p.InsuredName, got.InsuredName)
	assert.Equal(t, p.ContractorName, got.ContractorName)
	assert.Equal(t, "2025-03-15", got.StartDate.String())
	require.NotNil(t, got.EndDate)
	assert.Equal(t, "2026-03-15", got.EndDate.String())
	require.NotNil(t, got.LastPaymentDate)
	assert.Equal(t, "2025-03-20", got.LastPaymentDate.String())
	assert.Equal(t, 2025, got.ApplicationYear)
	assert.Equal(t, "2025-03", got.ApplicationPeriod)
	assert.True(t, p.NetPremium.Equal(got.NetPremium), "net premium %s", got.NetPremium)
	assert.True(t, p.TotalPremium.Equal(got.TotalPremium))
	assert.True(t, p.Commission.Equal(got.Commission))
	assert.True(t, p.PaidPremium.Equal(got.PaidPremium))
	assert.Equal(t, p.PaymentForm, got.PaymentForm)
	assert.Equal(t, p.ReceiptStatus, got.ReceiptStatus)
	assert.Equal(t, 2, got.InsuredCount)
	assert.Equal(t, p.Source, got.Source)
	assert.Equal(t, p.Notes, got.Notes)
	assert.Nil(t, got.Snapshot)
}

func testPolicyConflicts(t *testing.T, s engine.Store) {
	ctx := context.Background()
	require.NoError(t, s.SavePolicy(ctx, policy("p1", "100A", date(2025, time.March, 1))))

	err := s.SavePolicy(ctx, policy("p2", "100A", date(2025, time.March, 1)))
	assert.True(t, errors.Is(err, engine.ErrConflict), "duplicate number: %v", err)

	err = s.SavePolicy(ctx, policy("p1", "200A", date(2025, time.March, 1)))
	assert.True(t, errors.Is(err, engine.ErrConflict), "duplicate id: %v", err)
}

func testPolicyNotFound(t *testing.T, s engine.Store) {
	_, err := s.GetPolicy(context.Background(), "missing")
	assert.True(t, errors.Is(err, engine.ErrNotFound))
}

func testListPoliciesFilters(t *testing.T, s engine.Store) {
	ctx := context.Background()

	life := policy("v1", "111V", date(2025, time.January, 10))
	life.Ramo = engine.RamoVida
	life.InsuredName = "Carlos Mendez"
	old := policy("g1", "222G", date(2024, time.June, 1))
	current := policy("g2", "0333G", date(2025, time.May, 1))
	for _, p := range []engine.Policy{life, old, current} {
		require.NoError(t, s.SavePolicy(ctx, p))
	}

	all, err := s.ListPolicies(ctx, engine.PolicyFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	gmm, err := s.ListPolicies(ctx, engine.PolicyFilter{Ramo: engine.RamoGMM})
	require.NoError(t, err)
	assert.Len(t, gmm, 2)

	year, err := s.ListPolicies(ctx, engine.PolicyFilter{ApplicationYear: 2025})
	require.NoError(t, err)
	assert.Len(t, year, 2)

	byName, err := s.ListPolicies(ctx, engine.PolicyFilter{Search: "mendez"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, engine.PolicyID("v1"), byName[0].ID)

	byStandard, err := s.ListPolicies(ctx, engine.PolicyFilter{Search: "333G"})
	require.NoError(t, err)
	assert.Len(t, byStandard, 1)

	noAgent, err := s.ListPolicies(ctx, engine.PolicyFilter{AgentCode: "NOPE"})
	require.NoError(t, err)
	assert.Empty(t, noAgent)
}

func testListPoliciesOrderAndPaging(t *testing.T, s engine.Store) {
	ctx := context.Background()
	for i, m := range []time.Month{time.February, time.July, time.April} {
		p := policy(string(rune('a'+i)), string(rune('A'+i))+"1", date(2025, m, 1))
		require.NoError(t, s.SavePolicy(ctx, p))
	}

	all, err := s.ListPolicies(ctx, engine.PolicyFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []engine.PolicyID{"b", "c", "a"}, []engine.PolicyID{all[0].ID, all[1].ID, all[2].ID},
		"newest start date first")

	page, err := s.ListPolicies(ctx, engine.PolicyFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, engine.PolicyID("c"), page[0].ID)

	tail, err := s.ListPolicies(ctx, engine.PolicyFilter{Offset: 2})
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, engine.PolicyID("a"), tail[0].ID)
}

func testSnapshots(t *testing.T, s engine.Store) {
	ctx := context.Background()
	require.NoError(t, s.SavePolicy(ctx, policy("p1", "1A", date(2025, time.March, 1))))

	snap := engine.ClassificationSnapshot{
		Classification: engine.Classification{
			Category:        engine.CategoryNueva,
			Tier:            engine.TierBasica,
			CommissionRatio: decimal.NewNullDecimal(decimal.RequireFromString("0.028")),
		},
		AnalysisYear: 2025,
	}
	require.NoError(t, s.SaveSnapshots(ctx, map[engine.PolicyID]engine.ClassificationSnapshot{"p1": snap}))

	got, err := s.GetPolicy(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got.Snapshot)
	assert.Equal(t, 2025, got.Snapshot.AnalysisYear)
	assert.True(t, got.Snapshot.Matches(snap.Classification))

	// Unknown ids fail the whole batch
	other := snap
	other.Category = engine.CategorySubsecuente
	err = s.SaveSnapshots(ctx, map[engine.PolicyID]engine.ClassificationSnapshot{"p1": other, "ghost": other})
	assert.True(t, errors.Is(err, engine.ErrNotFound))

	got, err = s.GetPolicy(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, engine.CategoryNueva, got.Snapshot.Category, "failed batch leaves snapshots untouched")
}

// =============================================================================
// AGENTS & PRODUCTS
// =============================================================================

func testAgents(t *testing.T, s engine.Store) {
	ctx := context.Background()

	a := engine.Agent{ID: "a1", Code: "625112", Name: "Beatriz Soto", Status: engine.AgentActive,
		Territory: "CDMX", Office: "Reforma", Management: "Norte", Promoter: "MAG", Segment: "ALFA TOP"}
	b := engine.Agent{ID: "a2", Code: "700001", Name: "Alberto Diaz", Status: engine.AgentCancelled}
	require.NoError(t, s.SaveAgent(ctx, a))
	require.NoError(t, s.SaveAgent(ctx, b))

	err := s.SaveAgent(ctx, engine.Agent{ID: "a3", Code: "625112", Name: "Dup", Status: engine.AgentActive})
	assert.True(t, errors.Is(err, engine.ErrConflict))

	got, err := s.GetAgentByCode(ctx, "625112")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.Territory, got.Territory)
	assert.Equal(t, a.Segment, got.Segment)

	got, err = s.GetAgent(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, engine.AgentCancelled, got.Status)

	_, err = s.GetAgent(ctx, "missing")
	assert.True(t, errors.Is(err, engine.ErrNotFound))
	_, err = s.GetAgentByCode(ctx, "missing")
	assert.True(t, errors.Is(err, engine.ErrNotFound))

	all, err := s.ListAgents(ctx, engine.AgentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Alberto Diaz", all[0].Name, "ordered by name")

	active, err := s.ListAgents(ctx, engine.AgentFilter{Status: engine.AgentActive})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	search, err := s.ListAgents(ctx, engine.AgentFilter{Search: "soto"})
	require.NoError(t, err)
	assert.Len(t, search, 1)
}

func testProducts(t *testing.T, s engine.Store) {
	ctx := context.Background()

	gmm := engine.Product{ID: "pr1", Ramo: engine.RamoGMM, RamoName: "GMM", Plan: "FLEX", Gama: "PLUS"}
	life := engine.Product{ID: "pr2", Ramo: engine.RamoVida, RamoName: "VIDA", Plan: "TEMPORAL"}
	require.NoError(t, s.SaveProduct(ctx, gmm))
	require.NoError(t, s.SaveProduct(ctx, life))

	err := s.SaveProduct(ctx, engine.Product{ID: "pr3", Ramo: engine.RamoGMM, RamoName: "GMM", Plan: "FLEX", Gama: "PLUS"})
	assert.True(t, errors.Is(err, engine.ErrConflict))

	got, err := s.GetProduct(ctx, "pr1")
	require.NoError(t, err)
	assert.Equal(t, gmm, got)

	_, err = s.GetProduct(ctx, "missing")
	assert.True(t, errors.Is(err, engine.ErrNotFound))

	all, err := s.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, engine.RamoVida, all[0].Ramo, "ordered by ramo code")
}

// =============================================================================
// INDICATORS
// =============================================================================

func testIndicatorsAppendOnly(t *testing.T, s engine.Store) {
	ctx := context.Background()
	received := date(2025, time.April, 2)

	first := []engine.ExternalIndicator{
		{ID: "i1", Period: "2025-03", PolicyNumber: "76384A", AgentCode: "625112", Ramo: "GMM",
			FirstYearPremium: decimal.RequireFromString("1000.10"), IsNew: true, ReceivedAt: &received},
		{ID: "i2", Period: "2025-03", PolicyNumber: "11111B", IsNew: false, FirstYearPremium: decimal.Zero},
	}
	require.NoError(t, s.AppendIndicators(ctx, first))
	require.NoError(t, s.AppendIndicators(ctx, []engine.ExternalIndicator{
		{ID: "i3", Period: "2025-02", PolicyNumber: "22222C", FirstYearPremium: decimal.Zero},
		{ID: "i4", Period: "2025-03", PolicyNumber: "76384A", IsNew: false, FirstYearPremium: decimal.Zero},
	}))

	// A batch with a duplicate id is rejected whole
	err := s.AppendIndicators(ctx, []engine.ExternalIndicator{
		{ID: "i5", Period: "2025-03", PolicyNumber: "X", FirstYearPremium: decimal.Zero},
		{ID: "i1", Period: "2025-03", PolicyNumber: "Y", FirstYearPremium: decimal.Zero},
	})
	assert.True(t, errors.Is(err, engine.ErrConflict))

	march, err := s.ListIndicators(ctx, "2025-03")
	require.NoError(t, err)
	require.Len(t, march, 3, "corrections are appended, nothing replaced")
	assert.Equal(t, []string{"i1", "i2", "i4"}, []string{march[0].ID, march[1].ID, march[2].ID})
	assert.Equal(t, "625112", march[0].AgentCode)
	assert.True(t, march[0].IsNew)
	assert.True(t, decimal.RequireFromString("1000.10").Equal(march[0].FirstYearPremium))
	require.NotNil(t, march[0].ReceivedAt)
	assert.Equal(t, "2025-04-02", march[0].ReceivedAt.String())

	none, err := s.ListIndicators(ctx, "2024-01")
	require.NoError(t, err)
	assert.Empty(t, none)

	periods, err := s.ListPeriods(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03", "2025-02"}, periods)
}

// =============================================================================
// CONFIGURATION & GOALS
// =============================================================================

func testConfig(t *testing.T, s engine.Store) {
	ctx := context.Background()

	// Seeded defaults load into a valid engine
	eng, err := engine.NewFromSource(ctx, s)
	require.NoError(t, err)
	assert.True(t, engine.DefaultConfig().CommissionThreshold.Equal(eng.Config().CommissionThreshold))

	entries, err := s.ListConfig(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, len(engine.DefaultEntries()))
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		assert.True(t, prev.Group < cur.Group || (prev.Group == cur.Group && prev.Key < cur.Key),
			"ordered by group then key")
	}

	require.NoError(t, s.SetConfigValue(ctx, engine.KeyUrgentDays, "25"))
	v, found, err := s.GetConfigValue(ctx, engine.KeyUrgentDays)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "25", v)

	_, found, err = s.GetConfigValue(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	err = s.SetConfigValue(ctx, "missing", "1")
	assert.True(t, errors.Is(err, engine.ErrNotFound))
}

func testGoals(t *testing.T, s engine.Store) {
	ctx := context.Background()

	_, err := s.GetGoal(ctx, 2025)
	assert.True(t, errors.Is(err, engine.ErrNotFound))

	g := engine.Goal{Year: 2025, LifePolicies: 40, LifePremium: decimal.RequireFromString("2000000"),
		GMMPolicies: 60, GMMInsured: 150, GMMPremium: decimal.RequireFromString("3500000.50")}
	require.NoError(t, s.SaveGoal(ctx, g))

	g.GMMPolicies = 65
	require.NoError(t, s.SaveGoal(ctx, g), "saving again replaces")

	got, err := s.GetGoal(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, 65, got.GMMPolicies)
	assert.Equal(t, 150, got.GMMInsured)
	assert.True(t, g.GMMPremium.Equal(got.GMMPremium))
	assert.True(t, g.LifePremium.Equal(got.LifePremium))
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

func testRuns(t *testing.T, s engine.Store) {
	ctx := context.Background()
	base := time.Date(2025, time.April, 1, 10, 0, 0, 0, time.UTC)

	first := engine.ReconciliationRun{
		ID:      "r1",
		Period:  "2025-03",
		Options: engine.ReconcileOptions{Bidirectional: true},
		Summary: engine.Summary{Total: 2, Match: 1, InsurerOnly: 1, MatchPct: 50},
		Items: []engine.RunItem{
			{IndicatorID: "i1", PolicyID: "p1", PolicyNumber: "76384A", Verdict: engine.VerdictMatch,
				InternalCategory: engine.CategoryNueva, InsurerIsNew: true},
			{IndicatorID: "i2", PolicyNumber: "99999Z", Verdict: engine.VerdictInsurerOnly,
				Discrepancy: "policy in insurer feed not found internally", Ambiguous: false},
		},
		CreatedAt: base,
	}
	second := engine.ReconciliationRun{ID: "r2", Period: "2025-03", CreatedAt: base.Add(time.Minute)}
	other := engine.ReconciliationRun{ID: "r3", Period: "2025-02", CreatedAt: base.Add(2 * time.Minute)}
	for _, r := range []engine.ReconciliationRun{first, second, other} {
		require.NoError(t, s.SaveRun(ctx, r))
	}
	assert.True(t, errors.Is(s.SaveRun(ctx, first), engine.ErrConflict))

	runs, err := s.ListRuns(ctx, "2025-03")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID, "newest first")
	assert.Empty(t, runs[1].Items, "listing omits items")
	assert.Equal(t, 50, runs[1].Summary.MatchPct)
	assert.True(t, runs[1].Options.Bidirectional)

	all, err := s.ListRuns(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, base.Equal(got.CreatedAt))
	require.Len(t, got.Items, 2)
	assert.Equal(t, first.Items[0], got.Items[0])
	assert.Equal(t, first.Items[1], got.Items[1])

	_, err = s.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, engine.ErrNotFound))
}
