/*
service_test.go - Collections ledger tests

FIXTURE (reference date 2026-02-23, every policy applied in 2026 unless noted):
  A1   expired 10 days ago, unpaid                 -> CRITICO
  B100 expires in 15 days, partly paid             -> URGENTE (renewed by B101)
  C1   expires in 50 days                          -> ATENCION
  D1   fully paid, last payment 2026-01-03         -> PAGADO, year boundary
  E1   cancelled for non-payment                   -> CRITICO, cancellation
  F1   no end date                                 -> AL_DIA
  B101 successor of B100, applied in 2027
*/
package collections_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mag/policy-engine/collections"
	"github.com/mag/policy-engine/engine"
	"github.com/mag/policy-engine/engine/store"
	"github.com/mag/policy-engine/factory"
	"github.com/mag/policy-engine/portfolio"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ref = engine.NewDate(2026, time.February, 23)

func money(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func gmm(number, start, end, net, paid, status string) factory.PolicyJSON {
	return factory.PolicyJSON{
		Number: number, Ramo: 34, StartDate: start, EndDate: end,
		NetPremium: money(net), PaidPremium: money(paid), ReceiptStatus: status,
	}
}

func seed(t *testing.T) *collections.Service {
	t.Helper()
	ctx := context.Background()
	p := portfolio.New(store.NewMemory())

	_, err := p.CreateAgent(ctx, factory.AgentJSON{Code: "100", Name: "Ana"})
	require.NoError(t, err)

	a := gmm("A1", "2026-01-10", "2026-02-13", "1000", "0", "")
	a.AgentCode = "100"
	b := gmm("B100", "2026-01-05", "2026-03-10", "2000", "500", "")
	b.AgentCode = "100"
	b.PaymentForm = "MENSUAL"
	d := gmm("D1", "2026-01-20", "2027-01-20", "4000", "4000", "PAGADA")
	d.LastPaymentDate = "2026-01-03"
	successor := gmm("B101", "2026-03-10", "2027-03-10", "2100", "0", "")
	successor.ApplicationYear = 2027

	for _, pj := range []factory.PolicyJSON{
		a, b,
		gmm("C1", "2026-02-01", "2026-04-14", "3000", "0", ""),
		d,
		gmm("E1", "2026-01-15", "2027-01-15", "5000", "0", "CANC/X F.PAGO"),
		gmm("F1", "2026-02-10", "", "600", "0", ""),
		successor,
	} {
		_, err := p.CreatePolicy(ctx, pj)
		require.NoError(t, err, pj.Number)
	}
	return collections.New(p)
}

func numbers(debtors []collections.Debtor) []string {
	out := make([]string, len(debtors))
	for i, d := range debtors {
		out[i] = d.Policy.Number
	}
	return out
}

func TestBuild_Debtors(t *testing.T) {
	svc := seed(t)

	l, err := svc.Build(context.Background(), ref, collections.Filter{})
	require.NoError(t, err)

	assert.Equal(t, 2026, l.Year)
	assert.Equal(t, []string{"A1", "E1", "B100", "C1", "F1", "D1"}, numbers(l.Debtors),
		"tier rank, then days to expiry")

	byNumber := make(map[string]collections.Debtor)
	for _, d := range l.Debtors {
		byNumber[d.Policy.Number] = d
	}
	assert.Equal(t, engine.PriorityCritico, byNumber["A1"].Priority)
	assert.Equal(t, -10, *byNumber["A1"].DaysToExpiry)
	assert.Equal(t, "Ana", byNumber["A1"].AgentName)
	assert.Equal(t, engine.PriorityUrgente, byNumber["B100"].Priority)
	assert.True(t, decimal.NewFromInt(1500).Equal(byNumber["B100"].Pending))
	assert.Equal(t, 2, byNumber["B100"].Receipt.Current)
	assert.Equal(t, 12, byNumber["B100"].Receipt.Total)
	assert.Equal(t, engine.PriorityAtencion, byNumber["C1"].Priority)
	assert.Equal(t, engine.PriorityPagado, byNumber["D1"].Priority)
	assert.True(t, byNumber["D1"].YearBoundary)
	assert.Equal(t, engine.PriorityCritico, byNumber["E1"].Priority)
	assert.Equal(t, engine.PriorityAlDia, byNumber["F1"].Priority)
	assert.Nil(t, byNumber["F1"].DaysToExpiry)
}

func TestBuild_Summary(t *testing.T) {
	svc := seed(t)

	l, err := svc.Build(context.Background(), ref, collections.Filter{})
	require.NoError(t, err)

	s := l.Summary
	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 2, s.Critico)
	assert.Equal(t, 1, s.Urgente)
	assert.Equal(t, 1, s.Atencion)
	assert.Equal(t, 1, s.AlDia)
	assert.Equal(t, 1, s.Pagado)
	assert.True(t, decimal.NewFromInt(15600).Equal(s.Expected))
	assert.True(t, decimal.NewFromInt(4500).Equal(s.Collected))
	assert.True(t, decimal.NewFromInt(11100).Equal(s.PremiumToCollect))
	assert.Equal(t, "28.85", s.CollectionPct.Round(2).String())
}

func TestBuild_RenewalsAndCancellations(t *testing.T) {
	svc := seed(t)

	l, err := svc.Build(context.Background(), ref, collections.Filter{})
	require.NoError(t, err)

	require.Len(t, l.Renewals, 3)
	assert.Equal(t, "A1", l.Renewals[0].Policy.Number)
	assert.Equal(t, engine.RenewalVencida, l.Renewals[0].State)
	assert.Equal(t, "B100", l.Renewals[1].Policy.Number)
	assert.Equal(t, engine.RenewalRenovada, l.Renewals[1].State, "successor applied in another year still counts")
	assert.Equal(t, "C1", l.Renewals[2].Policy.Number)
	assert.Equal(t, engine.RenewalPendiente, l.Renewals[2].State)

	require.Len(t, l.Cancellations, 1)
	assert.Equal(t, "E1", l.Cancellations[0].Policy.Number)
	assert.True(t, decimal.NewFromInt(5000).Equal(l.Cancellations[0].LostPremium))
	assert.Equal(t, "CANC/X F.PAGO", l.Cancellations[0].Reason)
}

func TestBuild_Alerts(t *testing.T) {
	svc := seed(t)

	l, err := svc.Build(context.Background(), ref, collections.Filter{})
	require.NoError(t, err)

	kinds := make(map[collections.AlertKind]collections.Alert)
	for _, a := range l.Alerts {
		kinds[a.Kind] = a
	}
	require.Len(t, kinds, 4)

	assert.Equal(t, 2, kinds[collections.AlertCritical].Count)
	assert.True(t, decimal.NewFromInt(6000).Equal(kinds[collections.AlertCritical].Amount))
	assert.Equal(t, 10, kinds[collections.AlertCritical].Days)
	assert.Equal(t, 1, kinds[collections.AlertUrgent].Count)
	assert.Equal(t, 1, kinds[collections.AlertCancelled].Count)
	assert.Equal(t, 1, kinds[collections.AlertYearBoundary].Count)
	assert.True(t, decimal.NewFromInt(4000).Equal(kinds[collections.AlertYearBoundary].Amount))

	_, ok := kinds[collections.AlertRenewal]
	assert.False(t, ok, "C1 is pending but beyond the urgent horizon")
}

func TestBuild_RenewalAlert(t *testing.T) {
	ctx := context.Background()
	p := portfolio.New(store.NewMemory())
	_, err := p.CreatePolicy(ctx, gmm("R1", "2025-03-10", "2026-03-10", "900", "900", "PAGADA"))
	require.NoError(t, err)

	l, err := collections.New(p).Build(ctx, ref, collections.Filter{Year: 2025})
	require.NoError(t, err)

	require.Len(t, l.Alerts, 1)
	assert.Equal(t, collections.AlertRenewal, l.Alerts[0].Kind)
	assert.Equal(t, 30, l.Alerts[0].Days)
	assert.True(t, decimal.NewFromInt(900).Equal(l.Alerts[0].Amount))
}

func TestBuild_FollowUp(t *testing.T) {
	svc := seed(t)

	l, err := svc.Build(context.Background(), ref, collections.Filter{})
	require.NoError(t, err)

	require.Len(t, l.FollowUp, 12)
	jan, feb := l.FollowUp[0], l.FollowUp[1]
	assert.Equal(t, "2026-01", jan.Period)
	assert.Equal(t, 4, jan.Policies)
	assert.True(t, decimal.NewFromInt(12000).Equal(jan.Expected))
	assert.True(t, decimal.NewFromInt(4500).Equal(jan.Collected))
	assert.Equal(t, "37.5", jan.Pct.String())
	assert.Equal(t, 2, feb.Policies)
	assert.True(t, l.FollowUp[5].Pct.IsZero())
}

func TestBuild_Filters(t *testing.T) {
	svc := seed(t)
	ctx := context.Background()

	// Priority narrows debtors only
	l, err := svc.Build(ctx, ref, collections.Filter{Priority: engine.PriorityCritico})
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "E1"}, numbers(l.Debtors))
	assert.Equal(t, 6, l.Summary.Total)

	// Agent narrows the whole book
	l, err = svc.Build(ctx, ref, collections.Filter{AgentCode: "100"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "B100"}, numbers(l.Debtors))
	assert.Equal(t, 2, l.Summary.Total)
	assert.Empty(t, l.Cancellations)

	// Life has nothing
	l, err = svc.Build(ctx, ref, collections.Filter{Ramo: engine.RamoVida})
	require.NoError(t, err)
	assert.Empty(t, l.Debtors)
	assert.Empty(t, l.Alerts)
}

func TestBuild_InvalidInput(t *testing.T) {
	svc := seed(t)
	ctx := context.Background()

	_, err := svc.Build(ctx, engine.Date{}, collections.Filter{})
	assert.True(t, errors.Is(err, engine.ErrValidation))

	_, err = svc.Build(ctx, ref, collections.Filter{Priority: "LATER"})
	assert.True(t, errors.Is(err, engine.ErrValidation))
}
