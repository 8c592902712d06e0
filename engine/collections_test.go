package engine_test

import (
	"testing"
	"time"

	"github.com/mag/policy-engine/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestDaysToExpiry(t *testing.T) {
	days, ok := engine.DaysToExpiry(datePtr(2026, time.March, 25), date(2026, time.February, 23))
	require.True(t, ok)
	assert.Equal(t, 30, days)

	days, ok = engine.DaysToExpiry(datePtr(2026, time.February, 20), date(2026, time.February, 23))
	require.True(t, ok)
	assert.Equal(t, -3, days)

	_, ok = engine.DaysToExpiry(nil, date(2026, time.February, 23))
	assert.False(t, ok)
}

func TestDaysToExpiry_IgnoresTimeOfDay(t *testing.T) {
	ref := engine.DateOf(time.Date(2026, time.February, 23, 23, 59, 0, 0, time.UTC))
	days, ok := engine.DaysToExpiry(datePtr(2026, time.March, 25), ref)
	require.True(t, ok)
	assert.Equal(t, 30, days)
}

func TestPriorityTier(t *testing.T) {
	eng := defaultEngine()
	zero := dec("0")
	owed := dec("500")

	cases := []struct {
		name    string
		days    *int
		pending string
		status  string
		want    engine.Priority
	}{
		{"paid and settled", intPtr(-10), "0", "PAGADA", engine.PriorityPagado},
		{"paid with balance", intPtr(10), "500", "PAGADA", engine.PriorityUrgente},
		{"cancelled", intPtr(200), "500", "CANC/X F.PAGO", engine.PriorityCritico},
		{"cancelled no end date", nil, "500", "CANC/X SUSTITUCION", engine.PriorityCritico},
		{"no end date", nil, "500", "", engine.PriorityAlDia},
		{"expired", intPtr(-1), "500", "", engine.PriorityCritico},
		{"due today", intPtr(0), "500", "", engine.PriorityUrgente},
		{"urgent edge", intPtr(30), "500", "", engine.PriorityUrgente},
		{"attention start", intPtr(31), "500", "", engine.PriorityAtencion},
		{"attention edge", intPtr(60), "500", "", engine.PriorityAtencion},
		{"far", intPtr(61), "500", "", engine.PriorityAlDia},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pending := owed
			if tc.pending == "0" {
				pending = zero
			}
			assert.Equal(t, tc.want, eng.PriorityTier(tc.days, pending, tc.status))
		})
	}
}

func TestPriorityTier_UsesConfiguredBands(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.Bands.UrgentDays = 10
	cfg.Bands.AttentionDays = 20
	eng, err := engine.New(cfg)
	require.NoError(t, err)

	assert.Equal(t, engine.PriorityAtencion, eng.PriorityTier(intPtr(15), dec("1"), ""))
	assert.Equal(t, engine.PriorityAlDia, eng.PriorityTier(intPtr(25), dec("1"), ""))
}

func TestPriority_RankAndParse(t *testing.T) {
	assert.Less(t, engine.PriorityCritico.Rank(), engine.PriorityUrgente.Rank())
	assert.Less(t, engine.PriorityUrgente.Rank(), engine.PriorityAtencion.Rank())
	assert.Less(t, engine.PriorityAtencion.Rank(), engine.PriorityAlDia.Rank())
	assert.Less(t, engine.PriorityAlDia.Rank(), engine.PriorityPagado.Rank())

	p, ok := engine.ParsePriority("urgente")
	assert.True(t, ok)
	assert.Equal(t, engine.PriorityUrgente, p)

	_, ok = engine.ParsePriority("LATER")
	assert.False(t, ok)
}

func TestRenewalState(t *testing.T) {
	eng := defaultEngine()
	ref := date(2026, time.February, 23)

	expiring := gmm("a", "76384A00", date(2025, time.March, 25), "PAGADA", "1000")
	expiring.EndDate = datePtr(2026, time.March, 25)

	successor := gmm("b", "76384A01", date(2026, time.March, 25), "", "1000")
	unrelated := gmm("c", "11111B00", date(2026, time.March, 25), "", "1000")

	// GIVEN: A policy expiring in 30 days with a later version on the books
	state, ok := eng.RenewalState(expiring, []engine.Policy{expiring, unrelated, successor}, ref)
	require.True(t, ok)
	assert.Equal(t, engine.RenewalRenovada, state)

	// GIVEN: No successor yet
	state, ok = eng.RenewalState(expiring, []engine.Policy{expiring, unrelated}, ref)
	require.True(t, ok)
	assert.Equal(t, engine.RenewalPendiente, state)

	// GIVEN: Already expired without successor
	state, ok = eng.RenewalState(expiring, nil, date(2026, time.April, 1))
	require.True(t, ok)
	assert.Equal(t, engine.RenewalVencida, state)
}

func TestRenewalState_OutsideWindow(t *testing.T) {
	eng := defaultEngine()
	p := gmm("a", "1A00", date(2025, time.March, 25), "PAGADA", "1000")
	p.EndDate = datePtr(2026, time.March, 25)

	_, ok := eng.RenewalState(p, nil, date(2025, time.December, 1))
	assert.False(t, ok, "115 days ahead is outside the window")

	_, ok = eng.RenewalState(p, nil, date(2026, time.July, 1))
	assert.False(t, ok, "98 days past is outside the window")

	_, ok = eng.RenewalState(p, nil, date(2025, time.December, 25))
	assert.True(t, ok, "90 days ahead is inside the window")

	noEnd := p
	noEnd.EndDate = nil
	_, ok = eng.RenewalState(noEnd, nil, date(2026, time.March, 1))
	assert.False(t, ok)
}

func TestRenewalState_EarlierVersionIsNotSuccessor(t *testing.T) {
	eng := defaultEngine()
	p := gmm("a", "1A01", date(2025, time.March, 25), "PAGADA", "1000")
	p.EndDate = datePtr(2026, time.March, 25)
	earlier := gmm("b", "1A00", date(2024, time.March, 25), "PAGADA", "1000")

	state, ok := eng.RenewalState(p, []engine.Policy{earlier}, date(2026, time.March, 1))
	require.True(t, ok)
	assert.Equal(t, engine.RenewalPendiente, state)
}

func TestReceiptsPerYear(t *testing.T) {
	assert.Equal(t, 12, engine.ReceiptsPerYear("MENSUAL"))
	assert.Equal(t, 6, engine.ReceiptsPerYear("bimestral"))
	assert.Equal(t, 4, engine.ReceiptsPerYear("TRIMESTRAL"))
	assert.Equal(t, 2, engine.ReceiptsPerYear("SEMESTRAL"))
	assert.Equal(t, 1, engine.ReceiptsPerYear("ANUAL"))
	assert.Equal(t, 1, engine.ReceiptsPerYear(""))
}

func TestReceiptPosition(t *testing.T) {
	start := date(2025, time.March, 15)

	cases := []struct {
		name    string
		form    string
		ref     engine.Date
		current int
		total   int
		nextDue engine.Date
	}{
		{"monthly before day of month", "MENSUAL", date(2025, time.June, 10), 3, 12, date(2025, time.June, 15)},
		{"monthly on day of month", "MENSUAL", date(2025, time.June, 15), 4, 12, date(2025, time.July, 15)},
		{"before start", "MENSUAL", date(2025, time.January, 1), 1, 12, date(2025, time.April, 15)},
		{"capped", "MENSUAL", date(2027, time.January, 1), 12, 12, date(2026, time.March, 15)},
		{"semiannual", "SEMESTRAL", date(2025, time.October, 1), 2, 2, date(2026, time.March, 15)},
		{"annual", "ANUAL", date(2026, time.January, 1), 1, 1, date(2026, time.March, 15)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := engine.ReceiptPosition(start, tc.form, tc.ref)
			assert.Equal(t, tc.current, s.Current)
			assert.Equal(t, tc.total, s.Total)
			assert.Equal(t, tc.nextDue.String(), s.NextDue.String())
		})
	}
}
