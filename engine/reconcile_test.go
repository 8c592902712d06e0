package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mag/policy-engine/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indicator(id, period, number string, isNew bool) engine.ExternalIndicator {
	return engine.ExternalIndicator{ID: id, Period: period, PolicyNumber: number, IsNew: isNew}
}

func TestReconcile_InsurerOnly(t *testing.T) {
	// GIVEN: An indicator with no internal policy
	inds := []engine.ExternalIndicator{indicator("i1", "2025-03", "999X", true)}

	// WHEN: Reconciled against an empty book
	r, err := engine.Reconcile(inds, nil, "2025-03", engine.ReconcileOptions{})
	require.NoError(t, err)

	// THEN: The result is INSURER_ONLY
	require.Len(t, r.Results, 1)
	assert.Equal(t, engine.VerdictInsurerOnly, r.Results[0].Verdict)
	assert.Nil(t, r.Results[0].Policy)
	assert.Empty(t, r.Results[0].InternalCategory)
	assert.NotEmpty(t, r.Results[0].Discrepancy)
	assert.Equal(t, 1, r.Summary.InsurerOnly)
	assert.Equal(t, 0, r.Summary.MatchPct)
}

func TestReconcile_AllMatch(t *testing.T) {
	// GIVEN: Two internal policies agreeing with the feed
	newPolicy := gmm("a", "0076384A", date(2025, time.March, 1), "PAGADA", "1000")
	oldPolicy := gmm("b", "0011111B", date(2024, time.March, 1), "PAGADA", "1000")
	book := []engine.ClassifiedPolicy{classified(newPolicy, 2025), classified(oldPolicy, 2025)}

	inds := []engine.ExternalIndicator{
		indicator("i1", "2025-03", "76384A", true),
		indicator("i2", "2025-03", "0011111B", false), // matched on the original number
	}

	// WHEN: Reconciled
	r, err := engine.Reconcile(inds, book, "2025-03", engine.ReconcileOptions{})
	require.NoError(t, err)

	// THEN: Both match and the percentage is 100
	require.Len(t, r.Results, 2)
	for _, res := range r.Results {
		assert.Equal(t, engine.VerdictMatch, res.Verdict)
		assert.Empty(t, res.Discrepancy)
		assert.False(t, res.Ambiguous)
	}
	assert.Equal(t, engine.PolicyID("a"), r.Results[0].Policy.ID)
	assert.Equal(t, engine.CategoryNueva, r.Results[0].InternalCategory)
	assert.Equal(t, engine.CategorySubsecuente, r.Results[1].InternalCategory)
	assert.Equal(t, 2, r.Summary.Match)
	assert.Equal(t, 100, r.Summary.MatchPct)
}

func TestReconcile_Mismatch(t *testing.T) {
	// GIVEN: The insurer says new, internally the policy is SUBSECUENTE
	p := gmm("a", "500A", date(2024, time.March, 1), "PAGADA", "1000")
	book := []engine.ClassifiedPolicy{classified(p, 2025)}
	inds := []engine.ExternalIndicator{indicator("i1", "2025-03", "500A", true)}

	// WHEN: Reconciled
	r, err := engine.Reconcile(inds, book, "2025-03", engine.ReconcileOptions{})
	require.NoError(t, err)

	// THEN: The discrepancy names both sides
	require.Len(t, r.Results, 1)
	assert.Equal(t, engine.VerdictMismatch, r.Results[0].Verdict)
	assert.Equal(t, "Internal: SUBSECUENTE, Insurer: NEW", r.Results[0].Discrepancy)
	assert.Equal(t, 1, r.Summary.Mismatch)
}

func TestReconcile_MismatchNotNew(t *testing.T) {
	p := gmm("a", "500A", date(2025, time.March, 1), "PAGADA", "1000")
	book := []engine.ClassifiedPolicy{classified(p, 2025)}
	inds := []engine.ExternalIndicator{indicator("i1", "2025-03", "500A", false)}

	r, err := engine.Reconcile(inds, book, "2025-03", engine.ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Internal: NUEVA, Insurer: NOT NEW", r.Results[0].Discrepancy)
}

func TestReconcile_MatchPercentRounds(t *testing.T) {
	// GIVEN: Two matches out of three results
	a := gmm("a", "1A", date(2025, time.March, 1), "PAGADA", "1000")
	b := gmm("b", "2A", date(2025, time.March, 1), "PAGADA", "1000")
	book := []engine.ClassifiedPolicy{classified(a, 2025), classified(b, 2025)}
	inds := []engine.ExternalIndicator{
		indicator("i1", "2025-03", "1A", true),
		indicator("i2", "2025-03", "2A", true),
		indicator("i3", "2025-03", "3A", true),
	}

	r, err := engine.Reconcile(inds, book, "2025-03", engine.ReconcileOptions{})
	require.NoError(t, err)

	// THEN: 66.67 rounds to 67
	assert.Equal(t, 3, r.Summary.Total)
	assert.Equal(t, 67, r.Summary.MatchPct)
}

func TestReconcile_IgnoresOtherPeriods(t *testing.T) {
	inds := []engine.ExternalIndicator{
		indicator("i1", "2025-02", "1A", true),
		indicator("i2", "2025-03", "2A", true),
	}

	r, err := engine.Reconcile(inds, nil, "2025-03", engine.ReconcileOptions{})
	require.NoError(t, err)
	require.Len(t, r.Results, 1)
	assert.Equal(t, "i2", r.Results[0].Indicator.ID)
}

func TestReconcile_Ambiguous(t *testing.T) {
	// GIVEN: Two internal policies that normalize to the same number
	first := gmm("first", "0076384A", date(2025, time.March, 1), "PAGADA", "1000")
	second := gmm("second", "076384A", date(2024, time.March, 1), "PAGADA", "1000")
	book := []engine.ClassifiedPolicy{classified(first, 2025), classified(second, 2025)}
	inds := []engine.ExternalIndicator{indicator("i1", "2025-03", "76384A", true)}

	// WHEN: Reconciled leniently
	r, err := engine.Reconcile(inds, book, "2025-03", engine.ReconcileOptions{})
	require.NoError(t, err)

	// THEN: The first candidate decides and the result is flagged
	require.Len(t, r.Results, 1)
	res := r.Results[0]
	assert.Equal(t, engine.PolicyID("first"), res.Policy.ID)
	assert.Equal(t, engine.VerdictMatch, res.Verdict)
	assert.True(t, res.Ambiguous)
	assert.Equal(t, []engine.PolicyID{"first", "second"}, res.Candidates)
	assert.Equal(t, 1, r.Summary.Ambiguous)
}

func TestReconcile_StrictFailsOnAmbiguity(t *testing.T) {
	first := gmm("first", "0076384A", date(2025, time.March, 1), "PAGADA", "1000")
	second := gmm("second", "076384A", date(2024, time.March, 1), "PAGADA", "1000")
	book := []engine.ClassifiedPolicy{classified(first, 2025), classified(second, 2025)}
	inds := []engine.ExternalIndicator{indicator("i1", "2025-03", "76384A", true)}

	_, err := engine.Reconcile(inds, book, "2025-03", engine.ReconcileOptions{Strict: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrAmbiguousMatch))

	var ae *engine.AmbiguousMatchError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "76384A", ae.PolicyNumber)
	assert.Len(t, ae.Candidates, 2)
}

func TestReconcile_SamePolicyOnBothNumbersIsNotAmbiguous(t *testing.T) {
	// GIVEN: A policy whose original and standard numbers differ
	p := gmm("a", "0076384A", date(2025, time.March, 1), "PAGADA", "1000")
	p.StandardNumber = "0076384A" // stored unnormalized
	book := []engine.ClassifiedPolicy{classified(p, 2025)}
	inds := []engine.ExternalIndicator{indicator("i1", "2025-03", "0076384A", true)}

	r, err := engine.Reconcile(inds, book, "2025-03", engine.ReconcileOptions{Strict: true})
	require.NoError(t, err)
	assert.False(t, r.Results[0].Ambiguous)
}

func TestReconcile_Bidirectional(t *testing.T) {
	// GIVEN: A new policy applied in March that the feed never names
	named := gmm("a", "1A", date(2025, time.March, 1), "PAGADA", "1000")
	silent := gmm("b", "2A", date(2025, time.March, 10), "PAGADA", "1000")
	otherMonth := gmm("c", "3A", date(2025, time.April, 1), "PAGADA", "1000")
	notNew := gmm("d", "4A", date(2024, time.March, 1), "PAGADA", "1000")
	notNew.ApplicationPeriod = "2025-03"

	book := []engine.ClassifiedPolicy{
		classified(named, 2025), classified(silent, 2025), classified(otherMonth, 2025), classified(notNew, 2025),
	}
	inds := []engine.ExternalIndicator{indicator("i1", "2025-03", "1A", true)}

	// WHEN: Reconciled with and without the reverse pass
	plain, err := engine.Reconcile(inds, book, "2025-03", engine.ReconcileOptions{})
	require.NoError(t, err)
	both, err := engine.Reconcile(inds, book, "2025-03", engine.ReconcileOptions{Bidirectional: true})
	require.NoError(t, err)

	// THEN: Only the reverse pass reports the silent policy
	assert.Len(t, plain.Results, 1)
	require.Len(t, both.Results, 2)
	last := both.Results[1]
	assert.Equal(t, engine.VerdictInternalOnly, last.Verdict)
	assert.Nil(t, last.Indicator)
	assert.Equal(t, engine.PolicyID("b"), last.Policy.ID)
	assert.Equal(t, 1, both.Summary.InternalOnly)
	assert.Equal(t, 50, both.Summary.MatchPct)
}

func TestReconcile_InvalidPeriod(t *testing.T) {
	for _, period := range []string{"", "2025-13", "2025/03", "25-03"} {
		_, err := engine.Reconcile(nil, nil, period, engine.ReconcileOptions{})
		assert.True(t, errors.Is(err, engine.ErrValidation), "period %q", period)
	}
}
