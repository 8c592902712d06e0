package settings_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mag/policy-engine/engine"
	"github.com/mag/policy-engine/engine/store"
	"github.com/mag/policy-engine/factory"
	"github.com/mag/policy-engine/settings"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateConfig_RuleKey(t *testing.T) {
	ctx := context.Background()
	svc := settings.New(store.NewMemory())

	// GIVEN: The default rules
	// WHEN: The urgent band is shortened
	e, err := svc.UpdateConfig(ctx, engine.KeyUrgentDays, "20")
	require.NoError(t, err)

	// THEN: The entry and the rules in effect reflect it
	assert.Equal(t, "20", e.Value)
	assert.Equal(t, "cobranza", e.Group)

	rules, err := svc.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, rules.Bands.UrgentDays)
}

func TestUpdateConfig_RejectsInvalidRules(t *testing.T) {
	ctx := context.Background()
	svc := settings.New(store.NewMemory())

	cases := []struct {
		key, value string
	}{
		{engine.KeyCommissionThreshold, "two percent"},
		{engine.KeyCommissionThreshold, "2"},
		{engine.KeyUrgentDays, "60"},
		{engine.KeyAttentionDays, "10"},
		{engine.KeyRenewalWindowDays, "0"},
	}
	for _, tc := range cases {
		_, err := svc.UpdateConfig(ctx, tc.key, tc.value)
		require.Error(t, err, "%s=%s", tc.key, tc.value)
		assert.True(t, errors.Is(err, engine.ErrValidation), "%s=%s: %v", tc.key, tc.value, err)
	}

	// Stored rules are untouched
	rules, err := svc.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultConfig().Bands, rules.Bands)
}

func TestUpdateConfig_InformationalKey(t *testing.T) {
	svc := settings.New(store.NewMemory())

	e, err := svc.UpdateConfig(context.Background(), "anio_fiscal", "2026")
	require.NoError(t, err)
	assert.Equal(t, "2026", e.Value)
}

func TestUpdateConfig_UnknownKey(t *testing.T) {
	svc := settings.New(store.NewMemory())

	_, err := svc.UpdateConfig(context.Background(), "nope", "1")
	assert.True(t, errors.Is(err, engine.ErrNotFound))
}

func TestConfig_ListsEveryEntry(t *testing.T) {
	svc := settings.New(store.NewMemory())

	entries, err := svc.Config(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, len(engine.DefaultEntries()))
}

func TestGoals(t *testing.T) {
	ctx := context.Background()
	svc := settings.New(store.NewMemory())

	_, err := svc.Goal(ctx, 2025)
	assert.True(t, errors.Is(err, engine.ErrNotFound))

	_, err = svc.SaveGoal(ctx, factory.GoalJSON{Year: 2025, LifePolicies: 30,
		LifePremium: decimal.NewNullDecimal(decimal.NewFromInt(1500000))})
	require.NoError(t, err)

	g, err := svc.Goal(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, 30, g.LifePolicies)
	assert.True(t, decimal.NewFromInt(1500000).Equal(g.LifePremium))

	_, err = svc.SaveGoal(ctx, factory.GoalJSON{Year: 2025, LifePremium: decimal.NewNullDecimal(decimal.NewFromInt(-1))})
	assert.True(t, errors.Is(err, engine.ErrValidation))
}
