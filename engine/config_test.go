package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mag/policy-engine/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSource map[string]string

func (m mapSource) GetConfigValue(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

type failingSource struct{}

func (failingSource) GetConfigValue(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}

func defaultSource() mapSource {
	src := mapSource{}
	for _, e := range engine.DefaultEntries() {
		src[e.Key] = e.Value
	}
	return src
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := engine.LoadConfig(context.Background(), defaultSource())
	require.NoError(t, err)

	want := engine.DefaultConfig()
	assert.True(t, want.CommissionThreshold.Equal(cfg.CommissionThreshold))
	assert.Equal(t, want.Bands, cfg.Bands)
}

func TestLoadConfig_MissingKey(t *testing.T) {
	for _, key := range []string{
		engine.KeyCommissionThreshold, engine.KeyUrgentDays, engine.KeyAttentionDays, engine.KeyRenewalWindowDays,
	} {
		t.Run(key, func(t *testing.T) {
			src := defaultSource()
			delete(src, key)

			_, err := engine.LoadConfig(context.Background(), src)
			require.Error(t, err)
			assert.True(t, errors.Is(err, engine.ErrConfiguration))

			var ce *engine.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, key, ce.Key)
		})
	}
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	cases := []struct {
		key, value string
	}{
		{engine.KeyCommissionThreshold, "abc"},
		{engine.KeyCommissionThreshold, "0"},
		{engine.KeyCommissionThreshold, "1.5"},
		{engine.KeyUrgentDays, "thirty"},
		{engine.KeyUrgentDays, "0"},
		{engine.KeyAttentionDays, "20"}, // not above the urgent band
		{engine.KeyRenewalWindowDays, "-1"},
		{engine.KeyRenewalWindowDays, ""},
	}
	for _, tc := range cases {
		src := defaultSource()
		src[tc.key] = tc.value

		_, err := engine.LoadConfig(context.Background(), src)
		assert.True(t, errors.Is(err, engine.ErrConfiguration), "%s=%q", tc.key, tc.value)
	}
}

func TestLoadConfig_SourceError(t *testing.T) {
	_, err := engine.LoadConfig(context.Background(), failingSource{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, engine.ErrConfiguration), "store failures are not configuration errors")
}

func TestNewFromSource(t *testing.T) {
	src := defaultSource()
	src[engine.KeyCommissionThreshold] = "0.03"

	eng, err := engine.NewFromSource(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "0.03", eng.Config().CommissionThreshold.String())
}

func TestWithOverride(t *testing.T) {
	src := defaultSource()

	over := engine.WithOverride(src, engine.KeyUrgentDays, "45")
	cfg, err := engine.LoadConfig(context.Background(), over)
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.Bands.UrgentDays)
	assert.Equal(t, "30", src[engine.KeyUrgentDays], "underlying source untouched")

	_, err = engine.LoadConfig(context.Background(), engine.WithOverride(src, engine.KeyUrgentDays, "90"))
	assert.True(t, errors.Is(err, engine.ErrConfiguration), "urgent band may not reach the attention band")
}

func TestIsRuleKey(t *testing.T) {
	assert.True(t, engine.IsRuleKey(engine.KeyCommissionThreshold))
	assert.True(t, engine.IsRuleKey(engine.KeyRenewalWindowDays))
	assert.False(t, engine.IsRuleKey("anio_fiscal"))
	assert.False(t, engine.IsRuleKey("nope"))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.Bands.AttentionDays = cfg.Bands.UrgentDays

	_, err := engine.New(cfg)
	assert.True(t, errors.Is(err, engine.ErrConfiguration))
}
