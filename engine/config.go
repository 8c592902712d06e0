package engine

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
)

// Configuration keys, as stored in the configuracion table.
const (
	KeyCommissionThreshold = "umbral_comision_basica"
	KeyUrgentDays          = "dias_banda_urgente"
	KeyAttentionDays       = "dias_banda_atencion"
	KeyRenewalWindowDays   = "dias_ventana_renovacion"
)

// Config holds every knob of the rules. There are no rule literals outside
// of DefaultConfig.
type Config struct {
	// CommissionThreshold is the commission/premium ratio at or above which a
	// Life premium is BASICA.
	CommissionThreshold decimal.Decimal

	Bands PriorityBands
}

// PriorityBands are the day windows used by the collections engine.
type PriorityBands struct {
	UrgentDays        int // due within this many days -> URGENTE
	AttentionDays     int // due within this many days -> ATENCION
	RenewalWindowDays int // renewal state is computed within +/- this many days
}

// DefaultConfig returns the configuration the agency runs with.
func DefaultConfig() Config {
	return Config{
		CommissionThreshold: decimal.RequireFromString("0.021"),
		Bands: PriorityBands{
			UrgentDays:        30,
			AttentionDays:     60,
			RenewalWindowDays: 90,
		},
	}
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	if !c.CommissionThreshold.IsPositive() || c.CommissionThreshold.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return &ConfigurationError{Key: KeyCommissionThreshold, Reason: "must be in (0, 1)"}
	}
	if c.Bands.UrgentDays <= 0 {
		return &ConfigurationError{Key: KeyUrgentDays, Reason: "must be positive"}
	}
	if c.Bands.AttentionDays <= c.Bands.UrgentDays {
		return &ConfigurationError{Key: KeyAttentionDays, Reason: "must be greater than " + KeyUrgentDays}
	}
	if c.Bands.RenewalWindowDays <= 0 {
		return &ConfigurationError{Key: KeyRenewalWindowDays, Reason: "must be positive"}
	}
	return nil
}

// ConfigSource reads configuration values by key.
// found is false when the key does not exist.
type ConfigSource interface {
	GetConfigValue(ctx context.Context, key string) (value string, found bool, err error)
}

// LoadConfig builds a Config from a ConfigSource. Every rule key is required.
func LoadConfig(ctx context.Context, src ConfigSource) (Config, error) {
	var cfg Config

	raw, err := require(ctx, src, KeyCommissionThreshold)
	if err != nil {
		return Config{}, err
	}
	threshold, err := decimal.NewFromString(raw)
	if err != nil {
		return Config{}, &ConfigurationError{Key: KeyCommissionThreshold, Reason: "not a decimal: " + raw}
	}
	cfg.CommissionThreshold = threshold

	bands := []struct {
		key string
		dst *int
	}{
		{KeyUrgentDays, &cfg.Bands.UrgentDays},
		{KeyAttentionDays, &cfg.Bands.AttentionDays},
		{KeyRenewalWindowDays, &cfg.Bands.RenewalWindowDays},
	}
	for _, b := range bands {
		raw, err := require(ctx, src, b.key)
		if err != nil {
			return Config{}, err
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, &ConfigurationError{Key: b.key, Reason: "not an integer: " + raw}
		}
		*b.dst = n
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewFromSource loads the configuration from src and builds an Engine.
// Services call it per operation so configuration edits apply immediately.
func NewFromSource(ctx context.Context, src ConfigSource) (*Engine, error) {
	cfg, err := LoadConfig(ctx, src)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

func require(ctx context.Context, src ConfigSource, key string) (string, error) {
	v, found, err := src.GetConfigValue(ctx, key)
	if err != nil {
		return "", err
	}
	if !found || v == "" {
		return "", &ConfigurationError{Key: key, Reason: "missing"}
	}
	return v, nil
}

// DefaultEntries are the configuration rows a fresh store is seeded with.
// Rule keys mirror DefaultConfig; the rest are informational.
func DefaultEntries() []ConfigEntry {
	d := DefaultConfig()
	return []ConfigEntry{
		{Key: KeyCommissionThreshold, Value: d.CommissionThreshold.String(), Type: "decimal", Group: "umbrales",
			Description: "Commission/premium ratio at or above which a Life premium is BASICA"},
		{Key: KeyUrgentDays, Value: strconv.Itoa(d.Bands.UrgentDays), Type: "int", Group: "cobranza",
			Description: "Days to expiry tagged URGENTE"},
		{Key: KeyAttentionDays, Value: strconv.Itoa(d.Bands.AttentionDays), Type: "int", Group: "cobranza",
			Description: "Days to expiry tagged ATENCION"},
		{Key: KeyRenewalWindowDays, Value: strconv.Itoa(d.Bands.RenewalWindowDays), Type: "int", Group: "cobranza",
			Description: "Days around the end date in which renewal state is tracked"},
		{Key: "dias_gracia_pago", Value: "30", Type: "int", Group: "umbrales",
			Description: "Grace days before a payment counts as pending"},
		{Key: "anio_fiscal", Value: "2025", Type: "int", Group: "general",
			Description: "Current fiscal year"},
	}
}

// WithOverride returns src with key reading as value. An edit is validated
// by loading the configuration through it before the edit is stored.
func WithOverride(src ConfigSource, key, value string) ConfigSource {
	return override{src: src, key: key, value: value}
}

type override struct {
	src        ConfigSource
	key, value string
}

func (o override) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	if key == o.key {
		return o.value, true, nil
	}
	return o.src.GetConfigValue(ctx, key)
}

// IsRuleKey reports whether key feeds the rules engine.
func IsRuleKey(key string) bool {
	switch key {
	case KeyCommissionThreshold, KeyUrgentDays, KeyAttentionDays, KeyRenewalWindowDays:
		return true
	}
	return false
}
