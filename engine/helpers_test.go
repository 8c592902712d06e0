package engine_test

import (
	"time"

	"github.com/mag/policy-engine/engine"
	"github.com/shopspring/decimal"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(year int, month time.Month, day int) engine.Date {
	return engine.NewDate(year, month, day)
}

func datePtr(year int, month time.Month, day int) *engine.Date {
	d := engine.NewDate(year, month, day)
	return &d
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func defaultEngine() *engine.Engine {
	eng, err := engine.New(engine.DefaultConfig())
	if err != nil {
		panic(err)
	}
	return eng
}

// gmm builds a Major-Medical policy applied in the start date's year.
func gmm(id, number string, start engine.Date, status string, premium string) engine.Policy {
	return engine.Policy{
		ID:                engine.PolicyID(id),
		Number:            number,
		StandardNumber:    engine.NormalizePolicyID(number),
		Ramo:              engine.RamoGMM,
		StartDate:         start,
		ApplicationYear:   start.Year(),
		ApplicationPeriod: start.Period(),
		NetPremium:        dec(premium),
		ReceiptStatus:     status,
	}
}

// life builds a Life policy applied in the start date's year.
func life(id, number string, start engine.Date, status, premium, commission string) engine.Policy {
	p := gmm(id, number, start, status, premium)
	p.Ramo = engine.RamoVida
	p.Commission = dec(commission)
	return p
}

func classified(p engine.Policy, year int) engine.ClassifiedPolicy {
	c, err := defaultEngine().Classify(p, year)
	if err != nil {
		panic(err)
	}
	return engine.ClassifiedPolicy{Policy: p, Classification: c, AnalysisYear: year}
}
