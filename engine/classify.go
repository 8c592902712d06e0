/*
classify.go - Lifecycle category and premium tier rules

PURPOSE:
  Decides, for one analysis year, whether a policy is NUEVA (new business),
  SUBSECUENTE (renewal of last year's business) or NO_APLICA.

RULES:
  Major-Medical (ramo 34):
    start year == analysis year AND receipt PAGADA -> NUEVA
    start year == analysis year - 1                -> SUBSECUENTE
    otherwise                                      -> NO_APLICA

  Life (ramo 11):
    ratio = commission / net premium (0 when premium is zero or missing)
    tier  = BASICA if ratio >= threshold, else EXCEDENTE
    Only BASICA premiums use the year rule above; EXCEDENTE is NO_APLICA.
    Ratio and tier are returned whatever the lifecycle outcome.

  Any other ramo -> NO_APLICA.

DETERMINISM:
  Classify is a pure function of (ramo, start year, receipt status,
  commission, premium, analysis year, threshold). Running it twice on the
  same inputs yields the same output; stores may persist a snapshot, but
  readers compare against a fresh run.
*/
package engine

import (
	"context"
	"runtime"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Engine applies the rules with one immutable Config.
type Engine struct {
	cfg Config
}

// New returns an engine for cfg, or a ConfigurationError.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Classify classifies one policy for an analysis year.
func (e *Engine) Classify(p Policy, analysisYear int) (Classification, error) {
	if p.StartDate.IsZero() {
		return Classification{}, &ValidationError{Field: "start_date", Reason: "required for classification"}
	}
	startYear := p.StartDate.Year()
	paid := p.ReceiptStatus == ReceiptPagada

	switch p.Ramo {
	case RamoGMM:
		return Classification{Category: yearRule(startYear, analysisYear, paid)}, nil

	case RamoVida:
		if p.NetPremium.IsNegative() {
			return Classification{}, &ValidationError{Field: "net_premium", Value: p.NetPremium.String(), Reason: "must not be negative"}
		}
		ratio := CommissionRatio(p.Commission, p.NetPremium)
		c := Classification{
			Category:        CategoryNoAplica,
			Tier:            TierExcedente,
			CommissionRatio: decimal.NewNullDecimal(ratio),
		}
		if ratio.GreaterThanOrEqual(e.cfg.CommissionThreshold) {
			c.Tier = TierBasica
			c.Category = yearRule(startYear, analysisYear, paid)
		}
		return c, nil
	}

	return Classification{Category: CategoryNoAplica}, nil
}

func yearRule(startYear, analysisYear int, paid bool) LifecycleCategory {
	switch {
	case startYear == analysisYear && paid:
		return CategoryNueva
	case startYear == analysisYear-1:
		return CategorySubsecuente
	default:
		return CategoryNoAplica
	}
}

// CommissionRatio is commission / premium, or zero when premium is not
// positive.
func CommissionRatio(commission, premium decimal.Decimal) decimal.Decimal {
	if !premium.IsPositive() {
		return decimal.Zero
	}
	return commission.Div(premium)
}

// ClassifyAll classifies every policy for analysisYear. Work is spread over
// a bounded number of goroutines; each writes only its own output slot.
// The first validation error stops the batch.
func (e *Engine) ClassifyAll(ctx context.Context, policies []Policy, analysisYear int) ([]ClassifiedPolicy, error) {
	out := make([]ClassifiedPolicy, len(policies))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range policies {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := e.Classify(policies[i], analysisYear)
			if err != nil {
				return &PolicyError{PolicyID: policies[i].ID, Number: policies[i].Number, Err: err}
			}
			out[i] = ClassifiedPolicy{Policy: policies[i], Classification: c, AnalysisYear: analysisYear}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
