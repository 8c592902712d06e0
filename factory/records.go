/*
Package factory provides JSON to engine record conversion.

PURPOSE:
  The ingestion boundary. Converts JSON records (manual entry, API calls,
  insurer feed deliveries) into validated engine structs. Required fields are
  checked here once, so the rules never see a half-built record and never
  coerce a bad value to zero.

JSON SCHEMA (policy):
  {
    "number": "0076384A00",
    "agent_code": "627523",
    "ramo": 11,
    "plan": "VIDA Y AHORRO",
    "start_date": "2025-03-01",
    "end_date": "2026-03-01",
    "net_premium": "100000",
    "commission": "2800",
    "receipt_status": "PAGADA",
    "insured_count": 1
  }

  Money fields accept JSON numbers or strings ("100000.50").
  commission_pct (a ratio, 0.028) may replace commission.

VALIDATION:
  - number, ramo and start_date are required
  - dates are YYYY-MM-DD (longer timestamps are truncated)
  - premiums, commission and counts must not be negative
  - end_date must not precede start_date
  - periods are YYYY-MM

DEFAULTS:
  - id: a new UUID
  - standard number: NormalizePolicyID(number)
  - application year/period: from start_date
  - agent status: ACTIVO

USAGE:
  f := factory.New()
  p, err := f.ParsePolicy(jsonString)
  if errors.Is(err, engine.ErrValidation) {
      // 400
  }

SEE ALSO:
  - engine/types.go: Record definitions
  - portfolio/service.go: Resolves agent codes and persists
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mag/policy-engine/engine"
	"github.com/shopspring/decimal"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a policy.
type PolicyJSON struct {
	ID                string              `json:"id,omitempty"`
	Number            string              `json:"number"`
	AgentID           string              `json:"agent_id,omitempty"`
	AgentCode         string              `json:"agent_code,omitempty"` // resolved by the caller
	ProductID         string              `json:"product_id,omitempty"`
	Ramo              int                 `json:"ramo"`
	Plan              string              `json:"plan,omitempty"`
	Gama              string              `json:"gama,omitempty"`
	Segment           string              `json:"segment,omitempty"`
	InsuredName       string              `json:"insured_name,omitempty"`
	ContractorName    string              `json:"contractor_name,omitempty"`
	StartDate         string              `json:"start_date"`
	EndDate           string              `json:"end_date,omitempty"`
	ApplicationYear   int                 `json:"application_year,omitempty"`
	ApplicationPeriod string              `json:"application_period,omitempty"`
	Currency          string              `json:"currency,omitempty"`
	NetPremium        decimal.NullDecimal `json:"net_premium"`
	TotalPremium      decimal.NullDecimal `json:"total_premium"`
	Commission        decimal.NullDecimal `json:"commission"`
	CommissionPct     decimal.NullDecimal `json:"commission_pct"`
	PaidPremium       decimal.NullDecimal `json:"paid_premium"`
	PaymentForm       string              `json:"payment_form,omitempty"`
	LastPaymentDate   string              `json:"last_payment_date,omitempty"`
	ReceiptStatus     string              `json:"receipt_status,omitempty"`
	InsuredCount      int                 `json:"insured_count,omitempty"`
	Source            string              `json:"source,omitempty"`
	Notes             string              `json:"notes,omitempty"`
}

// AgentJSON is the JSON representation of an agent.
type AgentJSON struct {
	ID         string `json:"id,omitempty"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	Status     string `json:"status,omitempty"`
	Territory  string `json:"territory,omitempty"`
	Office     string `json:"office,omitempty"`
	Management string `json:"management,omitempty"`
	Promoter   string `json:"promoter,omitempty"`
	Segment    string `json:"segment,omitempty"`
}

// IndicatorJSON is one record of an insurer feed delivery.
type IndicatorJSON struct {
	ID               string              `json:"id,omitempty"`
	Period           string              `json:"period"`
	PolicyNumber     string              `json:"policy_number"`
	AgentCode        string              `json:"agent_code,omitempty"`
	Ramo             string              `json:"ramo,omitempty"`
	FirstYearPremium decimal.NullDecimal `json:"first_year_premium"`
	IsNew            bool                `json:"is_new"`
	ReceivedAt       string              `json:"received_at,omitempty"`
}

// GoalJSON holds the production goals of a year.
type GoalJSON struct {
	Year         int                 `json:"year"`
	LifePolicies int                 `json:"life_policies"`
	LifePremium  decimal.NullDecimal `json:"life_premium"`
	GMMPolicies  int                 `json:"gmm_policies"`
	GMMInsured   int                 `json:"gmm_insured"`
	GMMPremium   decimal.NullDecimal `json:"gmm_premium"`
}

// ProductJSON is one product catalog entry.
type ProductJSON struct {
	ID       string `json:"id,omitempty"`
	Ramo     int    `json:"ramo"`
	RamoName string `json:"ramo_name,omitempty"`
	Plan     string `json:"plan,omitempty"`
	Gama     string `json:"gama,omitempty"`
}

// =============================================================================
// RECORD FACTORY
// =============================================================================

// Factory converts JSON records to engine structs.
type Factory struct {
	newID func() string
	now   func() time.Time
}

// New creates a factory that assigns UUIDs and stamps records with the
// wall clock.
func New() *Factory {
	return &Factory{newID: uuid.NewString, now: time.Now}
}

// ParsePolicy parses a JSON string into a Policy.
func (f *Factory) ParsePolicy(jsonStr string) (engine.Policy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return engine.Policy{}, &engine.ValidationError{Field: "policy", Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return f.PolicyFromJSON(pj)
}

// PolicyFromJSON validates pj and builds a Policy. AgentCode is left to the
// caller; AgentID is copied as given.
func (f *Factory) PolicyFromJSON(pj PolicyJSON) (engine.Policy, error) {
	number := strings.ToUpper(strings.TrimSpace(pj.Number))
	if number == "" {
		return engine.Policy{}, &engine.ValidationError{Field: "number", Reason: "required"}
	}
	if pj.Ramo <= 0 {
		return engine.Policy{}, &engine.ValidationError{Field: "ramo", Value: fmt.Sprint(pj.Ramo), Reason: "required"}
	}

	start, err := engine.ParseDate("start_date", pj.StartDate)
	if err != nil {
		return engine.Policy{}, err
	}
	end, err := engine.ParseOptionalDate("end_date", pj.EndDate)
	if err != nil {
		return engine.Policy{}, err
	}
	if end != nil && end.Before(start) {
		return engine.Policy{}, &engine.ValidationError{Field: "end_date", Value: pj.EndDate, Reason: "precedes start_date"}
	}

	lastPayment, err := engine.ParseOptionalDate("last_payment_date", pj.LastPaymentDate)
	if err != nil {
		return engine.Policy{}, err
	}

	net, err := nonNegative("net_premium", pj.NetPremium)
	if err != nil {
		return engine.Policy{}, err
	}
	total, err := nonNegative("total_premium", pj.TotalPremium)
	if err != nil {
		return engine.Policy{}, err
	}
	if !pj.TotalPremium.Valid {
		total = net
	}
	paid, err := nonNegative("paid_premium", pj.PaidPremium)
	if err != nil {
		return engine.Policy{}, err
	}
	commission, err := f.commission(pj, net)
	if err != nil {
		return engine.Policy{}, err
	}

	if pj.InsuredCount < 0 {
		return engine.Policy{}, &engine.ValidationError{Field: "insured_count", Value: fmt.Sprint(pj.InsuredCount), Reason: "must not be negative"}
	}

	appYear := pj.ApplicationYear
	if appYear == 0 {
		appYear = start.Year()
	}
	appPeriod := pj.ApplicationPeriod
	if appPeriod == "" {
		appPeriod = start.Period()
	} else if _, _, err := engine.ParsePeriod(appPeriod); err != nil {
		return engine.Policy{}, &engine.ValidationError{Field: "application_period", Value: appPeriod, Reason: "expected YYYY-MM"}
	}

	source := pj.Source
	if source == "" {
		source = "MANUAL"
	}
	currency := pj.Currency
	if currency == "" {
		currency = "MN"
	}

	return engine.Policy{
		ID:                engine.PolicyID(f.idOr(pj.ID)),
		Number:            number,
		StandardNumber:    engine.NormalizePolicyID(number),
		AgentID:           engine.AgentID(pj.AgentID),
		ProductID:         engine.ProductID(pj.ProductID),
		Ramo:              engine.Ramo(pj.Ramo),
		Plan:              pj.Plan,
		Gama:              pj.Gama,
		Segment:           pj.Segment,
		InsuredName:       pj.InsuredName,
		ContractorName:    pj.ContractorName,
		StartDate:         start,
		EndDate:           end,
		ApplicationYear:   appYear,
		ApplicationPeriod: appPeriod,
		Currency:          currency,
		NetPremium:        net,
		TotalPremium:      total,
		Commission:        commission,
		PaidPremium:       paid,
		PaymentForm:       strings.ToUpper(strings.TrimSpace(pj.PaymentForm)),
		LastPaymentDate:   lastPayment,
		ReceiptStatus:     strings.ToUpper(strings.TrimSpace(pj.ReceiptStatus)),
		InsuredCount:      pj.InsuredCount,
		Source:            source,
		Notes:             pj.Notes,
		CreatedAt:         f.now(),
	}, nil
}

// commission returns the commission amount, from commission_pct when the
// amount is absent.
func (f *Factory) commission(pj PolicyJSON, net decimal.Decimal) (decimal.Decimal, error) {
	if pj.Commission.Valid {
		return nonNegative("commission", pj.Commission)
	}
	pct, err := nonNegative("commission_pct", pj.CommissionPct)
	if err != nil {
		return decimal.Zero, err
	}
	return net.Mul(pct), nil
}

// ToJSON converts a Policy back to its JSON form.
func (f *Factory) ToJSON(p engine.Policy) PolicyJSON {
	pj := PolicyJSON{
		ID:                string(p.ID),
		Number:            p.Number,
		AgentID:           string(p.AgentID),
		ProductID:         string(p.ProductID),
		Ramo:              int(p.Ramo),
		Plan:              p.Plan,
		Gama:              p.Gama,
		Segment:           p.Segment,
		InsuredName:       p.InsuredName,
		ContractorName:    p.ContractorName,
		StartDate:         p.StartDate.String(),
		ApplicationYear:   p.ApplicationYear,
		ApplicationPeriod: p.ApplicationPeriod,
		Currency:          p.Currency,
		NetPremium:        decimal.NewNullDecimal(p.NetPremium),
		TotalPremium:      decimal.NewNullDecimal(p.TotalPremium),
		Commission:        decimal.NewNullDecimal(p.Commission),
		PaidPremium:       decimal.NewNullDecimal(p.PaidPremium),
		PaymentForm:       p.PaymentForm,
		ReceiptStatus:     p.ReceiptStatus,
		InsuredCount:      p.InsuredCount,
		Source:            p.Source,
		Notes:             p.Notes,
	}
	if p.EndDate != nil {
		pj.EndDate = p.EndDate.String()
	}
	if p.LastPaymentDate != nil {
		pj.LastPaymentDate = p.LastPaymentDate.String()
	}
	return pj
}

// AgentFromJSON validates aj and builds an Agent.
func (f *Factory) AgentFromJSON(aj AgentJSON) (engine.Agent, error) {
	code := strings.TrimSpace(aj.Code)
	if code == "" {
		return engine.Agent{}, &engine.ValidationError{Field: "code", Reason: "required"}
	}
	name := strings.TrimSpace(aj.Name)
	if name == "" {
		return engine.Agent{}, &engine.ValidationError{Field: "name", Reason: "required"}
	}

	status := engine.AgentStatus(strings.ToUpper(strings.TrimSpace(aj.Status)))
	switch status {
	case "":
		status = engine.AgentActive
	case engine.AgentActive, engine.AgentCancelled:
	default:
		return engine.Agent{}, &engine.ValidationError{Field: "status", Value: aj.Status, Reason: "expected ACTIVO or CANCELADO"}
	}

	return engine.Agent{
		ID:         engine.AgentID(f.idOr(aj.ID)),
		Code:       code,
		Name:       name,
		Status:     status,
		Territory:  aj.Territory,
		Office:     aj.Office,
		Management: aj.Management,
		Promoter:   aj.Promoter,
		Segment:    aj.Segment,
		CreatedAt:  f.now(),
	}, nil
}

// IndicatorFromJSON validates ij and builds an ExternalIndicator.
func (f *Factory) IndicatorFromJSON(ij IndicatorJSON) (engine.ExternalIndicator, error) {
	if _, _, err := engine.ParsePeriod(ij.Period); err != nil {
		return engine.ExternalIndicator{}, err
	}
	number := strings.ToUpper(strings.TrimSpace(ij.PolicyNumber))
	if number == "" {
		return engine.ExternalIndicator{}, &engine.ValidationError{Field: "policy_number", Reason: "required"}
	}
	premium, err := nonNegative("first_year_premium", ij.FirstYearPremium)
	if err != nil {
		return engine.ExternalIndicator{}, err
	}
	received, err := engine.ParseOptionalDate("received_at", ij.ReceivedAt)
	if err != nil {
		return engine.ExternalIndicator{}, err
	}

	return engine.ExternalIndicator{
		ID:               f.idOr(ij.ID),
		Period:           ij.Period,
		PolicyNumber:     number,
		AgentCode:        strings.TrimSpace(ij.AgentCode),
		Ramo:             ij.Ramo,
		FirstYearPremium: premium,
		IsNew:            ij.IsNew,
		ReceivedAt:       received,
	}, nil
}

// IndicatorToJSON is the inverse of IndicatorFromJSON.
func IndicatorToJSON(ind engine.ExternalIndicator) IndicatorJSON {
	ij := IndicatorJSON{
		ID:               ind.ID,
		Period:           ind.Period,
		PolicyNumber:     ind.PolicyNumber,
		AgentCode:        ind.AgentCode,
		Ramo:             ind.Ramo,
		FirstYearPremium: decimal.NewNullDecimal(ind.FirstYearPremium),
		IsNew:            ind.IsNew,
	}
	if ind.ReceivedAt != nil {
		ij.ReceivedAt = ind.ReceivedAt.String()
	}
	return ij
}

// IndicatorsFromJSON converts a whole delivery. The first invalid record
// fails the batch; the error names its position.
func (f *Factory) IndicatorsFromJSON(ijs []IndicatorJSON) ([]engine.ExternalIndicator, error) {
	out := make([]engine.ExternalIndicator, 0, len(ijs))
	for i, ij := range ijs {
		ind, err := f.IndicatorFromJSON(ij)
		if err != nil {
			return nil, fmt.Errorf("indicator %d: %w", i, err)
		}
		out = append(out, ind)
	}
	return out, nil
}

// GoalFromJSON validates gj and builds a Goal.
func (f *Factory) GoalFromJSON(gj GoalJSON) (engine.Goal, error) {
	if gj.Year <= 0 {
		return engine.Goal{}, &engine.ValidationError{Field: "year", Value: fmt.Sprint(gj.Year), Reason: "required"}
	}
	if gj.LifePolicies < 0 || gj.GMMPolicies < 0 || gj.GMMInsured < 0 {
		return engine.Goal{}, &engine.ValidationError{Field: "goal", Reason: "counts must not be negative"}
	}
	life, err := nonNegative("life_premium", gj.LifePremium)
	if err != nil {
		return engine.Goal{}, err
	}
	gmm, err := nonNegative("gmm_premium", gj.GMMPremium)
	if err != nil {
		return engine.Goal{}, err
	}
	return engine.Goal{
		Year:         gj.Year,
		LifePolicies: gj.LifePolicies,
		LifePremium:  life,
		GMMPolicies:  gj.GMMPolicies,
		GMMInsured:   gj.GMMInsured,
		GMMPremium:   gmm,
	}, nil
}

// ProductFromJSON validates pj and builds a Product.
func (f *Factory) ProductFromJSON(pj ProductJSON) (engine.Product, error) {
	if pj.Ramo <= 0 {
		return engine.Product{}, &engine.ValidationError{Field: "ramo", Value: fmt.Sprint(pj.Ramo), Reason: "required"}
	}
	name := pj.RamoName
	if name == "" {
		name = engine.Ramo(pj.Ramo).String()
	}
	return engine.Product{
		ID:       engine.ProductID(f.idOr(pj.ID)),
		Ramo:     engine.Ramo(pj.Ramo),
		RamoName: name,
		Plan:     pj.Plan,
		Gama:     pj.Gama,
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (f *Factory) idOr(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return f.newID()
}

// nonNegative returns zero for a missing value.
func nonNegative(field string, v decimal.NullDecimal) (decimal.Decimal, error) {
	if !v.Valid {
		return decimal.Zero, nil
	}
	if v.Decimal.IsNegative() {
		return decimal.Zero, &engine.ValidationError{Field: field, Value: v.Decimal.String(), Reason: "must not be negative"}
	}
	return v.Decimal, nil
}
