/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  The engine sums exactly. Amounts are rounded to 2 decimals here, and only
  here, and serialized as JSON strings ("1234.50").

VALIDATION:
  Validation is done in the factory, not in DTOs. Request types reuse the
  factory JSON schemas.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/records.go: PolicyJSON, AgentJSON, IndicatorJSON, GoalJSON
*/
package api

import (
	"fmt"
	"time"

	"github.com/mag/policy-engine/collections"
	"github.com/mag/policy-engine/dashboard"
	"github.com/mag/policy-engine/engine"
	"github.com/mag/policy-engine/portfolio"
	"github.com/shopspring/decimal"
)

func money(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// =============================================================================
// POLICIES AND AGENTS
// =============================================================================

// PolicyDTO is a policy with its classification for the requested year.
type PolicyDTO struct {
	ID                string             `json:"id"`
	Number            string             `json:"number"`
	StandardNumber    string             `json:"standard_number"`
	AgentID           string             `json:"agent_id,omitempty"`
	ProductID         string             `json:"product_id,omitempty"`
	Ramo              int                `json:"ramo"`
	RamoName          string             `json:"ramo_name"`
	Plan              string             `json:"plan,omitempty"`
	Gama              string             `json:"gama,omitempty"`
	Segment           string             `json:"segment,omitempty"`
	InsuredName       string             `json:"insured_name,omitempty"`
	ContractorName    string             `json:"contractor_name,omitempty"`
	StartDate         string             `json:"start_date"`
	EndDate           string             `json:"end_date,omitempty"`
	ApplicationYear   int                `json:"application_year"`
	ApplicationPeriod string             `json:"application_period"`
	Currency          string             `json:"currency"`
	NetPremium        decimal.Decimal    `json:"net_premium"`
	TotalPremium      decimal.Decimal    `json:"total_premium"`
	Commission        decimal.Decimal    `json:"commission"`
	PaidPremium       decimal.Decimal    `json:"paid_premium"`
	PendingPremium    decimal.Decimal    `json:"pending_premium"`
	PaymentForm       string             `json:"payment_form,omitempty"`
	LastPaymentDate   string             `json:"last_payment_date,omitempty"`
	ReceiptStatus     string             `json:"receipt_status"`
	MyStatus          string             `json:"my_status"`
	InsuredCount      int                `json:"insured_count"`
	Reexpedition      bool               `json:"reexpedition"`
	Source            string             `json:"source"`
	Notes             string             `json:"notes,omitempty"`
	Classification    *ClassificationDTO `json:"classification,omitempty"`
}

type ClassificationDTO struct {
	AnalysisYear    int              `json:"analysis_year"`
	Category        string           `json:"category"`
	Tier            string           `json:"tier,omitempty"`
	CommissionRatio *decimal.Decimal `json:"commission_ratio,omitempty"`
}

func toPolicyDTO(p engine.Policy) PolicyDTO {
	dto := PolicyDTO{
		ID:                string(p.ID),
		Number:            p.Number,
		StandardNumber:    p.StandardNumber,
		AgentID:           string(p.AgentID),
		ProductID:         string(p.ProductID),
		Ramo:              int(p.Ramo),
		RamoName:          p.Ramo.String(),
		Plan:              p.Plan,
		Gama:              p.Gama,
		Segment:           p.Segment,
		InsuredName:       p.InsuredName,
		ContractorName:    p.ContractorName,
		StartDate:         p.StartDate.String(),
		ApplicationYear:   p.ApplicationYear,
		ApplicationPeriod: p.ApplicationPeriod,
		Currency:          p.Currency,
		NetPremium:        money(p.NetPremium),
		TotalPremium:      money(p.TotalPremium),
		Commission:        money(p.Commission),
		PaidPremium:       money(p.PaidPremium),
		PendingPremium:    money(p.PendingPremium()),
		PaymentForm:       p.PaymentForm,
		ReceiptStatus:     p.ReceiptStatus,
		MyStatus:          string(p.MyStatus()),
		InsuredCount:      p.InsuredCount,
		Reexpedition:      engine.DetectReexpedition(p.Number),
		Source:            p.Source,
		Notes:             p.Notes,
	}
	if p.EndDate != nil {
		dto.EndDate = p.EndDate.String()
	}
	if p.LastPaymentDate != nil {
		dto.LastPaymentDate = p.LastPaymentDate.String()
	}
	return dto
}

func toClassifiedDTO(cp engine.ClassifiedPolicy) PolicyDTO {
	dto := toPolicyDTO(cp.Policy)
	c := &ClassificationDTO{
		AnalysisYear: cp.AnalysisYear,
		Category:     string(cp.Classification.Category),
		Tier:         string(cp.Classification.Tier),
	}
	if cp.Classification.CommissionRatio.Valid {
		ratio := cp.Classification.CommissionRatio.Decimal.Round(4)
		c.CommissionRatio = &ratio
	}
	dto.Classification = c
	return dto
}

// AgentDTO represents an agent in API responses.
type AgentDTO struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	Territory    string `json:"territory,omitempty"`
	Office       string `json:"office,omitempty"`
	Management   string `json:"management,omitempty"`
	Promoter     string `json:"promoter,omitempty"`
	Segment      string `json:"segment,omitempty"`
	SegmentGroup string `json:"segment_group"`
	CreatedAt    string `json:"created_at,omitempty"`
}

func toAgentDTO(a engine.Agent) AgentDTO {
	dto := AgentDTO{
		ID:           string(a.ID),
		Code:         a.Code,
		Name:         a.Name,
		Status:       string(a.Status),
		Territory:    a.Territory,
		Office:       a.Office,
		Management:   a.Management,
		Promoter:     a.Promoter,
		Segment:      a.Segment,
		SegmentGroup: engine.SegmentGroup(a.Segment),
	}
	if !a.CreatedAt.IsZero() {
		dto.CreatedAt = a.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

type ProductDTO struct {
	ID       string `json:"id"`
	Ramo     int    `json:"ramo"`
	RamoName string `json:"ramo_name"`
	Plan     string `json:"plan,omitempty"`
	Gama     string `json:"gama,omitempty"`
}

func toProductDTO(p engine.Product) ProductDTO {
	return ProductDTO{ID: string(p.ID), Ramo: int(p.Ramo), RamoName: p.RamoName, Plan: p.Plan, Gama: p.Gama}
}

// =============================================================================
// DASHBOARD
// =============================================================================

type KPIDTO struct {
	NewLifePolicies        int             `json:"new_life_policies"`
	NewLifePremium         decimal.Decimal `json:"new_life_premium"`
	NewGMMPolicies         int             `json:"new_gmm_policies"`
	NewGMMInsured          int             `json:"new_gmm_insured"`
	NewGMMPremium          decimal.Decimal `json:"new_gmm_premium"`
	SubsequentLifePolicies int             `json:"subsequent_life_policies"`
	SubsequentLifePremium  decimal.Decimal `json:"subsequent_life_premium"`
	SubsequentGMMPolicies  int             `json:"subsequent_gmm_policies"`
	SubsequentGMMPremium   decimal.Decimal `json:"subsequent_gmm_premium"`
	CancelledLife          int             `json:"cancelled_life"`
	CancelledGMM           int             `json:"cancelled_gmm"`
	TotalPolicies          int             `json:"total_policies"`
}

func toKPIDTO(k engine.KPISet) KPIDTO {
	return KPIDTO{
		NewLifePolicies:        k.PolizasNuevasVida,
		NewLifePremium:         money(k.PrimaNuevaVida),
		NewGMMPolicies:         k.PolizasNuevasGMM,
		NewGMMInsured:          k.AseguradosNuevosGMM,
		NewGMMPremium:          money(k.PrimaNuevaGMM),
		SubsequentLifePolicies: k.PolizasSubsecuentesVida,
		SubsequentLifePremium:  money(k.PrimaSubsecuenteVida),
		SubsequentGMMPolicies:  k.PolizasSubsecuentesGMM,
		SubsequentGMMPremium:   money(k.PrimaSubsecuenteGMM),
		CancelledLife:          k.CanceladasVida,
		CancelledGMM:           k.CanceladasGMM,
		TotalPolicies:          k.TotalPolizas,
	}
}

type DashboardDTO struct {
	Year             int                    `json:"year"`
	KPIs             KPIDTO                 `json:"kpis"`
	Monthly          []MonthlyProductionDTO `json:"monthly"`
	TopAgents        []AgentProductionDTO   `json:"top_agents"`
	GamaDistribution []GamaShareDTO         `json:"gama_distribution"`
	Goal             *GoalProgressDTO       `json:"goal,omitempty"`
}

type MonthlyProductionDTO struct {
	Period       string          `json:"period"`
	LifePolicies int             `json:"life_policies"`
	LifePremium  decimal.Decimal `json:"life_premium"`
	GMMPolicies  int             `json:"gmm_policies"`
	GMMPremium   decimal.Decimal `json:"gmm_premium"`
}

type AgentProductionDTO struct {
	AgentID      string          `json:"agent_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Office       string          `json:"office,omitempty"`
	SegmentGroup string          `json:"segment_group"`
	Policies     int             `json:"policies"`
	Premium      decimal.Decimal `json:"premium"`
}

type GamaShareDTO struct {
	Gama     string          `json:"gama"`
	Policies int             `json:"policies"`
	Premium  decimal.Decimal `json:"premium"`
}

type GoalProgressDTO struct {
	Goal            GoalDTO         `json:"goal"`
	LifePoliciesPct decimal.Decimal `json:"life_policies_pct"`
	LifePremiumPct  decimal.Decimal `json:"life_premium_pct"`
	GMMPoliciesPct  decimal.Decimal `json:"gmm_policies_pct"`
	GMMPremiumPct   decimal.Decimal `json:"gmm_premium_pct"`
	GMMInsuredPct   decimal.Decimal `json:"gmm_insured_pct"`
}

type GoalDTO struct {
	Year         int             `json:"year"`
	LifePolicies int             `json:"life_policies"`
	LifePremium  decimal.Decimal `json:"life_premium"`
	GMMPolicies  int             `json:"gmm_policies"`
	GMMInsured   int             `json:"gmm_insured"`
	GMMPremium   decimal.Decimal `json:"gmm_premium"`
}

func toGoalDTO(g engine.Goal) GoalDTO {
	return GoalDTO{
		Year:         g.Year,
		LifePolicies: g.LifePolicies,
		LifePremium:  money(g.LifePremium),
		GMMPolicies:  g.GMMPolicies,
		GMMInsured:   g.GMMInsured,
		GMMPremium:   money(g.GMMPremium),
	}
}

func toDashboardDTO(d *dashboard.Dashboard) DashboardDTO {
	dto := DashboardDTO{
		Year:             d.Year,
		KPIs:             toKPIDTO(d.KPIs),
		Monthly:          make([]MonthlyProductionDTO, len(d.Monthly)),
		TopAgents:        make([]AgentProductionDTO, len(d.TopAgents)),
		GamaDistribution: make([]GamaShareDTO, len(d.GamaDistribution)),
	}
	for i, m := range d.Monthly {
		dto.Monthly[i] = MonthlyProductionDTO{
			Period:       m.Period,
			LifePolicies: m.LifePolicies,
			LifePremium:  money(m.LifePremium),
			GMMPolicies:  m.GMMPolicies,
			GMMPremium:   money(m.GMMPremium),
		}
	}
	for i, a := range d.TopAgents {
		dto.TopAgents[i] = AgentProductionDTO{
			AgentID:      string(a.AgentID),
			Code:         a.Code,
			Name:         a.Name,
			Office:       a.Office,
			SegmentGroup: a.SegmentGroup,
			Policies:     a.Policies,
			Premium:      money(a.Premium),
		}
	}
	for i, g := range d.GamaDistribution {
		dto.GamaDistribution[i] = GamaShareDTO{Gama: g.Gama, Policies: g.Policies, Premium: money(g.Premium)}
	}
	if d.Goal != nil {
		dto.Goal = &GoalProgressDTO{
			Goal:            toGoalDTO(d.Goal.Goal),
			LifePoliciesPct: d.Goal.LifePoliciesPct.Round(1),
			LifePremiumPct:  d.Goal.LifePremiumPct.Round(1),
			GMMPoliciesPct:  d.Goal.GMMPoliciesPct.Round(1),
			GMMPremiumPct:   d.Goal.GMMPremiumPct.Round(1),
			GMMInsuredPct:   d.Goal.GMMInsuredPct.Round(1),
		}
	}
	return dto
}

// =============================================================================
// COLLECTIONS
// =============================================================================

type CollectionsDTO struct {
	Ref           string                `json:"ref"`
	Year          int                   `json:"year"`
	Summary       CollectionsSummaryDTO `json:"summary"`
	Debtors       []DebtorDTO           `json:"debtors"`
	Renewals      []RenewalDTO          `json:"renewals"`
	Cancellations []CancellationDTO     `json:"cancellations"`
	Alerts        []AlertDTO            `json:"alerts"`
	FollowUp      []FollowUpDTO         `json:"follow_up"`
}

type CollectionsSummaryDTO struct {
	Total            int             `json:"total"`
	Critico          int             `json:"critico"`
	Urgente          int             `json:"urgente"`
	Atencion         int             `json:"atencion"`
	AlDia            int             `json:"al_dia"`
	Pagado           int             `json:"pagado"`
	Expected         decimal.Decimal `json:"expected"`
	Collected        decimal.Decimal `json:"collected"`
	PremiumToCollect decimal.Decimal `json:"premium_to_collect"`
	CollectionPct    decimal.Decimal `json:"collection_pct"`
}

type DebtorDTO struct {
	PolicyID       string          `json:"policy_id"`
	Number         string          `json:"number"`
	ContractorName string          `json:"contractor_name,omitempty"`
	InsuredName    string          `json:"insured_name,omitempty"`
	AgentCode      string          `json:"agent_code,omitempty"`
	AgentName      string          `json:"agent_name,omitempty"`
	RamoName       string          `json:"ramo_name"`
	EndDate        string          `json:"end_date,omitempty"`
	DaysToExpiry   *int            `json:"days_to_expiry"`
	NetPremium     decimal.Decimal `json:"net_premium"`
	PaidPremium    decimal.Decimal `json:"paid_premium"`
	Pending        decimal.Decimal `json:"pending"`
	ReceiptStatus  string          `json:"receipt_status"`
	Priority       string          `json:"priority"`
	Receipt        string          `json:"receipt"` // current/total
	NextDue        string          `json:"next_due"`
	YearBoundary   bool            `json:"year_boundary"`
}

type RenewalDTO struct {
	PolicyID     string          `json:"policy_id"`
	Number       string          `json:"number"`
	AgentCode    string          `json:"agent_code,omitempty"`
	AgentName    string          `json:"agent_name,omitempty"`
	RamoName     string          `json:"ramo_name"`
	EndDate      string          `json:"end_date"`
	DaysToExpiry int             `json:"days_to_expiry"`
	NetPremium   decimal.Decimal `json:"net_premium"`
	State        string          `json:"state"`
}

type CancellationDTO struct {
	PolicyID    string          `json:"policy_id"`
	Number      string          `json:"number"`
	AgentCode   string          `json:"agent_code,omitempty"`
	AgentName   string          `json:"agent_name,omitempty"`
	NetPremium  decimal.Decimal `json:"net_premium"`
	PaidPremium decimal.Decimal `json:"paid_premium"`
	LostPremium decimal.Decimal `json:"lost_premium"`
	Reason      string          `json:"reason"`
}

type AlertDTO struct {
	Kind   string          `json:"kind"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
	Days   int             `json:"days,omitempty"`
}

type FollowUpDTO struct {
	Period    string          `json:"period"`
	Policies  int             `json:"policies"`
	Expected  decimal.Decimal `json:"expected"`
	Collected decimal.Decimal `json:"collected"`
	Pct       decimal.Decimal `json:"pct"`
}

func toCollectionsDTO(l *collections.Ledger) CollectionsDTO {
	dto := CollectionsDTO{
		Ref:  l.Ref.String(),
		Year: l.Year,
		Summary: CollectionsSummaryDTO{
			Total:            l.Summary.Total,
			Critico:          l.Summary.Critico,
			Urgente:          l.Summary.Urgente,
			Atencion:         l.Summary.Atencion,
			AlDia:            l.Summary.AlDia,
			Pagado:           l.Summary.Pagado,
			Expected:         money(l.Summary.Expected),
			Collected:        money(l.Summary.Collected),
			PremiumToCollect: money(l.Summary.PremiumToCollect),
			CollectionPct:    l.Summary.CollectionPct.Round(1),
		},
		Debtors:       make([]DebtorDTO, 0, len(l.Debtors)),
		Renewals:      make([]RenewalDTO, 0, len(l.Renewals)),
		Cancellations: make([]CancellationDTO, 0, len(l.Cancellations)),
		Alerts:        make([]AlertDTO, 0, len(l.Alerts)),
		FollowUp:      make([]FollowUpDTO, 0, len(l.FollowUp)),
	}
	for _, d := range l.Debtors {
		dd := DebtorDTO{
			PolicyID:       string(d.Policy.ID),
			Number:         d.Policy.Number,
			ContractorName: d.Policy.ContractorName,
			InsuredName:    d.Policy.InsuredName,
			AgentCode:      d.AgentCode,
			AgentName:      d.AgentName,
			RamoName:       d.Policy.Ramo.String(),
			DaysToExpiry:   d.DaysToExpiry,
			NetPremium:     money(d.Policy.NetPremium),
			PaidPremium:    money(d.Policy.PaidPremium),
			Pending:        money(d.Pending),
			ReceiptStatus:  d.Policy.ReceiptStatus,
			Priority:       string(d.Priority),
			Receipt:        receiptLabel(d.Receipt),
			NextDue:        d.Receipt.NextDue.String(),
			YearBoundary:   d.YearBoundary,
		}
		if d.Policy.EndDate != nil {
			dd.EndDate = d.Policy.EndDate.String()
		}
		dto.Debtors = append(dto.Debtors, dd)
	}
	for _, r := range l.Renewals {
		dto.Renewals = append(dto.Renewals, RenewalDTO{
			PolicyID:     string(r.Policy.ID),
			Number:       r.Policy.Number,
			AgentCode:    r.AgentCode,
			AgentName:    r.AgentName,
			RamoName:     r.Policy.Ramo.String(),
			EndDate:      r.Policy.EndDate.String(),
			DaysToExpiry: r.DaysToExpiry,
			NetPremium:   money(r.Policy.NetPremium),
			State:        string(r.State),
		})
	}
	for _, c := range l.Cancellations {
		dto.Cancellations = append(dto.Cancellations, CancellationDTO{
			PolicyID:    string(c.Policy.ID),
			Number:      c.Policy.Number,
			AgentCode:   c.AgentCode,
			AgentName:   c.AgentName,
			NetPremium:  money(c.Policy.NetPremium),
			PaidPremium: money(c.Policy.PaidPremium),
			LostPremium: money(c.LostPremium),
			Reason:      c.Reason,
		})
	}
	for _, a := range l.Alerts {
		dto.Alerts = append(dto.Alerts, AlertDTO{Kind: string(a.Kind), Count: a.Count, Amount: money(a.Amount), Days: a.Days})
	}
	for _, f := range l.FollowUp {
		dto.FollowUp = append(dto.FollowUp, FollowUpDTO{
			Period:    f.Period,
			Policies:  f.Policies,
			Expected:  money(f.Expected),
			Collected: money(f.Collected),
			Pct:       f.Pct.Round(1),
		})
	}
	return dto
}

func receiptLabel(r engine.ReceiptSchedule) string {
	return fmt.Sprintf("%d/%d", r.Current, r.Total)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// RunReconciliationRequest is the body of POST /api/reconciliation/run.
type RunReconciliationRequest struct {
	Period        string `json:"period"`
	Strict        bool   `json:"strict"`
	Bidirectional bool   `json:"bidirectional"`
}

type ReconciliationSummaryDTO struct {
	Total        int `json:"total"`
	Match        int `json:"match"`
	Mismatch     int `json:"mismatch"`
	InsurerOnly  int `json:"insurer_only"`
	InternalOnly int `json:"internal_only"`
	Ambiguous    int `json:"ambiguous"`
	MatchPct     int `json:"match_pct"`
}

func toSummaryDTO(s engine.Summary) ReconciliationSummaryDTO {
	return ReconciliationSummaryDTO{
		Total:        s.Total,
		Match:        s.Match,
		Mismatch:     s.Mismatch,
		InsurerOnly:  s.InsurerOnly,
		InternalOnly: s.InternalOnly,
		Ambiguous:    s.Ambiguous,
		MatchPct:     s.MatchPct,
	}
}

type ReconciliationResultDTO struct {
	IndicatorID      string          `json:"indicator_id,omitempty"`
	PolicyNumber     string          `json:"policy_number"`
	AgentCode        string          `json:"agent_code,omitempty"`
	InsurerIsNew     *bool           `json:"insurer_is_new,omitempty"`
	FirstYearPremium decimal.Decimal `json:"first_year_premium"`
	PolicyID         string          `json:"policy_id,omitempty"`
	InternalCategory string          `json:"internal_category,omitempty"`
	Verdict          string          `json:"verdict"`
	Discrepancy      string          `json:"discrepancy,omitempty"`
	Ambiguous        bool            `json:"ambiguous,omitempty"`
	Candidates       []string        `json:"candidates,omitempty"`
}

// ReconciliationResponse is a reconciliation report, live or stored.
type ReconciliationResponse struct {
	RunID         string                    `json:"run_id,omitempty"`
	Period        string                    `json:"period"`
	Strict        bool                      `json:"strict"`
	Bidirectional bool                      `json:"bidirectional"`
	CreatedAt     string                    `json:"created_at,omitempty"`
	Summary       ReconciliationSummaryDTO  `json:"summary"`
	Results       []ReconciliationResultDTO `json:"results"`
}

func toReconciliationResponse(run engine.ReconciliationRun, report engine.Report) ReconciliationResponse {
	resp := ReconciliationResponse{
		RunID:         run.ID,
		Period:        report.Period,
		Strict:        run.Options.Strict,
		Bidirectional: run.Options.Bidirectional,
		Summary:       toSummaryDTO(report.Summary),
		Results:       make([]ReconciliationResultDTO, 0, len(report.Results)),
	}
	if !run.CreatedAt.IsZero() {
		resp.CreatedAt = run.CreatedAt.Format(time.RFC3339)
	}
	for _, r := range report.Results {
		dto := ReconciliationResultDTO{
			InternalCategory: string(r.InternalCategory),
			Verdict:          string(r.Verdict),
			Discrepancy:      r.Discrepancy,
			Ambiguous:        r.Ambiguous,
			FirstYearPremium: decimal.Zero,
		}
		if r.Indicator != nil {
			isNew := r.Indicator.IsNew
			dto.IndicatorID = r.Indicator.ID
			dto.PolicyNumber = r.Indicator.PolicyNumber
			dto.AgentCode = r.Indicator.AgentCode
			dto.InsurerIsNew = &isNew
			dto.FirstYearPremium = money(r.Indicator.FirstYearPremium)
		}
		if r.Policy != nil {
			dto.PolicyID = string(r.Policy.ID)
			if dto.PolicyNumber == "" {
				dto.PolicyNumber = r.Policy.Number
			}
		}
		for _, id := range r.Candidates {
			dto.Candidates = append(dto.Candidates, string(id))
		}
		resp.Results = append(resp.Results, dto)
	}
	return resp
}

// RunDTO is a stored run. Items are included only for single-run reads.
type RunDTO struct {
	ID            string                   `json:"id"`
	Period        string                   `json:"period"`
	Strict        bool                     `json:"strict"`
	Bidirectional bool                     `json:"bidirectional"`
	CreatedAt     string                   `json:"created_at"`
	Summary       ReconciliationSummaryDTO `json:"summary"`
	Items         []RunItemDTO             `json:"items,omitempty"`
}

type RunItemDTO struct {
	IndicatorID      string `json:"indicator_id,omitempty"`
	PolicyID         string `json:"policy_id,omitempty"`
	PolicyNumber     string `json:"policy_number"`
	Verdict          string `json:"verdict"`
	InternalCategory string `json:"internal_category,omitempty"`
	InsurerIsNew     bool   `json:"insurer_is_new"`
	Discrepancy      string `json:"discrepancy,omitempty"`
	Ambiguous        bool   `json:"ambiguous,omitempty"`
}

func toRunDTO(run engine.ReconciliationRun) RunDTO {
	dto := RunDTO{
		ID:            run.ID,
		Period:        run.Period,
		Strict:        run.Options.Strict,
		Bidirectional: run.Options.Bidirectional,
		CreatedAt:     run.CreatedAt.Format(time.RFC3339),
		Summary:       toSummaryDTO(run.Summary),
	}
	for _, it := range run.Items {
		dto.Items = append(dto.Items, RunItemDTO{
			IndicatorID:      it.IndicatorID,
			PolicyID:         string(it.PolicyID),
			PolicyNumber:     it.PolicyNumber,
			Verdict:          string(it.Verdict),
			InternalCategory: string(it.InternalCategory),
			InsurerIsNew:     it.InsurerIsNew,
			Discrepancy:      it.Discrepancy,
			Ambiguous:        it.Ambiguous,
		})
	}
	return dto
}

// IngestIndicatorsResponse reports an accepted feed delivery.
type IngestIndicatorsResponse struct {
	Accepted int      `json:"accepted"`
	Periods  []string `json:"periods"`
}

// =============================================================================
// RULES AND CONFIGURATION
// =============================================================================

// ApplyRulesRequest is the body of POST /api/rules/apply. Both fields are
// optional.
type ApplyRulesRequest struct {
	Year int    `json:"year"`
	Ramo string `json:"ramo"`
}

type ApplyRulesResponse struct {
	Processed int      `json:"processed"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

func toApplyRulesResponse(r portfolio.ApplyResult) ApplyRulesResponse {
	return ApplyRulesResponse{
		Processed: r.Processed,
		Updated:   r.Updated,
		Unchanged: r.Unchanged,
		Failed:    r.Failed,
		Errors:    r.Errors,
	}
}

type ConfigEntryDTO struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Type        string `json:"type,omitempty"`
	Group       string `json:"group,omitempty"`
	Description string `json:"description,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

func toConfigEntryDTO(e engine.ConfigEntry) ConfigEntryDTO {
	dto := ConfigEntryDTO{Key: e.Key, Value: e.Value, Type: e.Type, Group: e.Group, Description: e.Description}
	if !e.UpdatedAt.IsZero() {
		dto.UpdatedAt = e.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

// UpdateConfigRequest is the body of PUT /api/config/{key}.
type UpdateConfigRequest struct {
	Value string `json:"value"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
