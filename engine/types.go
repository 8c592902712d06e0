/*
Package engine provides the policy rules and reconciliation core.

PURPOSE:
  Pure, deterministic business rules for an insurance agency that sells
  Individual Life (ramo 11) and Individual Major-Medical (ramo 34). The same
  engine normalizes policy numbers, classifies policies as new or renewal,
  rolls up dashboard KPIs, reconciles against the insurer indicator feed, and
  tags policies for collections.

KEY CONCEPTS IN THIS FILE (types.go):
  - Ramo: line of business code
  - Policy / Agent / Product: ingested records, already validated
  - ExternalIndicator: one row of the insurer's periodic feed
  - Classification: derived lifecycle category and premium tier

DESIGN PRINCIPLES:
  1. Purity: nothing in this package performs I/O; stores are interfaces
  2. Precision: money and ratios use decimal.Decimal
  3. Derived values are never trusted from storage; they are recomputed
  4. Invalid input is an error, never a silent zero

USAGE:
  eng, err := engine.New(engine.DefaultConfig())
  c, err := eng.Classify(policy, 2025)
  kpis := engine.AggregateKPIs(classified, 2025)

SEE ALSO:
  - classify.go: Lifecycle and premium tier rules
  - reconcile.go: Insurer feed reconciliation
  - collections.go: Aging and priority tiers
*/
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RAMO - Line of business
// =============================================================================

type Ramo int

const (
	RamoVida Ramo = 11 // Individual Life
	RamoGMM  Ramo = 34 // Individual Major-Medical (Gastos Médicos Mayores)
)

func (r Ramo) String() string {
	switch r {
	case RamoVida:
		return "VIDA"
	case RamoGMM:
		return "GMM"
	default:
		return fmt.Sprintf("RAMO %d", int(r))
	}
}

// ParseRamoFilter maps the dashboard filter words to a ramo.
// Returns false for an empty or unknown filter.
func ParseRamoFilter(s string) (Ramo, bool) {
	switch s {
	case "vida", "VIDA", "11":
		return RamoVida, true
	case "gmm", "GMM", "34":
		return RamoGMM, true
	}
	return 0, false
}

// =============================================================================
// DERIVED ENUMS
// =============================================================================

type LifecycleCategory string

const (
	CategoryNueva       LifecycleCategory = "NUEVA"
	CategorySubsecuente LifecycleCategory = "SUBSECUENTE"
	CategoryNoAplica    LifecycleCategory = "NO_APLICA"
)

type PremiumTier string

const (
	TierBasica    PremiumTier = "BASICA"
	TierExcedente PremiumTier = "EXCEDENTE"
)

// MyStatus is the internally normalized status, distinct from the raw
// billing status delivered by the insurer.
type MyStatus string

const (
	MyStatusPagadaTotal       MyStatus = "PAGADA TOTAL"
	MyStatusCanceladaCaducada MyStatus = "CANCELADA CADUCADA"
	MyStatusCanceladaNoTomada MyStatus = "CANCELADA NO TOMADA"
	MyStatusNone              MyStatus = ""
)

// IsCancelled reports whether the status is one of the cancellation statuses.
func (s MyStatus) IsCancelled() bool {
	return s == MyStatusCanceladaCaducada || s == MyStatusCanceladaNoTomada
}

// Receipt statuses from the external billing system.
const (
	ReceiptPagada          = "PAGADA"
	ReceiptCancFaltaPago   = "CANC/X F.PAGO"
	ReceiptCancSustitucion = "CANC/X SUSTITUCION"
)

type AgentStatus string

const (
	AgentActive    AgentStatus = "ACTIVO"
	AgentCancelled AgentStatus = "CANCELADO"
)

// =============================================================================
// RECORDS
// =============================================================================

type PolicyID string
type AgentID string
type ProductID string

// Policy is an ingested policy record. Required fields are validated by the
// factory package before a Policy reaches the engine.
type Policy struct {
	ID             PolicyID
	Number         string // as delivered, e.g. "0076384A00"
	StandardNumber string // NormalizePolicyID(Number)
	AgentID        AgentID
	ProductID      ProductID
	Ramo           Ramo
	Plan           string
	Gama           string
	Segment        string

	InsuredName    string
	ContractorName string

	StartDate Date
	EndDate   *Date

	// ApplicationYear (anio_aplicacion) and ApplicationPeriod
	// (periodo_aplicacion) place the record in a production year/month.
	// They default to the start date; renewal receipts delivered by the
	// insurer carry the year they are applied to.
	ApplicationYear   int
	ApplicationPeriod string

	Currency     string
	NetPremium   decimal.Decimal
	TotalPremium decimal.Decimal
	Commission   decimal.Decimal
	PaidPremium  decimal.Decimal // accumulated net premium collected
	PaymentForm  string          // ANUAL, SEMESTRAL, TRIMESTRAL, MENSUAL...

	LastPaymentDate *Date

	ReceiptStatus string
	InsuredCount  int // 0 when unknown

	Source    string // MANUAL, IMPORT
	Notes     string
	CreatedAt time.Time

	// Snapshot is the last classification persisted by the store.
	// It is informational; readers recompute and compare.
	Snapshot *ClassificationSnapshot
}

// MyStatus returns the normalized status for the policy's receipt status.
func (p Policy) MyStatus() MyStatus { return NormalizeStatus(p.ReceiptStatus) }

// PendingPremium is the net premium not yet collected, floored at zero.
func (p Policy) PendingPremium() decimal.Decimal {
	pending := p.NetPremium.Sub(p.PaidPremium)
	if pending.IsNegative() {
		return decimal.Zero
	}
	return pending
}

type Agent struct {
	ID         AgentID
	Code       string
	Name       string
	Status     AgentStatus
	Territory  string
	Office     string
	Management string
	Promoter   string
	Segment    string
	CreatedAt  time.Time
}

type Product struct {
	ID       ProductID
	Ramo     Ramo
	RamoName string
	Plan     string
	Gama     string
}

// ExternalIndicator is one record of the insurer's indicator feed.
// Records are append-only per period.
type ExternalIndicator struct {
	ID               string
	Period           string // YYYY-MM
	PolicyNumber     string // insurer numbering
	AgentCode        string
	Ramo             string // as delivered by the insurer
	FirstYearPremium decimal.Decimal
	IsNew            bool
	ReceivedAt       *Date
}

// Goal holds the production goals (metas) for a year.
type Goal struct {
	Year         int
	LifePolicies int
	LifePremium  decimal.Decimal
	GMMPolicies  int
	GMMInsured   int
	GMMPremium   decimal.Decimal
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Classification is the derived view of a policy for one analysis year.
type Classification struct {
	Category        LifecycleCategory
	Tier            PremiumTier         // empty outside Life
	CommissionRatio decimal.NullDecimal // valid only for Life
}

// IsNew reports whether the policy counts as new business.
func (c Classification) IsNew() bool { return c.Category == CategoryNueva }

// ClassificationSnapshot is a persisted Classification and the year it was
// computed for.
type ClassificationSnapshot struct {
	Classification
	AnalysisYear int
}

// Matches reports whether the snapshot equals a fresh classification.
func (s ClassificationSnapshot) Matches(c Classification) bool {
	if s.Category != c.Category || s.Tier != c.Tier {
		return false
	}
	if s.CommissionRatio.Valid != c.CommissionRatio.Valid {
		return false
	}
	return !c.CommissionRatio.Valid || s.CommissionRatio.Decimal.Equal(c.CommissionRatio.Decimal)
}

// ClassifiedPolicy pairs a policy with its classification for a year.
type ClassifiedPolicy struct {
	Policy
	Classification Classification
	AnalysisYear   int
}
