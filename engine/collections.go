package engine

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COLLECTIONS - Aging, priority tiers, renewal state
// =============================================================================

// DaysToExpiry returns the signed whole-day distance from ref to end
// (negative once expired). Time of day is ignored. ok is false when end is
// absent.
func DaysToExpiry(end *Date, ref Date) (days int, ok bool) {
	if end == nil || end.IsZero() {
		return 0, false
	}
	return DaysBetween(ref, *end), true
}

type Priority string

const (
	PriorityCritico  Priority = "CRITICO"
	PriorityUrgente  Priority = "URGENTE"
	PriorityAtencion Priority = "ATENCION"
	PriorityAlDia    Priority = "AL_DIA"
	PriorityPagado   Priority = "PAGADO"
)

// Rank orders priorities from most to least pressing.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritico:
		return 0
	case PriorityUrgente:
		return 1
	case PriorityAtencion:
		return 2
	case PriorityAlDia:
		return 3
	case PriorityPagado:
		return 4
	}
	return 5
}

// ParsePriority accepts the upper or lower case tier name.
func ParsePriority(s string) (Priority, bool) {
	for _, p := range []Priority{PriorityCritico, PriorityUrgente, PriorityAtencion, PriorityAlDia, PriorityPagado} {
		if strings.EqualFold(s, string(p)) {
			return p, true
		}
	}
	return "", false
}

// PriorityTier tags a receivable.
//
//	paid receipt and nothing pending  -> PAGADO
//	cancelled, or expired and unpaid  -> CRITICO
//	expires within UrgentDays         -> URGENTE
//	expires within AttentionDays      -> ATENCION
//	otherwise (or no end date)        -> AL_DIA
func (e *Engine) PriorityTier(days *int, pending decimal.Decimal, receiptStatus string) Priority {
	status := NormalizeStatus(receiptStatus)

	if status == MyStatusPagadaTotal && !pending.IsPositive() {
		return PriorityPagado
	}
	if status.IsCancelled() {
		return PriorityCritico
	}
	if days == nil {
		return PriorityAlDia
	}

	d := *days
	switch {
	case d < 0:
		return PriorityCritico
	case d <= e.cfg.Bands.UrgentDays:
		return PriorityUrgente
	case d <= e.cfg.Bands.AttentionDays:
		return PriorityAtencion
	default:
		return PriorityAlDia
	}
}

type RenewalState string

const (
	RenewalRenovada  RenewalState = "RENOVADA"
	RenewalVencida   RenewalState = "VENCIDA"
	RenewalPendiente RenewalState = "PENDIENTE"
)

// RenewalState classifies p when its end date lies within
// +/- RenewalWindowDays of ref. A successor is another policy with the same
// number root (version suffix removed) and a later start date. ok is false
// outside the window or without an end date.
func (e *Engine) RenewalState(p Policy, candidates []Policy, ref Date) (state RenewalState, ok bool) {
	days, ok := DaysToExpiry(p.EndDate, ref)
	if !ok {
		return "", false
	}
	window := e.cfg.Bands.RenewalWindowDays
	if days < -window || days > window {
		return "", false
	}

	root := PolicyRoot(p.StandardNumber)
	for _, c := range candidates {
		if c.ID == p.ID {
			continue
		}
		if PolicyRoot(c.StandardNumber) == root && c.StartDate.After(p.StartDate) {
			return RenewalRenovada, true
		}
	}

	if days < 0 {
		return RenewalVencida, true
	}
	return RenewalPendiente, true
}

// ReceiptsPerYear maps a payment form to the number of receipts issued per
// policy year. Unknown or empty forms are treated as annual.
func ReceiptsPerYear(paymentForm string) int {
	form := strings.ToUpper(paymentForm)
	switch {
	case strings.Contains(form, "MENS"):
		return 12
	case strings.Contains(form, "BIMEST"):
		return 6
	case strings.Contains(form, "TRIM"):
		return 4
	case strings.Contains(form, "SEMEST"):
		return 2
	default:
		return 1
	}
}

// ReceiptSchedule is the position of ref inside a policy's receipt calendar.
type ReceiptSchedule struct {
	Current int  // receipt due at ref, 1-based, capped at Total
	Total   int  // receipts per policy year
	NextDue Date // due date of the receipt after Current
}

// ReceiptPosition places ref in the receipt calendar that starts at start.
// Receipts fall every 12/Total months; dates before start count as the first
// receipt.
func ReceiptPosition(start Date, paymentForm string, ref Date) ReceiptSchedule {
	total := ReceiptsPerYear(paymentForm)
	step := 12 / total

	months := (ref.Year()-start.Year())*12 + int(ref.Month()) - int(start.Month())
	if ref.Day() < start.Day() {
		months--
	}
	if months < 0 {
		months = 0
	}

	current := months/step + 1
	if current > total {
		current = total
	}
	return ReceiptSchedule{
		Current: current,
		Total:   total,
		NextDue: start.AddMonths(current * step),
	}
}
