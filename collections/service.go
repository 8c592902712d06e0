/*
Package collections builds the collections ledger (cobranza).

PURPOSE:
  Shows which receivables need chasing. Every policy applied in the analysis
  year becomes a debtor tagged with a priority tier; policies whose end date
  is near the reference date are tracked for renewal; cancelled policies are
  listed with the premium they lost.

SECTIONS:
  Summary        counts per tier plus premium collected and still to collect
  Debtors        most pressing first (tier rank, then days to expiry)
  Renewals       end date within the renewal window of the reference date
  Cancellations  cancelled receipts, largest premium first
  Alerts         one entry per non-empty warning condition
  FollowUp       twelve months of expected vs collected premium

SCOPE:
  Year, ramo and agent filters narrow the book. The priority filter only
  narrows Debtors; the summary always counts every tier. Renewal successors
  are searched in the whole book, since a renewal may be applied in a
  different year or carried by another agent.

SEE ALSO:
  - engine/collections.go: Priority tiers, renewal state, receipt calendar
*/
package collections

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mag/policy-engine/engine"
	"github.com/mag/policy-engine/metrics"
	"github.com/mag/policy-engine/portfolio"
	"github.com/shopspring/decimal"
)

// Filter narrows the ledger. Zero values select everything; Year defaults
// to the reference year.
type Filter struct {
	Year      int
	Ramo      engine.Ramo
	AgentCode string
	Priority  engine.Priority
}

// Ledger is the collections view at a reference date.
type Ledger struct {
	Ref           engine.Date
	Year          int
	Summary       Summary
	Debtors       []Debtor
	Renewals      []Renewal
	Cancellations []Cancellation
	Alerts        []Alert
	FollowUp      []MonthlyFollowUp // always 12 entries
}

type Summary struct {
	Total    int
	Critico  int
	Urgente  int
	Atencion int
	AlDia    int
	Pagado   int

	Expected         decimal.Decimal // net premium of the book
	Collected        decimal.Decimal
	PremiumToCollect decimal.Decimal
	CollectionPct    decimal.Decimal // Collected/Expected*100, zero without premium
}

// Debtor is one receivable.
type Debtor struct {
	Policy       engine.Policy
	AgentCode    string
	AgentName    string
	DaysToExpiry *int // nil without end date
	Pending      decimal.Decimal
	Priority     engine.Priority
	Receipt      engine.ReceiptSchedule
	YearBoundary bool // last payment on January 2-5
}

type Renewal struct {
	Policy       engine.Policy
	AgentCode    string
	AgentName    string
	DaysToExpiry int
	State        engine.RenewalState
}

type Cancellation struct {
	Policy      engine.Policy
	AgentCode   string
	AgentName   string
	LostPremium decimal.Decimal
	Reason      string
}

type AlertKind string

const (
	AlertCritical     AlertKind = "critical"
	AlertUrgent       AlertKind = "urgent"
	AlertRenewal      AlertKind = "renewal"
	AlertCancelled    AlertKind = "cancelled"
	AlertYearBoundary AlertKind = "year_boundary"
)

// Alert summarizes one warning condition of the ledger.
type Alert struct {
	Kind   AlertKind
	Count  int
	Amount decimal.Decimal
	Days   int // most overdue days for critical alerts, renewal horizon for renewals
}

// MonthlyFollowUp is the premium applied in one month and what was collected
// of it.
type MonthlyFollowUp struct {
	Period    string
	Policies  int
	Expected  decimal.Decimal
	Collected decimal.Decimal
	Pct       decimal.Decimal
}

// Service builds collections ledgers.
type Service struct {
	portfolio *portfolio.Service
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service.
func New(p *portfolio.Service, opts ...Option) *Service {
	s := &Service{portfolio: p, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Build computes the ledger at ref.
func (s *Service) Build(ctx context.Context, ref engine.Date, f Filter) (*Ledger, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("collections", time.Since(start)) }()

	if ref.IsZero() {
		return nil, &engine.ValidationError{Field: "ref", Reason: "required"}
	}
	if f.Priority != "" {
		if _, ok := engine.ParsePriority(string(f.Priority)); !ok {
			return nil, &engine.ValidationError{Field: "priority", Value: string(f.Priority), Reason: "unknown priority"}
		}
	}
	year := f.Year
	if year == 0 {
		year = ref.Year()
	}

	eng, err := s.portfolio.Engine(ctx)
	if err != nil {
		return nil, err
	}
	agents, err := s.portfolio.Agents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	book, err := s.portfolio.Policies(ctx, engine.PolicyFilter{})
	if err != nil {
		return nil, err
	}
	scoped, err := s.portfolio.Policies(ctx, engine.PolicyFilter{Ramo: f.Ramo, AgentCode: f.AgentCode})
	if err != nil {
		return nil, err
	}

	l := &Ledger{Ref: ref, Year: year}

	var ofYear []engine.Policy
	for _, p := range scoped {
		if p.ApplicationYear == year {
			ofYear = append(ofYear, p)
		}
	}

	all := debtors(eng, ofYear, agents, ref)
	l.Summary = summarize(all)
	for _, d := range all {
		if f.Priority != "" && d.Priority != f.Priority {
			continue
		}
		s.metrics.IncrementPriority(string(d.Priority))
		l.Debtors = append(l.Debtors, d)
	}

	l.Renewals = renewals(eng, scoped, book, agents, ref)
	l.Cancellations = cancellations(ofYear, agents)
	l.Alerts = alerts(all, l.Renewals, l.Cancellations, eng.Config().Bands.UrgentDays)
	l.FollowUp = followUp(ofYear, year)

	s.logger.DebugContext(ctx, "collections ledger built",
		"ref", ref.String(),
		"year", year,
		"debtors", len(l.Debtors),
		"renewals", len(l.Renewals),
		"cancellations", len(l.Cancellations),
	)
	return l, nil
}

// =============================================================================
// SECTIONS
// =============================================================================

func debtors(eng *engine.Engine, policies []engine.Policy, agents map[engine.AgentID]engine.Agent, ref engine.Date) []Debtor {
	out := make([]Debtor, 0, len(policies))
	for _, p := range policies {
		var days *int
		if d, ok := engine.DaysToExpiry(p.EndDate, ref); ok {
			days = &d
		}
		pending := p.PendingPremium()
		a := agents[p.AgentID]
		out = append(out, Debtor{
			Policy:       p,
			AgentCode:    a.Code,
			AgentName:    a.Name,
			DaysToExpiry: days,
			Pending:      pending,
			Priority:     eng.PriorityTier(days, pending, p.ReceiptStatus),
			Receipt:      engine.ReceiptPosition(p.StartDate, p.PaymentForm, ref),
			YearBoundary: engine.YearBoundaryAlert(p.LastPaymentDate),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		di, dj := out[i].DaysToExpiry, out[j].DaysToExpiry
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		}
		return *di < *dj
	})
	return out
}

func summarize(debtors []Debtor) Summary {
	s := Summary{
		Total:            len(debtors),
		Expected:         decimal.Zero,
		Collected:        decimal.Zero,
		PremiumToCollect: decimal.Zero,
	}
	for _, d := range debtors {
		switch d.Priority {
		case engine.PriorityCritico:
			s.Critico++
		case engine.PriorityUrgente:
			s.Urgente++
		case engine.PriorityAtencion:
			s.Atencion++
		case engine.PriorityAlDia:
			s.AlDia++
		case engine.PriorityPagado:
			s.Pagado++
		}
		s.Expected = s.Expected.Add(d.Policy.NetPremium)
		s.Collected = s.Collected.Add(d.Policy.PaidPremium)
		s.PremiumToCollect = s.PremiumToCollect.Add(d.Pending)
	}
	s.CollectionPct = pct(s.Collected, s.Expected)
	return s
}

func renewals(eng *engine.Engine, scoped, book []engine.Policy, agents map[engine.AgentID]engine.Agent, ref engine.Date) []Renewal {
	var out []Renewal
	for _, p := range scoped {
		state, ok := eng.RenewalState(p, book, ref)
		if !ok {
			continue
		}
		days, _ := engine.DaysToExpiry(p.EndDate, ref)
		a := agents[p.AgentID]
		out = append(out, Renewal{Policy: p, AgentCode: a.Code, AgentName: a.Name, DaysToExpiry: days, State: state})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DaysToExpiry < out[j].DaysToExpiry })
	return out
}

func cancellations(policies []engine.Policy, agents map[engine.AgentID]engine.Agent) []Cancellation {
	var out []Cancellation
	for _, p := range policies {
		if !p.MyStatus().IsCancelled() {
			continue
		}
		a := agents[p.AgentID]
		out = append(out, Cancellation{
			Policy:      p,
			AgentCode:   a.Code,
			AgentName:   a.Name,
			LostPremium: p.PendingPremium(),
			Reason:      p.ReceiptStatus,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Policy.NetPremium.GreaterThan(out[j].Policy.NetPremium)
	})
	return out
}

func alerts(debtors []Debtor, renewals []Renewal, cancelled []Cancellation, horizon int) []Alert {
	critical := Alert{Kind: AlertCritical, Amount: decimal.Zero}
	urgent := Alert{Kind: AlertUrgent, Amount: decimal.Zero}
	boundary := Alert{Kind: AlertYearBoundary, Amount: decimal.Zero}

	for _, d := range debtors {
		switch d.Priority {
		case engine.PriorityCritico:
			critical.Count++
			critical.Amount = critical.Amount.Add(d.Pending)
			if d.DaysToExpiry != nil && -*d.DaysToExpiry > critical.Days {
				critical.Days = -*d.DaysToExpiry
			}
		case engine.PriorityUrgente:
			urgent.Count++
			urgent.Amount = urgent.Amount.Add(d.Pending)
		}
		if d.YearBoundary {
			boundary.Count++
			boundary.Amount = boundary.Amount.Add(d.Policy.PaidPremium)
		}
	}

	renewal := Alert{Kind: AlertRenewal, Amount: decimal.Zero, Days: horizon}
	for _, r := range renewals {
		if r.State == engine.RenewalPendiente && r.DaysToExpiry <= horizon {
			renewal.Count++
			renewal.Amount = renewal.Amount.Add(r.Policy.NetPremium)
		}
	}

	cancel := Alert{Kind: AlertCancelled, Count: len(cancelled), Amount: decimal.Zero}
	for _, c := range cancelled {
		cancel.Amount = cancel.Amount.Add(c.LostPremium)
	}

	var out []Alert
	for _, a := range []Alert{critical, urgent, renewal, cancel, boundary} {
		if a.Count > 0 {
			out = append(out, a)
		}
	}
	return out
}

func followUp(policies []engine.Policy, year int) []MonthlyFollowUp {
	months := make([]MonthlyFollowUp, 12)
	index := make(map[string]int, 12)
	for m := 1; m <= 12; m++ {
		period := fmt.Sprintf("%04d-%02d", year, m)
		months[m-1] = MonthlyFollowUp{Period: period, Expected: decimal.Zero, Collected: decimal.Zero}
		index[period] = m - 1
	}

	for _, p := range policies {
		i, ok := index[p.ApplicationPeriod]
		if !ok {
			continue
		}
		months[i].Policies++
		months[i].Expected = months[i].Expected.Add(p.NetPremium)
		months[i].Collected = months[i].Collected.Add(p.PaidPremium)
	}
	for i := range months {
		months[i].Pct = pct(months[i].Collected, months[i].Expected)
	}
	return months
}

func pct(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Mul(decimal.NewFromInt(100)).Div(whole)
}
