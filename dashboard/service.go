// Package dashboard builds the production dashboard for an analysis year.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mag/policy-engine/engine"
	"github.com/mag/policy-engine/metrics"
	"github.com/mag/policy-engine/portfolio"
	"github.com/shopspring/decimal"
)

const topAgentsLimit = 10

// Dashboard is the production view of one year.
type Dashboard struct {
	Year             int
	KPIs             engine.KPISet
	Monthly          []MonthlyProduction // always 12 entries
	TopAgents        []AgentProduction
	GamaDistribution []GamaShare
	Goal             *GoalProgress // nil when no goal is set
}

// MonthlyProduction is new business applied in one month.
type MonthlyProduction struct {
	Period       string
	LifePolicies int
	LifePremium  decimal.Decimal
	GMMPolicies  int
	GMMPremium   decimal.Decimal
}

// AgentProduction is an agent's new business for the year.
type AgentProduction struct {
	AgentID      engine.AgentID
	Code         string
	Name         string
	Office       string
	Segment      string
	SegmentGroup string
	Policies     int
	Premium      decimal.Decimal
}

// GamaShare is the Major-Medical production of one gama.
type GamaShare struct {
	Gama     string
	Policies int
	Premium  decimal.Decimal
}

// GoalProgress compares production with the year's goals.
type GoalProgress struct {
	Goal            engine.Goal
	LifePoliciesPct decimal.Decimal
	LifePremiumPct  decimal.Decimal
	GMMPoliciesPct  decimal.Decimal
	GMMPremiumPct   decimal.Decimal
	GMMInsuredPct   decimal.Decimal
}

// Service builds dashboards.
type Service struct {
	portfolio *portfolio.Service
	goals     engine.GoalStore
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
func New(p *portfolio.Service, goals engine.GoalStore, opts ...Option) *Service {
	s := &Service{portfolio: p, goals: goals, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Build computes the dashboard of year.
//
// KPIs are aggregated over the whole book so that the cancellation bucket
// keeps its year-independent count; the other sections only look at
// policies applied in year.
func (s *Service) Build(ctx context.Context, year int) (*Dashboard, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("dashboard", time.Since(start)) }()

	eng, err := s.portfolio.Engine(ctx)
	if err != nil {
		return nil, err
	}
	book, err := s.portfolio.Classified(ctx, eng, engine.PolicyFilter{}, year)
	if err != nil {
		return nil, err
	}
	agents, err := s.portfolio.Agents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	var ofYear []engine.ClassifiedPolicy
	for _, cp := range book {
		if cp.ApplicationYear == year {
			ofYear = append(ofYear, cp)
		}
	}

	d := &Dashboard{
		Year:             year,
		KPIs:             engine.AggregateKPIs(book, year),
		Monthly:          monthly(ofYear, year),
		TopAgents:        topAgents(ofYear, agents),
		GamaDistribution: gamaDistribution(ofYear),
	}

	goal, err := s.goals.GetGoal(ctx, year)
	switch {
	case err == nil:
		d.Goal = progress(goal, d.KPIs)
	case !errors.Is(err, engine.ErrNotFound):
		return nil, fmt.Errorf("failed to load goals: %w", err)
	}

	s.logger.DebugContext(ctx, "dashboard built", "year", year, "policies", len(book), "of_year", len(ofYear))
	return d, nil
}

func monthly(policies []engine.ClassifiedPolicy, year int) []MonthlyProduction {
	months := make([]MonthlyProduction, 12)
	index := make(map[string]int, 12)
	for m := 1; m <= 12; m++ {
		period := fmt.Sprintf("%04d-%02d", year, m)
		months[m-1] = MonthlyProduction{Period: period, LifePremium: decimal.Zero, GMMPremium: decimal.Zero}
		index[period] = m - 1
	}

	for _, cp := range policies {
		if !cp.Classification.IsNew() {
			continue
		}
		i, ok := index[cp.ApplicationPeriod]
		if !ok {
			continue
		}
		switch cp.Ramo {
		case engine.RamoVida:
			months[i].LifePolicies++
			months[i].LifePremium = months[i].LifePremium.Add(cp.NetPremium)
		case engine.RamoGMM:
			months[i].GMMPolicies++
			months[i].GMMPremium = months[i].GMMPremium.Add(cp.NetPremium)
		}
	}
	return months
}

func topAgents(policies []engine.ClassifiedPolicy, agents map[engine.AgentID]engine.Agent) []AgentProduction {
	byAgent := make(map[engine.AgentID]*AgentProduction)
	for _, cp := range policies {
		if cp.AgentID == "" || !cp.Classification.IsNew() {
			continue
		}
		ap, ok := byAgent[cp.AgentID]
		if !ok {
			a := agents[cp.AgentID]
			ap = &AgentProduction{
				AgentID:      cp.AgentID,
				Code:         a.Code,
				Name:         a.Name,
				Office:       a.Office,
				Segment:      a.Segment,
				SegmentGroup: engine.SegmentGroup(a.Segment),
				Premium:      decimal.Zero,
			}
			byAgent[cp.AgentID] = ap
		}
		ap.Policies++
		ap.Premium = ap.Premium.Add(cp.NetPremium)
	}

	out := make([]AgentProduction, 0, len(byAgent))
	for _, ap := range byAgent {
		out = append(out, *ap)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Premium.Cmp(out[j].Premium); c != 0 {
			return c > 0
		}
		return out[i].Code < out[j].Code
	})
	if len(out) > topAgentsLimit {
		out = out[:topAgentsLimit]
	}
	return out
}

func gamaDistribution(policies []engine.ClassifiedPolicy) []GamaShare {
	byGama := make(map[string]*GamaShare)
	for _, cp := range policies {
		if cp.Ramo != engine.RamoGMM || cp.Gama == "" {
			continue
		}
		g, ok := byGama[cp.Gama]
		if !ok {
			g = &GamaShare{Gama: cp.Gama, Premium: decimal.Zero}
			byGama[cp.Gama] = g
		}
		g.Policies++
		g.Premium = g.Premium.Add(cp.NetPremium)
	}

	out := make([]GamaShare, 0, len(byGama))
	for _, g := range byGama {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Gama < out[j].Gama })
	return out
}

func progress(g engine.Goal, k engine.KPISet) *GoalProgress {
	return &GoalProgress{
		Goal:            g,
		LifePoliciesPct: pct(decimal.NewFromInt(int64(k.PolizasNuevasVida)), decimal.NewFromInt(int64(g.LifePolicies))),
		LifePremiumPct:  pct(k.PrimaNuevaVida, g.LifePremium),
		GMMPoliciesPct:  pct(decimal.NewFromInt(int64(k.PolizasNuevasGMM)), decimal.NewFromInt(int64(g.GMMPolicies))),
		GMMPremiumPct:   pct(k.PrimaNuevaGMM, g.GMMPremium),
		GMMInsuredPct:   pct(decimal.NewFromInt(int64(k.AseguradosNuevosGMM)), decimal.NewFromInt(int64(g.GMMInsured))),
	}
}

// pct is actual/goal*100, zero when there is no goal.
func pct(actual, goal decimal.Decimal) decimal.Decimal {
	if !goal.IsPositive() {
		return decimal.Zero
	}
	return actual.Mul(decimal.NewFromInt(100)).Div(goal)
}
