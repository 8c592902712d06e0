/*
Package reconciliation runs and records reconciliations against the insurer
indicator feed.

FLOW:
  IngestIndicators  validate a delivery and append it to the feed
  Preview           classify the book for the period's year and reconcile
  Run               Preview, then persist the run
  Runs / GetRun     history, newest first

  The feed is append-only: a corrected delivery is ingested again and the
  next run sees both. Runs are immutable once saved.

SEE ALSO:
  - engine/reconcile.go: Matching and verdicts
*/
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mag/policy-engine/engine"
	"github.com/mag/policy-engine/factory"
	"github.com/mag/policy-engine/metrics"
	"github.com/mag/policy-engine/portfolio"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence reconciliation needs.
type Store interface {
	engine.IndicatorStore
	engine.ReconciliationStore
}

// Service runs reconciliations.
type Service struct {
	portfolio *portfolio.Service
	store     Store
	factory   *factory.Factory
	logger    *slog.Logger
	metrics   *metrics.Metrics
	newID     func() string
	now       func() time.Time
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

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New constructs a Service.
func New(p *portfolio.Service, store Store, opts ...Option) *Service {
	s := &Service{
		portfolio: p,
		store:     store,
		factory:   factory.New(),
		logger:    slog.Default(),
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestIndicators validates a feed delivery and appends it. Either every
// record is stored or none is.
func (s *Service) IngestIndicators(ctx context.Context, records []factory.IndicatorJSON) ([]engine.ExternalIndicator, error) {
	if len(records) == 0 {
		return nil, &engine.ValidationError{Field: "indicators", Reason: "empty delivery"}
	}
	inds, err := s.factory.IndicatorsFromJSON(records)
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendIndicators(ctx, inds); err != nil {
		return nil, fmt.Errorf("failed to append indicators: %w", err)
	}
	s.logger.InfoContext(ctx, "indicators ingested", "count", len(inds), "period", inds[0].Period)
	return inds, nil
}

// Indicators returns the feed of period in delivery order.
func (s *Service) Indicators(ctx context.Context, period string) ([]engine.ExternalIndicator, error) {
	if _, _, err := engine.ParsePeriod(period); err != nil {
		return nil, err
	}
	return s.store.ListIndicators(ctx, period)
}

// Periods lists the periods present in the feed, newest first.
func (s *Service) Periods(ctx context.Context) ([]string, error) {
	return s.store.ListPeriods(ctx)
}

// Preview reconciles period without storing the outcome.
func (s *Service) Preview(ctx context.Context, period string, opts engine.ReconcileOptions) (engine.Report, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("reconcile_preview", time.Since(start)) }()

	return s.reconcile(ctx, period, opts)
}

// Run reconciles period and stores the outcome. The book is classified for
// the period's year. A strict run that finds an ambiguous match fails and
// stores nothing.
func (s *Service) Run(ctx context.Context, period string, opts engine.ReconcileOptions) (engine.ReconciliationRun, engine.Report, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("reconcile", time.Since(start)) }()

	report, err := s.reconcile(ctx, period, opts)
	if err != nil {
		return engine.ReconciliationRun{}, engine.Report{}, err
	}

	run := engine.ReconciliationRun{
		ID:        s.newID(),
		Period:    period,
		Options:   opts,
		Summary:   report.Summary,
		Items:     items(report.Results),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.SaveRun(ctx, run); err != nil {
		return engine.ReconciliationRun{}, engine.Report{}, fmt.Errorf("failed to save reconciliation run: %w", err)
	}

	for _, r := range report.Results {
		s.metrics.IncrementVerdict(string(r.Verdict))
	}
	s.metrics.AddAmbiguous(report.Summary.Ambiguous)

	s.logger.InfoContext(ctx, "reconciliation completed",
		"run_id", run.ID,
		"period", period,
		"total", report.Summary.Total,
		"match", report.Summary.Match,
		"mismatch", report.Summary.Mismatch,
		"insurer_only", report.Summary.InsurerOnly,
		"internal_only", report.Summary.InternalOnly,
		"ambiguous", report.Summary.Ambiguous,
		"match_pct", report.Summary.MatchPct,
	)
	return run, report, nil
}

func (s *Service) reconcile(ctx context.Context, period string, opts engine.ReconcileOptions) (engine.Report, error) {
	year, _, err := engine.ParsePeriod(period)
	if err != nil {
		return engine.Report{}, err
	}

	var (
		indicators []engine.ExternalIndicator
		book       []engine.ClassifiedPolicy
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		indicators, err = s.store.ListIndicators(gctx, period)
		if err != nil {
			return fmt.Errorf("failed to list indicators: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		eng, err := s.portfolio.Engine(gctx)
		if err != nil {
			return err
		}
		book, err = s.portfolio.Classified(gctx, eng, engine.PolicyFilter{}, year)
		return err
	})
	if err := g.Wait(); err != nil {
		return engine.Report{}, err
	}

	report, err := engine.Reconcile(indicators, book, period, opts)
	if err != nil {
		s.logger.WarnContext(ctx, "reconciliation failed", "period", period, "strict", opts.Strict, "error", err)
		return engine.Report{}, err
	}
	return report, nil
}

// Runs lists stored runs of period (all periods when empty), newest first.
func (s *Service) Runs(ctx context.Context, period string) ([]engine.ReconciliationRun, error) {
	if period != "" {
		if _, _, err := engine.ParsePeriod(period); err != nil {
			return nil, err
		}
	}
	return s.store.ListRuns(ctx, period)
}

// GetRun returns a stored run with its items.
func (s *Service) GetRun(ctx context.Context, id string) (engine.ReconciliationRun, error) {
	return s.store.GetRun(ctx, id)
}

func items(results []engine.ReconciliationResult) []engine.RunItem {
	out := make([]engine.RunItem, 0, len(results))
	for _, r := range results {
		item := engine.RunItem{
			Verdict:          r.Verdict,
			InternalCategory: r.InternalCategory,
			Discrepancy:      r.Discrepancy,
			Ambiguous:        r.Ambiguous,
		}
		if r.Indicator != nil {
			item.IndicatorID = r.Indicator.ID
			item.PolicyNumber = r.Indicator.PolicyNumber
			item.InsurerIsNew = r.Indicator.IsNew
		}
		if r.Policy != nil {
			item.PolicyID = r.Policy.ID
			if item.PolicyNumber == "" {
				item.PolicyNumber = r.Policy.Number
			}
		}
		out = append(out, item)
	}
	return out
}
