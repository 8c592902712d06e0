/*
Package portfolio manages the policy and agent book.

PURPOSE:
  Ingests policies and agents through the factory, serves policy listings
  classified at query time, and re-applies the rules to refresh the
  persisted classification snapshots.

SNAPSHOTS:
  The store keeps the last classification of every policy. Reads never
  trust it: every listing recomputes, and a snapshot taken for the same
  analysis year that disagrees is logged, counted, and replaced in the
  response by the recomputed value. ApplyRules rewrites snapshots.

SEE ALSO:
  - engine/classify.go: The rules
  - factory/records.go: Input validation
*/
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mag/policy-engine/engine"
	"github.com/mag/policy-engine/factory"
	"github.com/mag/policy-engine/metrics"
)

// Store is the persistence the portfolio needs.
type Store interface {
	engine.PolicyStore
	engine.AgentStore
	engine.ProductStore
	engine.ConfigSource
}

// Service orchestrates policy and agent management.
type Service struct {
	store   Store
	factory *factory.Factory
	logger  *slog.Logger
	metrics *metrics.Metrics
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

func WithFactory(f *factory.Factory) Option {
	return func(s *Service) {
		s.factory = f
	}
}

// New constructs a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, factory: factory.New(), logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine builds the rules engine from the current stored configuration.
func (s *Service) Engine(ctx context.Context) (*engine.Engine, error) {
	eng, err := engine.NewFromSource(ctx, s.store)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules configuration: %w", err)
	}
	return eng, nil
}

// =============================================================================
// INGESTION
// =============================================================================

// CreatePolicy validates, classifies and stores a policy. The snapshot is
// taken for the policy's application year.
func (s *Service) CreatePolicy(ctx context.Context, pj factory.PolicyJSON) (engine.ClassifiedPolicy, error) {
	p, err := s.factory.PolicyFromJSON(pj)
	if err != nil {
		return engine.ClassifiedPolicy{}, err
	}

	if err := s.resolveAgent(ctx, &p, pj.AgentCode); err != nil {
		return engine.ClassifiedPolicy{}, err
	}
	if p.ProductID != "" {
		if _, err := s.store.GetProduct(ctx, p.ProductID); err != nil {
			if errors.Is(err, engine.ErrNotFound) {
				return engine.ClassifiedPolicy{}, &engine.ValidationError{Field: "product_id", Value: string(p.ProductID), Reason: "unknown product"}
			}
			return engine.ClassifiedPolicy{}, err
		}
	}

	eng, err := s.Engine(ctx)
	if err != nil {
		return engine.ClassifiedPolicy{}, err
	}
	c, err := eng.Classify(p, p.ApplicationYear)
	if err != nil {
		return engine.ClassifiedPolicy{}, err
	}
	p.Snapshot = &engine.ClassificationSnapshot{Classification: c, AnalysisYear: p.ApplicationYear}

	if err := s.store.SavePolicy(ctx, p); err != nil {
		return engine.ClassifiedPolicy{}, err
	}

	s.metrics.IncrementClassification(p.Ramo.String(), string(c.Category))
	s.logger.InfoContext(ctx, "policy created",
		"policy_id", p.ID,
		"number", p.Number,
		"ramo", p.Ramo.String(),
		"category", c.Category,
		"reexpedition", engine.DetectReexpedition(p.Number),
	)

	return engine.ClassifiedPolicy{Policy: p, Classification: c, AnalysisYear: p.ApplicationYear}, nil
}

func (s *Service) resolveAgent(ctx context.Context, p *engine.Policy, code string) error {
	switch {
	case p.AgentID != "":
		if _, err := s.store.GetAgent(ctx, p.AgentID); err != nil {
			if errors.Is(err, engine.ErrNotFound) {
				return &engine.ValidationError{Field: "agent_id", Value: string(p.AgentID), Reason: "unknown agent"}
			}
			return err
		}
	case code != "":
		a, err := s.store.GetAgentByCode(ctx, code)
		if err != nil {
			if errors.Is(err, engine.ErrNotFound) {
				return &engine.ValidationError{Field: "agent_code", Value: code, Reason: "unknown agent"}
			}
			return err
		}
		p.AgentID = a.ID
		if p.Segment == "" {
			p.Segment = a.Segment
		}
	}
	return nil
}

// CreateAgent validates and stores an agent.
func (s *Service) CreateAgent(ctx context.Context, aj factory.AgentJSON) (engine.Agent, error) {
	a, err := s.factory.AgentFromJSON(aj)
	if err != nil {
		return engine.Agent{}, err
	}
	if err := s.store.SaveAgent(ctx, a); err != nil {
		return engine.Agent{}, err
	}
	s.logger.InfoContext(ctx, "agent created", "agent_id", a.ID, "code", a.Code, "segment_group", engine.SegmentGroup(a.Segment))
	return a, nil
}

// CreateProduct validates and stores a product.
func (s *Service) CreateProduct(ctx context.Context, pj factory.ProductJSON) (engine.Product, error) {
	p, err := s.factory.ProductFromJSON(pj)
	if err != nil {
		return engine.Product{}, err
	}
	if err := s.store.SaveProduct(ctx, p); err != nil {
		return engine.Product{}, err
	}
	return p, nil
}

// ListProducts returns the product catalog.
func (s *Service) ListProducts(ctx context.Context) ([]engine.Product, error) {
	return s.store.ListProducts(ctx)
}

// ListAgents returns agents matching f.
func (s *Service) ListAgents(ctx context.Context, f engine.AgentFilter) ([]engine.Agent, error) {
	return s.store.ListAgents(ctx, f)
}

// Agents returns every agent keyed by ID.
func (s *Service) Agents(ctx context.Context) (map[engine.AgentID]engine.Agent, error) {
	agents, err := s.store.ListAgents(ctx, engine.AgentFilter{})
	if err != nil {
		return nil, err
	}
	byID := make(map[engine.AgentID]engine.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	return byID, nil
}

// =============================================================================
// QUERY-TIME CLASSIFICATION
// =============================================================================

// ListPolicies returns the policies matching f classified for analysisYear.
func (s *Service) ListPolicies(ctx context.Context, f engine.PolicyFilter, analysisYear int) ([]engine.ClassifiedPolicy, error) {
	eng, err := s.Engine(ctx)
	if err != nil {
		return nil, err
	}
	return s.Classified(ctx, eng, f, analysisYear)
}

// Policy returns one policy classified for analysisYear (0 means its own
// application year).
func (s *Service) Policy(ctx context.Context, id engine.PolicyID, analysisYear int) (engine.ClassifiedPolicy, error) {
	p, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return engine.ClassifiedPolicy{}, err
	}
	if analysisYear == 0 {
		analysisYear = p.ApplicationYear
	}
	eng, err := s.Engine(ctx)
	if err != nil {
		return engine.ClassifiedPolicy{}, err
	}
	c, err := eng.Classify(p, analysisYear)
	if err != nil {
		return engine.ClassifiedPolicy{}, &engine.PolicyError{PolicyID: p.ID, Number: p.Number, Err: err}
	}
	return engine.ClassifiedPolicy{Policy: p, Classification: c, AnalysisYear: analysisYear}, nil
}

// Policies returns the stored policies matching f without classifying them.
func (s *Service) Policies(ctx context.Context, f engine.PolicyFilter) ([]engine.Policy, error) {
	policies, err := s.store.ListPolicies(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	return policies, nil
}

// Classified fetches policies and classifies them with eng. Snapshots that
// disagree with the recomputation are reported.
func (s *Service) Classified(ctx context.Context, eng *engine.Engine, f engine.PolicyFilter, analysisYear int) ([]engine.ClassifiedPolicy, error) {
	policies, err := s.Policies(ctx, f)
	if err != nil {
		return nil, err
	}

	classified, err := eng.ClassifyAll(ctx, policies, analysisYear)
	if err != nil {
		return nil, err
	}

	for _, cp := range classified {
		snap := cp.Snapshot
		if snap == nil || snap.AnalysisYear != analysisYear || snap.Matches(cp.Classification) {
			continue
		}
		s.metrics.IncrementDivergence()
		s.logger.WarnContext(ctx, "classification snapshot diverges from rules",
			"policy_id", cp.ID,
			"number", cp.Number,
			"analysis_year", analysisYear,
			"stored_category", snap.Category,
			"computed_category", cp.Classification.Category,
			"stored_tier", snap.Tier,
			"computed_tier", cp.Classification.Tier,
		)
	}
	return classified, nil
}

// =============================================================================
// RULE RE-APPLICATION
// =============================================================================

// ApplyOptions selects the policies to re-classify.
type ApplyOptions struct {
	Year int // analysis year; 0 classifies each policy for its own application year
	Ramo engine.Ramo
}

// ApplyResult reports a rule re-application.
type ApplyResult struct {
	Processed int
	Updated   int // snapshot changed
	Unchanged int
	Failed    int
	Errors    []string // first errors, at most maxReportedErrors
}

const maxReportedErrors = 10

// ApplyRules recomputes the classification of every selected policy and
// rewrites the stored snapshots in one batch. Policies that fail
// validation are reported and skipped.
func (s *Service) ApplyRules(ctx context.Context, opts ApplyOptions) (ApplyResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("apply_rules", time.Since(start)) }()

	eng, err := s.Engine(ctx)
	if err != nil {
		return ApplyResult{}, err
	}
	policies, err := s.store.ListPolicies(ctx, engine.PolicyFilter{Ramo: opts.Ramo, ApplicationYear: opts.Year})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("failed to list policies: %w", err)
	}

	var res ApplyResult
	snaps := make(map[engine.PolicyID]engine.ClassificationSnapshot)

	for _, p := range policies {
		if err := ctx.Err(); err != nil {
			return ApplyResult{}, err
		}
		res.Processed++

		year := opts.Year
		if year == 0 {
			year = p.ApplicationYear
		}
		c, err := eng.Classify(p, year)
		if err != nil {
			res.Failed++
			if len(res.Errors) < maxReportedErrors {
				res.Errors = append(res.Errors, (&engine.PolicyError{PolicyID: p.ID, Number: p.Number, Err: err}).Error())
			}
			continue
		}
		s.metrics.IncrementClassification(p.Ramo.String(), string(c.Category))

		snap := engine.ClassificationSnapshot{Classification: c, AnalysisYear: year}
		if p.Snapshot != nil && p.Snapshot.AnalysisYear == year && p.Snapshot.Matches(c) {
			res.Unchanged++
			continue
		}
		snaps[p.ID] = snap
		res.Updated++
	}

	if len(snaps) > 0 {
		if err := s.store.SaveSnapshots(ctx, snaps); err != nil {
			return ApplyResult{}, fmt.Errorf("failed to save snapshots: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "rules applied",
		"year", opts.Year,
		"processed", res.Processed,
		"updated", res.Updated,
		"failed", res.Failed,
	)
	return res, nil
}
