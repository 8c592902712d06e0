// Package settings manages the editable configuration rows and the yearly
// production goals.
//
// Rule keys are validated before they are stored: the full rules
// configuration is loaded with the edit applied, so a value that would
// leave the engine unable to start (a non-numeric threshold, an attention
// band shorter than the urgent band) is rejected and the stored row is left
// untouched.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mag/policy-engine/engine"
	"github.com/mag/policy-engine/factory"
)

// Store is the persistence settings need.
type Store interface {
	engine.ConfigStore
	engine.GoalStore
}

// Service edits configuration and goals.
type Service struct {
	store   Store
	factory *factory.Factory
	logger  *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
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

// Config lists every configuration row.
func (s *Service) Config(ctx context.Context) ([]engine.ConfigEntry, error) {
	return s.store.ListConfig(ctx)
}

// Rules returns the rules configuration currently in effect.
func (s *Service) Rules(ctx context.Context) (engine.Config, error) {
	return engine.LoadConfig(ctx, s.store)
}

// UpdateConfig sets an existing key. Unknown keys are ErrNotFound; rule
// values that would make the configuration invalid are ValidationErrors.
func (s *Service) UpdateConfig(ctx context.Context, key, value string) (engine.ConfigEntry, error) {
	if _, found, err := s.store.GetConfigValue(ctx, key); err != nil {
		return engine.ConfigEntry{}, err
	} else if !found {
		return engine.ConfigEntry{}, fmt.Errorf("config key %q: %w", key, engine.ErrNotFound)
	}

	if engine.IsRuleKey(key) {
		if _, err := engine.LoadConfig(ctx, engine.WithOverride(s.store, key, value)); err != nil {
			var ce *engine.ConfigurationError
			if errors.As(err, &ce) {
				return engine.ConfigEntry{}, &engine.ValidationError{Field: key, Value: value, Reason: ce.Reason}
			}
			return engine.ConfigEntry{}, err
		}
	}

	if err := s.store.SetConfigValue(ctx, key, value); err != nil {
		return engine.ConfigEntry{}, err
	}
	s.logger.InfoContext(ctx, "configuration updated", "key", key, "value", value)

	entries, err := s.store.ListConfig(ctx)
	if err != nil {
		return engine.ConfigEntry{}, err
	}
	for _, e := range entries {
		if e.Key == key {
			return e, nil
		}
	}
	return engine.ConfigEntry{}, fmt.Errorf("config key %q: %w", key, engine.ErrNotFound)
}

// SaveGoal validates and stores the goals of a year, replacing earlier ones.
func (s *Service) SaveGoal(ctx context.Context, gj factory.GoalJSON) (engine.Goal, error) {
	g, err := s.factory.GoalFromJSON(gj)
	if err != nil {
		return engine.Goal{}, err
	}
	if err := s.store.SaveGoal(ctx, g); err != nil {
		return engine.Goal{}, err
	}
	s.logger.InfoContext(ctx, "goal saved", "year", g.Year)
	return g, nil
}

// Goal returns the goals of year.
func (s *Service) Goal(ctx context.Context, year int) (engine.Goal, error) {
	return s.store.GetGoal(ctx, year)
}
