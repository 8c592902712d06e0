/*
store.go - Persistence interfaces for ingested records

PURPOSE:
  Defines the boundary between the rules and the relational store. The
  engine never opens a database; services receive a Store at construction
  and hand fetched snapshots to the pure functions.

KEY INTERFACES:
  PolicyStore:         Policies and their persisted classification snapshot
  AgentStore:          Agents (unique code)
  ProductStore:        Product catalog (ramo, plan, gama)
  IndicatorStore:      Insurer indicator feed, append-only per period
  ConfigStore:         Key/value rule configuration (also a ConfigSource)
  GoalStore:           Yearly production goals
  ReconciliationStore: History of reconciliation runs

CONCURRENCY:
  Implementations must tolerate concurrent readers and never hold a lock
  across two calls. Multi-row writes (AppendIndicators, SaveSnapshots) are
  all-or-nothing.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - engine/store/memory.go: In-memory for testing

SEE ALSO:
  - config.go: LoadConfig reads through ConfigSource
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// PolicyFilter narrows ListPolicies. Zero fields don't filter.
type PolicyFilter struct {
	Ramo            Ramo
	AgentCode       string
	ApplicationYear int
	Search          string // substring of number, insured or contractor name
	Limit           int
	Offset          int
}

// AgentFilter narrows ListAgents.
type AgentFilter struct {
	Status AgentStatus
	Search string // substring of code or name
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

type PolicyStore interface {
	// SavePolicy inserts a policy. Returns ErrConflict if the number exists.
	SavePolicy(ctx context.Context, p Policy) error

	// GetPolicy returns ErrNotFound for unknown ids.
	GetPolicy(ctx context.Context, id PolicyID) (Policy, error)

	// ListPolicies returns policies ordered by start date, newest first.
	ListPolicies(ctx context.Context, f PolicyFilter) ([]Policy, error)

	// SaveSnapshots replaces the classification snapshot of several
	// policies atomically. Unknown ids fail the whole batch with ErrNotFound.
	SaveSnapshots(ctx context.Context, snaps map[PolicyID]ClassificationSnapshot) error
}

type AgentStore interface {
	// SaveAgent inserts an agent. Returns ErrConflict if the code exists.
	SaveAgent(ctx context.Context, a Agent) error
	GetAgent(ctx context.Context, id AgentID) (Agent, error)
	GetAgentByCode(ctx context.Context, code string) (Agent, error)
	ListAgents(ctx context.Context, f AgentFilter) ([]Agent, error)
}

type ProductStore interface {
	// SaveProduct inserts a product. Returns ErrConflict on a duplicate
	// (ramo, plan, gama).
	SaveProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id ProductID) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// IndicatorStore is APPEND-ONLY. There is no update or delete.
type IndicatorStore interface {
	AppendIndicators(ctx context.Context, inds []ExternalIndicator) error
	ListIndicators(ctx context.Context, period string) ([]ExternalIndicator, error)

	// ListPeriods returns the distinct feed periods, newest first.
	ListPeriods(ctx context.Context) ([]string, error)
}

// ConfigEntry is one configuration row.
type ConfigEntry struct {
	Key         string
	Value       string
	Type        string // decimal, int, text
	Group       string
	Description string
	UpdatedAt   time.Time
}

type ConfigStore interface {
	ConfigSource

	// SetConfigValue updates an existing key. Returns ErrNotFound otherwise.
	SetConfigValue(ctx context.Context, key, value string) error
	ListConfig(ctx context.Context) ([]ConfigEntry, error)
}

type GoalStore interface {
	SaveGoal(ctx context.Context, g Goal) error

	// GetGoal returns ErrNotFound when no goal exists for the year.
	GetGoal(ctx context.Context, year int) (Goal, error)
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

// ReconciliationRun is the persisted outcome of one reconciliation.
type ReconciliationRun struct {
	ID        string
	Period    string
	Options   ReconcileOptions
	Summary   Summary
	Items     []RunItem
	CreatedAt time.Time
}

// RunItem is the persisted form of a ReconciliationResult.
type RunItem struct {
	IndicatorID      string
	PolicyID         PolicyID
	PolicyNumber     string
	Verdict          Verdict
	InternalCategory LifecycleCategory
	InsurerIsNew     bool
	Discrepancy      string
	Ambiguous        bool
}

type ReconciliationStore interface {
	SaveRun(ctx context.Context, run ReconciliationRun) error

	// ListRuns returns runs newest first, items omitted. An empty period
	// lists every run.
	ListRuns(ctx context.Context, period string) ([]ReconciliationRun, error)

	// GetRun returns a run with its items.
	GetRun(ctx context.Context, id string) (ReconciliationRun, error)
}

// Store aggregates every store interface. Both implementations satisfy it.
type Store interface {
	PolicyStore
	AgentStore
	ProductStore
	IndicatorStore
	ConfigStore
	GoalStore
	ReconciliationStore
}
