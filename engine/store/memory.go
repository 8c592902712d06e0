// Package store provides an in-memory engine.Store.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mag/policy-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	policies   map[engine.PolicyID]engine.Policy
	numbers    map[string]engine.PolicyID
	agents     map[engine.AgentID]engine.Agent
	agentCodes map[string]engine.AgentID
	products   map[engine.ProductID]engine.Product
	indicators []engine.ExternalIndicator
	config     map[string]engine.ConfigEntry
	goals      map[int]engine.Goal
	runs       []engine.ReconciliationRun
}

var _ engine.Store = (*Memory)(nil)

// NewMemory returns an empty store seeded with the default configuration.
func NewMemory() *Memory {
	m := &Memory{
		policies:   make(map[engine.PolicyID]engine.Policy),
		numbers:    make(map[string]engine.PolicyID),
		agents:     make(map[engine.AgentID]engine.Agent),
		agentCodes: make(map[string]engine.AgentID),
		products:   make(map[engine.ProductID]engine.Product),
		config:     make(map[string]engine.ConfigEntry),
		goals:      make(map[int]engine.Goal),
	}
	for _, e := range engine.DefaultEntries() {
		e.UpdatedAt = time.Now()
		m.config[e.Key] = e
	}
	return m
}

// =============================================================================
// POLICIES
// =============================================================================

func (m *Memory) SavePolicy(_ context.Context, p engine.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[p.ID]; ok {
		return engine.ErrConflict
	}
	if _, ok := m.numbers[p.Number]; ok {
		return engine.ErrConflict
	}
	m.policies[p.ID] = p
	m.numbers[p.Number] = p.ID
	return nil
}

func (m *Memory) GetPolicy(_ context.Context, id engine.PolicyID) (engine.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[id]
	if !ok {
		return engine.Policy{}, engine.ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPolicies(_ context.Context, f engine.PolicyFilter) ([]engine.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var agentID engine.AgentID
	if f.AgentCode != "" {
		id, ok := m.agentCodes[f.AgentCode]
		if !ok {
			return []engine.Policy{}, nil
		}
		agentID = id
	}
	search := strings.ToLower(f.Search)

	result := make([]engine.Policy, 0, len(m.policies))
	for _, p := range m.policies {
		if f.Ramo != 0 && p.Ramo != f.Ramo {
			continue
		}
		if agentID != "" && p.AgentID != agentID {
			continue
		}
		if f.ApplicationYear != 0 && p.ApplicationYear != f.ApplicationYear {
			continue
		}
		if search != "" && !containsAny(search, p.Number, p.StandardNumber, p.InsuredName, p.ContractorName) {
			continue
		}
		result = append(result, p)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].StartDate.After(result[j].StartDate)
		}
		return result[i].ID < result[j].ID
	})

	return page(result, f.Offset, f.Limit), nil
}

func (m *Memory) SaveSnapshots(_ context.Context, snaps map[engine.PolicyID]engine.ClassificationSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range snaps {
		if _, ok := m.policies[id]; !ok {
			return engine.ErrNotFound
		}
	}
	for id, s := range snaps {
		p := m.policies[id]
		snap := s
		p.Snapshot = &snap
		m.policies[id] = p
	}
	return nil
}

// =============================================================================
// AGENTS & PRODUCTS
// =============================================================================

func (m *Memory) SaveAgent(_ context.Context, a engine.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[a.ID]; ok {
		return engine.ErrConflict
	}
	if _, ok := m.agentCodes[a.Code]; ok {
		return engine.ErrConflict
	}
	m.agents[a.ID] = a
	m.agentCodes[a.Code] = a.ID
	return nil
}

func (m *Memory) GetAgent(_ context.Context, id engine.AgentID) (engine.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return engine.Agent{}, engine.ErrNotFound
	}
	return a, nil
}

func (m *Memory) GetAgentByCode(_ context.Context, code string) (engine.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.agentCodes[code]
	if !ok {
		return engine.Agent{}, engine.ErrNotFound
	}
	return m.agents[id], nil
}

func (m *Memory) ListAgents(_ context.Context, f engine.AgentFilter) ([]engine.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.ToLower(f.Search)
	result := make([]engine.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if search != "" && !containsAny(search, a.Code, a.Name) {
			continue
		}
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) SaveProduct(_ context.Context, p engine.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[p.ID]; ok {
		return engine.ErrConflict
	}
	for _, existing := range m.products {
		if existing.Ramo == p.Ramo && existing.Plan == p.Plan && existing.Gama == p.Gama {
			return engine.ErrConflict
		}
	}
	m.products[p.ID] = p
	return nil
}

func (m *Memory) GetProduct(_ context.Context, id engine.ProductID) (engine.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return engine.Product{}, engine.ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListProducts(_ context.Context) ([]engine.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]engine.Product, 0, len(m.products))
	for _, p := range m.products {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Ramo != result[j].Ramo {
			return result[i].Ramo < result[j].Ramo
		}
		return result[i].Plan < result[j].Plan
	})
	return result, nil
}

// =============================================================================
// INDICATORS - Append-only
// =============================================================================

// AppendIndicators adds a batch atomically.
func (m *Memory) AppendIndicators(_ context.Context, inds []engine.ExternalIndicator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make(map[string]bool, len(m.indicators))
	for _, ind := range m.indicators {
		ids[ind.ID] = true
	}
	for _, ind := range inds {
		if ids[ind.ID] {
			return engine.ErrConflict
		}
		ids[ind.ID] = true
	}
	m.indicators = append(m.indicators, inds...)
	return nil
}

func (m *Memory) ListIndicators(_ context.Context, period string) ([]engine.ExternalIndicator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.ExternalIndicator
	for _, ind := range m.indicators {
		if ind.Period == period {
			result = append(result, ind)
		}
	}
	return result, nil
}

func (m *Memory) ListPeriods(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var periods []string
	for _, ind := range m.indicators {
		if !seen[ind.Period] {
			seen[ind.Period] = true
			periods = append(periods, ind.Period)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(periods)))
	return periods, nil
}

// =============================================================================
// CONFIGURATION & GOALS
// =============================================================================

func (m *Memory) GetConfigValue(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.config[key]
	return e.Value, ok, nil
}

func (m *Memory) SetConfigValue(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.config[key]
	if !ok {
		return engine.ErrNotFound
	}
	e.Value = value
	e.UpdatedAt = time.Now()
	m.config[key] = e
	return nil
}

// DeleteConfigValue removes a key. Only used to exercise missing-key paths.
func (m *Memory) DeleteConfigValue(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.config, key)
}

func (m *Memory) ListConfig(_ context.Context) ([]engine.ConfigEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]engine.ConfigEntry, 0, len(m.config))
	for _, e := range m.config {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Group != result[j].Group {
			return result[i].Group < result[j].Group
		}
		return result[i].Key < result[j].Key
	})
	return result, nil
}

func (m *Memory) SaveGoal(_ context.Context, g engine.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goals[g.Year] = g
	return nil
}

func (m *Memory) GetGoal(_ context.Context, year int) (engine.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.goals[year]
	if !ok {
		return engine.Goal{}, engine.ErrNotFound
	}
	return g, nil
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run engine.ReconciliationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.runs {
		if r.ID == run.ID {
			return engine.ErrConflict
		}
	}
	run.Items = append([]engine.RunItem(nil), run.Items...)
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListRuns(_ context.Context, period string) ([]engine.ReconciliationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.ReconciliationRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		r := m.runs[i]
		if period != "" && r.Period != period {
			continue
		}
		r.Items = nil
		result = append(result, r)
	}
	return result, nil
}

func (m *Memory) GetRun(_ context.Context, id string) (engine.ReconciliationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.runs {
		if r.ID == id {
			r.Items = append([]engine.RunItem(nil), r.Items...)
			return r, nil
		}
	}
	return engine.ReconciliationRun{}, engine.ErrNotFound
}

// =============================================================================
// HELPERS
// =============================================================================

func containsAny(needle string, haystacks ...string) bool {
	for _, h := range haystacks {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
