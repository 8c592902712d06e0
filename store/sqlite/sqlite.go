/*
Package sqlite provides a SQLite-backed implementation of engine.Store.

PURPOSE:
  Persists the agency's ingested records (agents, products, policies), the
  insurer indicator feed, rule configuration, goals and reconciliation
  history. The rules never run here; the store only hands snapshots to the
  engine.

KEY TABLES:
  agentes:               Agents, unique codigo_agente
  productos:             Product catalog, unique (ramo, plan, gama)
  polizas:               Policies plus the last classification snapshot
  indicadores:           Insurer feed, APPEND-ONLY
  configuracion:         Rule configuration, seeded with defaults
  metas:                 Yearly goals
  conciliaciones:        Reconciliation runs (summary)
  conciliacion_detalle:  Per-result rows of a run

MONEY:
  Decimal values are stored as TEXT (decimal.Decimal.String()) so sums
  recomputed from the store are exact.

APPEND-ONLY ENFORCEMENT:
  The indicadores table has no UPDATE or DELETE statement anywhere in this
  package. A new delivery for a period is appended.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Locks are held for a single call.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/mag.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mag/policy-engine/engine"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Store implements engine.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ engine.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" is per connection
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema and seeds default configuration.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agentes (
		id TEXT PRIMARY KEY,
		codigo_agente TEXT NOT NULL UNIQUE,
		nombre_completo TEXT NOT NULL,
		situacion TEXT NOT NULL DEFAULT 'ACTIVO',
		territorio TEXT,
		oficina TEXT,
		gerencia TEXT,
		promotor TEXT,
		segmento_nombre TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS productos (
		id TEXT PRIMARY KEY,
		ramo_codigo INTEGER NOT NULL,
		ramo_nombre TEXT NOT NULL,
		plan TEXT NOT NULL DEFAULT '',
		gama TEXT NOT NULL DEFAULT '',
		UNIQUE(ramo_codigo, plan, gama)
	);

	CREATE TABLE IF NOT EXISTS polizas (
		id TEXT PRIMARY KEY,
		poliza_original TEXT NOT NULL UNIQUE,
		poliza_estandar TEXT NOT NULL,
		agente_id TEXT REFERENCES agentes(id),
		producto_id TEXT REFERENCES productos(id),
		ramo_codigo INTEGER NOT NULL,
		plan TEXT,
		gama TEXT,
		segmento TEXT,
		asegurado_nombre TEXT,
		contratante_nombre TEXT,
		fecha_inicio TEXT NOT NULL,
		fecha_fin TEXT,
		anio_aplicacion INTEGER NOT NULL,
		periodo_aplicacion TEXT NOT NULL,
		moneda TEXT,
		prima_neta TEXT NOT NULL DEFAULT '0',
		prima_total TEXT NOT NULL DEFAULT '0',
		comision TEXT NOT NULL DEFAULT '0',
		prima_pagada TEXT NOT NULL DEFAULT '0',
		forma_pago TEXT,
		fecha_ultimo_pago TEXT,
		status_recibo TEXT,
		num_asegurados INTEGER NOT NULL DEFAULT 0,
		fuente TEXT,
		notas TEXT,
		-- classification snapshot, rewritten by rule re-application
		tipo_poliza TEXT,
		tipo_prima TEXT,
		pct_comision TEXT,
		anio_clasificacion INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_polizas_estandar ON polizas(poliza_estandar);
	CREATE INDEX IF NOT EXISTS idx_polizas_anio ON polizas(anio_aplicacion);
	CREATE INDEX IF NOT EXISTS idx_polizas_agente ON polizas(agente_id);

	-- Insurer feed (append-only)
	CREATE TABLE IF NOT EXISTS indicadores (
		id TEXT PRIMARY KEY,
		periodo TEXT NOT NULL,
		poliza TEXT NOT NULL,
		agente_codigo TEXT,
		ramo TEXT,
		prima_primer_anio TEXT NOT NULL DEFAULT '0',
		es_nueva INTEGER NOT NULL DEFAULT 0,
		fecha_recepcion TEXT,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_indicadores_periodo ON indicadores(periodo, seq);

	CREATE TABLE IF NOT EXISTS configuracion (
		clave TEXT PRIMARY KEY,
		valor TEXT NOT NULL,
		tipo TEXT,
		grupo TEXT,
		descripcion TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS metas (
		anio INTEGER PRIMARY KEY,
		meta_polizas_vida INTEGER NOT NULL DEFAULT 0,
		meta_prima_vida TEXT NOT NULL DEFAULT '0',
		meta_polizas_gmm INTEGER NOT NULL DEFAULT 0,
		meta_asegurados_gmm INTEGER NOT NULL DEFAULT 0,
		meta_prima_gmm TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS conciliaciones (
		id TEXT PRIMARY KEY,
		periodo TEXT NOT NULL,
		estricto INTEGER NOT NULL DEFAULT 0,
		bidireccional INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL,
		coincide INTEGER NOT NULL,
		diferencia INTEGER NOT NULL,
		solo_aseguradora INTEGER NOT NULL,
		solo_interno INTEGER NOT NULL,
		ambiguas INTEGER NOT NULL,
		pct_coincidencia INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conciliaciones_periodo ON conciliaciones(periodo, created_at DESC);

	CREATE TABLE IF NOT EXISTS conciliacion_detalle (
		conciliacion_id TEXT NOT NULL REFERENCES conciliaciones(id),
		pos INTEGER NOT NULL,
		indicador_id TEXT,
		poliza_id TEXT,
		poliza TEXT,
		status TEXT NOT NULL,
		clasificacion_interna TEXT,
		es_nueva_aseguradora INTEGER NOT NULL DEFAULT 0,
		tipo_diferencia TEXT,
		ambigua INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (conciliacion_id, pos)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range engine.DefaultEntries() {
		_, err := s.db.Exec(`
			INSERT OR IGNORE INTO configuracion (clave, valor, tipo, grupo, descripcion, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.Key, e.Value, e.Type, e.Group, e.Description, now)
		if err != nil {
			return fmt.Errorf("failed to seed configuration %s: %w", e.Key, err)
		}
	}
	return nil
}

// =============================================================================
// POLICIES
// =============================================================================

const policyColumns = `
	id, poliza_original, poliza_estandar, agente_id, producto_id, ramo_codigo,
	plan, gama, segmento, asegurado_nombre, contratante_nombre,
	fecha_inicio, fecha_fin, anio_aplicacion, periodo_aplicacion, moneda,
	prima_neta, prima_total, comision, prima_pagada, forma_pago, fecha_ultimo_pago, status_recibo,
	num_asegurados, fuente, notas,
	tipo_poliza, tipo_prima, pct_comision, anio_clasificacion, created_at`

// SavePolicy inserts a policy.
func (s *Store) SavePolicy(ctx context.Context, p engine.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	endDate := nullDate(p.EndDate)
	lastPayment := nullDate(p.LastPaymentDate)
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	snapCategory, snapTier, snapRatio, snapYear := snapshotColumns(p.Snapshot)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO polizas (`+policyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Number, p.StandardNumber,
		nullString(string(p.AgentID)), nullString(string(p.ProductID)), int(p.Ramo),
		p.Plan, p.Gama, p.Segment, p.InsuredName, p.ContractorName,
		p.StartDate.String(), endDate, p.ApplicationYear, p.ApplicationPeriod, p.Currency,
		p.NetPremium.String(), p.TotalPremium.String(), p.Commission.String(), p.PaidPremium.String(),
		p.PaymentForm, lastPayment, p.ReceiptStatus,
		p.InsuredCount, p.Source, p.Notes,
		snapCategory, snapTier, snapRatio, snapYear,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("policy %s: %w", p.Number, engine.ErrConflict)
		}
		if isForeignKeyError(err) {
			return &engine.ValidationError{Field: "agent_id/product_id", Reason: "references an unknown record"}
		}
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// GetPolicy retrieves a policy by ID.
func (s *Store) GetPolicy(ctx context.Context, id engine.PolicyID) (engine.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+policyColumns+" FROM polizas WHERE id = ?", id)
	if err != nil {
		return engine.Policy{}, err
	}
	policies, err := scanPolicies(rows)
	if err != nil {
		return engine.Policy{}, err
	}
	if len(policies) == 0 {
		return engine.Policy{}, engine.ErrNotFound
	}
	return policies[0], nil
}

// ListPolicies returns policies matching f, newest start date first.
func (s *Store) ListPolicies(ctx context.Context, f engine.PolicyFilter) ([]engine.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any

	if f.Ramo != 0 {
		where = append(where, "p.ramo_codigo = ?")
		args = append(args, int(f.Ramo))
	}
	if f.AgentCode != "" {
		where = append(where, "a.codigo_agente = ?")
		args = append(args, f.AgentCode)
	}
	if f.ApplicationYear != 0 {
		where = append(where, "p.anio_aplicacion = ?")
		args = append(args, f.ApplicationYear)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		where = append(where, "(p.poliza_original LIKE ? OR p.poliza_estandar LIKE ? OR p.asegurado_nombre LIKE ? OR p.contratante_nombre LIKE ?)")
		args = append(args, like, like, like, like)
	}

	query := "SELECT " + prefixColumns("p", policyColumns) + " FROM polizas p LEFT JOIN agentes a ON a.id = p.agente_id"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.fecha_inicio DESC, p.id"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanPolicies(rows)
}

// SaveSnapshots rewrites the classification snapshot columns atomically.
func (s *Store) SaveSnapshots(ctx context.Context, snaps map[engine.PolicyID]engine.ClassificationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	stmt, err := sqlTx.PrepareContext(ctx, `
		UPDATE polizas SET tipo_poliza = ?, tipo_prima = ?, pct_comision = ?, anio_clasificacion = ?
		WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, snap := range snaps {
		category, tier, ratio, year := snapshotColumns(&snap)
		res, err := stmt.ExecContext(ctx, category, tier, ratio, year, id)
		if err != nil {
			return fmt.Errorf("failed to save snapshot for %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("policy %s: %w", id, engine.ErrNotFound)
		}
	}

	return sqlTx.Commit()
}

func scanPolicies(rows *sql.Rows) ([]engine.Policy, error) {
	defer rows.Close()

	var policies []engine.Policy
	for rows.Next() {
		var p engine.Policy
		var agentID, productID, endDate, lastPayment, snapCategory, snapTier, snapRatio sql.NullString
		var plan, gama, segment, insured, contractor, currency, paymentForm, status, source, notes sql.NullString
		var startDate, netPremium, totalPremium, commission, paidPremium, createdAt string
		var ramo int
		var snapYear sql.NullInt64

		if err := rows.Scan(
			&p.ID, &p.Number, &p.StandardNumber, &agentID, &productID, &ramo,
			&plan, &gama, &segment, &insured, &contractor,
			&startDate, &endDate, &p.ApplicationYear, &p.ApplicationPeriod, &currency,
			&netPremium, &totalPremium, &commission, &paidPremium, &paymentForm, &lastPayment, &status,
			&p.InsuredCount, &source, &notes,
			&snapCategory, &snapTier, &snapRatio, &snapYear, &createdAt,
		); err != nil {
			return nil, err
		}

		p.AgentID = engine.AgentID(agentID.String)
		p.ProductID = engine.ProductID(productID.String)
		p.Ramo = engine.Ramo(ramo)
		p.Plan, p.Gama, p.Segment = plan.String, gama.String, segment.String
		p.InsuredName, p.ContractorName = insured.String, contractor.String
		p.Currency, p.PaymentForm, p.ReceiptStatus = currency.String, paymentForm.String, status.String
		p.Source, p.Notes = source.String, notes.String

		var err error
		if p.StartDate, err = engine.ParseDate("fecha_inicio", startDate); err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.ID, err)
		}
		if p.EndDate, err = engine.ParseOptionalDate("fecha_fin", endDate.String); err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.ID, err)
		}
		if p.LastPaymentDate, err = engine.ParseOptionalDate("fecha_ultimo_pago", lastPayment.String); err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.ID, err)
		}
		p.NetPremium = parseDecimal(netPremium)
		p.TotalPremium = parseDecimal(totalPremium)
		p.Commission = parseDecimal(commission)
		p.PaidPremium = parseDecimal(paidPremium)
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		if snapCategory.Valid {
			snap := &engine.ClassificationSnapshot{
				Classification: engine.Classification{
					Category: engine.LifecycleCategory(snapCategory.String),
					Tier:     engine.PremiumTier(snapTier.String),
				},
				AnalysisYear: int(snapYear.Int64),
			}
			if snapRatio.Valid {
				snap.CommissionRatio = decimal.NewNullDecimal(parseDecimal(snapRatio.String))
			}
			p.Snapshot = snap
		}

		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func snapshotColumns(s *engine.ClassificationSnapshot) (category, tier, ratio sql.NullString, year sql.NullInt64) {
	if s == nil {
		return
	}
	category = sql.NullString{String: string(s.Category), Valid: true}
	tier = nullString(string(s.Tier))
	if s.CommissionRatio.Valid {
		ratio = sql.NullString{String: s.CommissionRatio.Decimal.String(), Valid: true}
	}
	year = sql.NullInt64{Int64: int64(s.AnalysisYear), Valid: true}
	return
}

// =============================================================================
// AGENTS
// =============================================================================

const agentColumns = `id, codigo_agente, nombre_completo, situacion, territorio, oficina,
	gerencia, promotor, segmento_nombre, created_at`

// SaveAgent inserts an agent.
func (s *Store) SaveAgent(ctx context.Context, a engine.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO agentes ("+agentColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.Code, a.Name, string(a.Status), a.Territory, a.Office,
		a.Management, a.Promoter, a.Segment, createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("agent %s: %w", a.Code, engine.ErrConflict)
		}
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID.
func (s *Store) GetAgent(ctx context.Context, id engine.AgentID) (engine.Agent, error) {
	return s.getAgent(ctx, "id", string(id))
}

// GetAgentByCode retrieves an agent by its insurer code.
func (s *Store) GetAgentByCode(ctx context.Context, code string) (engine.Agent, error) {
	return s.getAgent(ctx, "codigo_agente", code)
}

func (s *Store) getAgent(ctx context.Context, column, value string) (engine.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+agentColumns+" FROM agentes WHERE "+column+" = ?", value)
	if err != nil {
		return engine.Agent{}, err
	}
	agents, err := scanAgents(rows)
	if err != nil {
		return engine.Agent{}, err
	}
	if len(agents) == 0 {
		return engine.Agent{}, engine.ErrNotFound
	}
	return agents[0], nil
}

// ListAgents returns agents ordered by name.
func (s *Store) ListAgents(ctx context.Context, f engine.AgentFilter) ([]engine.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "situacion = ?")
		args = append(args, string(f.Status))
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		where = append(where, "(codigo_agente LIKE ? OR nombre_completo LIKE ?)")
		args = append(args, like, like)
	}

	query := "SELECT " + agentColumns + " FROM agentes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY nombre_completo"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanAgents(rows)
}

func scanAgents(rows *sql.Rows) ([]engine.Agent, error) {
	defer rows.Close()

	var agents []engine.Agent
	for rows.Next() {
		var a engine.Agent
		var status, createdAt string
		var territory, office, management, promoter, segment sql.NullString
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &status, &territory, &office,
			&management, &promoter, &segment, &createdAt); err != nil {
			return nil, err
		}
		a.Status = engine.AgentStatus(status)
		a.Territory, a.Office, a.Management = territory.String, office.String, management.String
		a.Promoter, a.Segment = promoter.String, segment.String
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// =============================================================================
// PRODUCTS
// =============================================================================

// SaveProduct inserts a product.
func (s *Store) SaveProduct(ctx context.Context, p engine.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO productos (id, ramo_codigo, ramo_nombre, plan, gama) VALUES (?, ?, ?, ?, ?)",
		p.ID, int(p.Ramo), p.RamoName, p.Plan, p.Gama,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("product %s/%s/%s: %w", p.Ramo, p.Plan, p.Gama, engine.ErrConflict)
		}
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// GetProduct retrieves a product by ID.
func (s *Store) GetProduct(ctx context.Context, id engine.ProductID) (engine.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p engine.Product
	var ramo int
	err := s.db.QueryRowContext(ctx,
		"SELECT id, ramo_codigo, ramo_nombre, plan, gama FROM productos WHERE id = ?", id,
	).Scan(&p.ID, &ramo, &p.RamoName, &p.Plan, &p.Gama)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Product{}, engine.ErrNotFound
	}
	if err != nil {
		return engine.Product{}, err
	}
	p.Ramo = engine.Ramo(ramo)
	return p, nil
}

// ListProducts returns the catalog ordered by ramo and plan.
func (s *Store) ListProducts(ctx context.Context) ([]engine.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, ramo_codigo, ramo_nombre, plan, gama FROM productos ORDER BY ramo_codigo, plan")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []engine.Product
	for rows.Next() {
		var p engine.Product
		var ramo int
		if err := rows.Scan(&p.ID, &ramo, &p.RamoName, &p.Plan, &p.Gama); err != nil {
			return nil, err
		}
		p.Ramo = engine.Ramo(ramo)
		products = append(products, p)
	}
	return products, rows.Err()
}

// =============================================================================
// INDICATORS - Append-only
// =============================================================================

// AppendIndicators appends a feed delivery atomically. Input order is kept.
func (s *Store) AppendIndicators(ctx context.Context, inds []engine.ExternalIndicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var seq int64
	if err := sqlTx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM indicadores").Scan(&seq); err != nil {
		return err
	}

	for _, ind := range inds {
		seq++
		var received sql.NullString
		if ind.ReceivedAt != nil {
			received = sql.NullString{String: ind.ReceivedAt.String(), Valid: true}
		}
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO indicadores (id, periodo, poliza, agente_codigo, ramo, prima_primer_anio, es_nueva, fecha_recepcion, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ind.ID, ind.Period, ind.PolicyNumber, ind.AgentCode, ind.Ramo,
			ind.FirstYearPremium.String(), ind.IsNew, received, seq,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("indicator %s: %w", ind.ID, engine.ErrConflict)
			}
			return fmt.Errorf("failed to append indicator: %w", err)
		}
	}

	return sqlTx.Commit()
}

// ListIndicators returns the indicators of a period in delivery order.
func (s *Store) ListIndicators(ctx context.Context, period string) ([]engine.ExternalIndicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, periodo, poliza, agente_codigo, ramo, prima_primer_anio, es_nueva, fecha_recepcion
		FROM indicadores WHERE periodo = ? ORDER BY seq`, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inds []engine.ExternalIndicator
	for rows.Next() {
		var ind engine.ExternalIndicator
		var agentCode, ramo, received sql.NullString
		var premium string
		if err := rows.Scan(&ind.ID, &ind.Period, &ind.PolicyNumber, &agentCode, &ramo,
			&premium, &ind.IsNew, &received); err != nil {
			return nil, err
		}
		ind.AgentCode, ind.Ramo = agentCode.String, ramo.String
		ind.FirstYearPremium = parseDecimal(premium)
		if ind.ReceivedAt, err = engine.ParseOptionalDate("fecha_recepcion", received.String); err != nil {
			return nil, err
		}
		inds = append(inds, ind)
	}
	return inds, rows.Err()
}

// ListPeriods returns distinct feed periods, newest first.
func (s *Store) ListPeriods(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT periodo FROM indicadores ORDER BY periodo DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// GetConfigValue implements engine.ConfigSource.
func (s *Store) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT valor FROM configuracion WHERE clave = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetConfigValue updates an existing key.
func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE configuracion SET valor = ?, updated_at = ? WHERE clave = ?",
		value, time.Now().UTC().Format(time.RFC3339), key)
	if err != nil {
		return fmt.Errorf("failed to update configuration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("configuration %s: %w", key, engine.ErrNotFound)
	}
	return nil
}

// ListConfig returns every configuration row ordered by group and key.
func (s *Store) ListConfig(ctx context.Context) ([]engine.ConfigEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT clave, valor, tipo, grupo, descripcion, updated_at FROM configuracion ORDER BY grupo, clave")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []engine.ConfigEntry
	for rows.Next() {
		var e engine.ConfigEntry
		var typ, group, desc sql.NullString
		var updatedAt string
		if err := rows.Scan(&e.Key, &e.Value, &typ, &group, &desc, &updatedAt); err != nil {
			return nil, err
		}
		e.Type, e.Group, e.Description = typ.String, group.String, desc.String
		e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// GOALS
// =============================================================================

// SaveGoal inserts or replaces the goals of a year.
func (s *Store) SaveGoal(ctx context.Context, g engine.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metas (anio, meta_polizas_vida, meta_prima_vida, meta_polizas_gmm, meta_asegurados_gmm, meta_prima_gmm)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(anio) DO UPDATE SET
			meta_polizas_vida = excluded.meta_polizas_vida,
			meta_prima_vida = excluded.meta_prima_vida,
			meta_polizas_gmm = excluded.meta_polizas_gmm,
			meta_asegurados_gmm = excluded.meta_asegurados_gmm,
			meta_prima_gmm = excluded.meta_prima_gmm`,
		g.Year, g.LifePolicies, g.LifePremium.String(), g.GMMPolicies, g.GMMInsured, g.GMMPremium.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save goal: %w", err)
	}
	return nil
}

// GetGoal returns the goals of a year.
func (s *Store) GetGoal(ctx context.Context, year int) (engine.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := engine.Goal{Year: year}
	var lifePremium, gmmPremium string
	err := s.db.QueryRowContext(ctx, `
		SELECT meta_polizas_vida, meta_prima_vida, meta_polizas_gmm, meta_asegurados_gmm, meta_prima_gmm
		FROM metas WHERE anio = ?`, year,
	).Scan(&g.LifePolicies, &lifePremium, &g.GMMPolicies, &g.GMMInsured, &gmmPremium)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Goal{}, engine.ErrNotFound
	}
	if err != nil {
		return engine.Goal{}, err
	}
	g.LifePremium = parseDecimal(lifePremium)
	g.GMMPremium = parseDecimal(gmmPremium)
	return g, nil
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

// SaveRun persists a run and its items atomically.
func (s *Store) SaveRun(ctx context.Context, run engine.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	sum := run.Summary
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO conciliaciones (id, periodo, estricto, bidireccional, total, coincide, diferencia,
			solo_aseguradora, solo_interno, ambiguas, pct_coincidencia, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Period, run.Options.Strict, run.Options.Bidirectional,
		sum.Total, sum.Match, sum.Mismatch, sum.InsurerOnly, sum.InternalOnly, sum.Ambiguous, sum.MatchPct,
		run.CreatedAt.UTC().Format(runTimeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("run %s: %w", run.ID, engine.ErrConflict)
		}
		return fmt.Errorf("failed to save run: %w", err)
	}

	for i, it := range run.Items {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO conciliacion_detalle (conciliacion_id, pos, indicador_id, poliza_id, poliza, status,
				clasificacion_interna, es_nueva_aseguradora, tipo_diferencia, ambigua)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, nullString(it.IndicatorID), nullString(string(it.PolicyID)), it.PolicyNumber,
			string(it.Verdict), nullString(string(it.InternalCategory)), it.InsurerIsNew,
			nullString(it.Discrepancy), it.Ambiguous,
		)
		if err != nil {
			return fmt.Errorf("failed to save run item: %w", err)
		}
	}

	return sqlTx.Commit()
}

// Fixed width so created_at sorts as text.
const runTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `id, periodo, estricto, bidireccional, total, coincide, diferencia,
	solo_aseguradora, solo_interno, ambiguas, pct_coincidencia, created_at`

// ListRuns returns runs newest first, without items.
func (s *Store) ListRuns(ctx context.Context, period string) ([]engine.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + runColumns + " FROM conciliaciones"
	var args []any
	if period != "" {
		query += " WHERE periodo = ?"
		args = append(args, period)
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []engine.ReconciliationRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its items.
func (s *Store) GetRun(ctx context.Context, id string) (engine.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM conciliaciones WHERE id = ?", id)
	if err != nil {
		return engine.ReconciliationRun{}, err
	}
	if !rows.Next() {
		rows.Close()
		return engine.ReconciliationRun{}, engine.ErrNotFound
	}
	run, err := scanRun(rows)
	rows.Close()
	if err != nil {
		return engine.ReconciliationRun{}, err
	}

	items, err := s.db.QueryContext(ctx, `
		SELECT indicador_id, poliza_id, poliza, status, clasificacion_interna, es_nueva_aseguradora, tipo_diferencia, ambigua
		FROM conciliacion_detalle WHERE conciliacion_id = ? ORDER BY pos`, id)
	if err != nil {
		return engine.ReconciliationRun{}, err
	}
	defer items.Close()

	for items.Next() {
		var it engine.RunItem
		var indicatorID, policyID, number, category, discrepancy sql.NullString
		var verdict string
		if err := items.Scan(&indicatorID, &policyID, &number, &verdict, &category,
			&it.InsurerIsNew, &discrepancy, &it.Ambiguous); err != nil {
			return engine.ReconciliationRun{}, err
		}
		it.IndicatorID = indicatorID.String
		it.PolicyID = engine.PolicyID(policyID.String)
		it.PolicyNumber = number.String
		it.Verdict = engine.Verdict(verdict)
		it.InternalCategory = engine.LifecycleCategory(category.String)
		it.Discrepancy = discrepancy.String
		run.Items = append(run.Items, it)
	}
	return run, items.Err()
}

func scanRun(rows *sql.Rows) (engine.ReconciliationRun, error) {
	var r engine.ReconciliationRun
	var createdAt string
	err := rows.Scan(&r.ID, &r.Period, &r.Options.Strict, &r.Options.Bidirectional,
		&r.Summary.Total, &r.Summary.Match, &r.Summary.Mismatch, &r.Summary.InsurerOnly,
		&r.Summary.InternalOnly, &r.Summary.Ambiguous, &r.Summary.MatchPct, &createdAt)
	if err != nil {
		return r, err
	}
	r.CreatedAt, _ = time.Parse(runTimeLayout, createdAt)
	return r, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *engine.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// parseDecimal reads a value this package wrote; corrupt text reads as zero.
func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
