/*
handlers.go - HTTP API handlers for the policy engine

PURPOSE:
  Exposes the portfolio, dashboard, collections and reconciliation services
  via REST API. Handles HTTP request/response and JSON serialization, and
  delegates to the services.

ENDPOINTS:
  Portfolio:
    GET    /api/policies               List policies classified for ?year=
    POST   /api/policies               Create policy
    GET    /api/policies/{id}          One policy classified for ?year=
    GET    /api/agents                 List agents (?status=, ?q=)
    POST   /api/agents                 Create agent
    GET    /api/products               List product catalog
    POST   /api/products               Create product

  Views:
    GET    /api/dashboard              Production dashboard (?year=)
    GET    /api/collections            Collections ledger (?ref=&year=&ramo=&agent=&priority=)

  Reconciliation:
    POST   /api/indicators             Append an insurer feed delivery
    GET    /api/indicators             Feed of ?period=
    GET    /api/reconciliation         Live report for ?period= (not stored)
    POST   /api/reconciliation/run     Run and store a reconciliation
    GET    /api/reconciliation/periods Feed periods
    GET    /api/reconciliation/runs    Stored runs (?period=)
    GET    /api/reconciliation/runs/{id}

  Administration:
    POST   /api/rules/apply            Re-apply rules, refresh snapshots
    GET    /api/config                 Configuration rows
    PUT    /api/config/{key}           Update one row
    GET    /api/goals/{year}           Production goals
    PUT    /api/goals                  Save production goals

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, strict-mode ambiguous matches
  - 404: Resource not found
  - 409: Conflict (duplicate number or code)
  - 500: Configuration and internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mag/policy-engine/collections"
	"github.com/mag/policy-engine/dashboard"
	"github.com/mag/policy-engine/engine"
	"github.com/mag/policy-engine/factory"
	"github.com/mag/policy-engine/portfolio"
	"github.com/mag/policy-engine/reconciliation"
	"github.com/mag/policy-engine/settings"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Portfolio      *portfolio.Service
	Dashboard      *dashboard.Service
	Collections    *collections.Service
	Reconciliation *reconciliation.Service
	Settings       *settings.Service

	Logger *slog.Logger
	Now    func() time.Time // default year and collections reference date
}

// Services bundles what NewHandler needs.
type Services struct {
	Portfolio      *portfolio.Service
	Dashboard      *dashboard.Service
	Collections    *collections.Service
	Reconciliation *reconciliation.Service
	Settings       *settings.Service
}

// NewHandler creates a handler over the given services.
func NewHandler(s Services, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Portfolio:      s.Portfolio,
		Dashboard:      s.Dashboard,
		Collections:    s.Collections,
		Reconciliation: s.Reconciliation,
		Settings:       s.Settings,
		Logger:         logger,
		Now:            time.Now,
	}
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns policies classified for the requested year.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	year, err := h.yearParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f := engine.PolicyFilter{AgentCode: q.Get("agent"), Search: q.Get("q")}
	if f.Ramo, err = ramoParam(r); err != nil {
		h.writeError(w, r, err)
		return
	}
	if v := q.Get("application_year"); v != "" {
		if f.ApplicationYear, err = intParam("application_year", v); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if f.Limit, err = optionalInt(q.Get("limit"), "limit"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if f.Offset, err = optionalInt(q.Get("offset"), "offset"); err != nil {
		h.writeError(w, r, err)
		return
	}

	policies, err := h.Portfolio.ListPolicies(r.Context(), f, year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dtos := make([]PolicyDTO, len(policies))
	for i, cp := range policies {
		dtos[i] = toClassifiedDTO(cp)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePolicy validates, classifies and stores a policy.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req factory.PolicyJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cp, err := h.Portfolio.CreatePolicy(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClassifiedDTO(cp))
}

// GetPolicy returns one policy. Without ?year= it is classified for its
// own application year.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	id := engine.PolicyID(chi.URLParam(r, "id"))

	year, err := optionalInt(r.URL.Query().Get("year"), "year")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	cp, err := h.Portfolio.Policy(r.Context(), id, year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClassifiedDTO(cp))
}

// =============================================================================
// AGENT AND PRODUCT HANDLERS
// =============================================================================

func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agents, err := h.Portfolio.ListAgents(r.Context(), engine.AgentFilter{
		Status: engine.AgentStatus(q.Get("status")),
		Search: q.Get("q"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dtos := make([]AgentDTO, len(agents))
	for i, a := range agents {
		dtos[i] = toAgentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req factory.AgentJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a, err := h.Portfolio.CreateAgent(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgentDTO(a))
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Portfolio.ListProducts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req factory.ProductJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Portfolio.CreateProduct(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

// =============================================================================
// VIEW HANDLERS
// =============================================================================

// GetDashboard returns the production dashboard of ?year= (current year by
// default).
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.Dashboard.Build(r.Context(), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardDTO(d))
}

// GetCollections returns the collections ledger at ?ref= (today by default).
func (h *Handler) GetCollections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	ref := engine.DateOf(h.Now())
	if v := q.Get("ref"); v != "" {
		d, err := engine.ParseDate("ref", v)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ref = d
	}

	f := collections.Filter{AgentCode: q.Get("agent")}
	var err error
	if f.Year, err = optionalInt(q.Get("year"), "year"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if f.Ramo, err = ramoParam(r); err != nil {
		h.writeError(w, r, err)
		return
	}
	if v := q.Get("priority"); v != "" {
		p, ok := engine.ParsePriority(v)
		if !ok {
			h.writeError(w, r, &engine.ValidationError{Field: "priority", Value: v, Reason: "unknown priority"})
			return
		}
		f.Priority = p
	}

	l, err := h.Collections.Build(r.Context(), ref, f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionsDTO(l))
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// IngestIndicators appends a feed delivery (a JSON array of indicators).
func (h *Handler) IngestIndicators(w http.ResponseWriter, r *http.Request) {
	var req []factory.IndicatorJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inds, err := h.Reconciliation.IngestIndicators(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	seen := make(map[string]bool)
	resp := IngestIndicatorsResponse{Accepted: len(inds), Periods: []string{}}
	for _, ind := range inds {
		if !seen[ind.Period] {
			seen[ind.Period] = true
			resp.Periods = append(resp.Periods, ind.Period)
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListIndicators returns the feed of ?period=.
func (h *Handler) ListIndicators(w http.ResponseWriter, r *http.Request) {
	inds, err := h.Reconciliation.Indicators(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dtos := make([]factory.IndicatorJSON, len(inds))
	for i, ind := range inds {
		dtos[i] = factory.IndicatorToJSON(ind)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PreviewReconciliation reconciles ?period= without storing a run.
func (h *Handler) PreviewReconciliation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := engine.ReconcileOptions{Strict: boolParam(q.Get("strict")), Bidirectional: boolParam(q.Get("bidirectional"))}

	report, err := h.Reconciliation.Preview(r.Context(), q.Get("period"), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationResponse(engine.ReconciliationRun{Options: opts}, report))
}

// RunReconciliation runs and stores a reconciliation.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	var req RunReconciliationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	opts := engine.ReconcileOptions{Strict: req.Strict, Bidirectional: req.Bidirectional}
	run, report, err := h.Reconciliation.Run(r.Context(), req.Period, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReconciliationResponse(run, report))
}

func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Reconciliation.Periods(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if periods == nil {
		periods = []string{}
	}
	writeJSON(w, http.StatusOK, periods)
}

// ListReconciliationRuns returns stored runs, newest first.
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Reconciliation.Runs(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetReconciliationRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Reconciliation.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

// =============================================================================
// ADMINISTRATION HANDLERS
// =============================================================================

// ApplyRules re-classifies the book and refreshes the stored snapshots.
// The body is optional.
func (h *Handler) ApplyRules(w http.ResponseWriter, r *http.Request) {
	var req ApplyRulesRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	opts := portfolio.ApplyOptions{Year: req.Year}
	if req.Ramo != "" {
		ramo, ok := engine.ParseRamoFilter(req.Ramo)
		if !ok {
			h.writeError(w, r, &engine.ValidationError{Field: "ramo", Value: req.Ramo, Reason: "expected vida or gmm"})
			return
		}
		opts.Ramo = ramo
	}

	res, err := h.Portfolio.ApplyRules(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplyRulesResponse(res))
}

func (h *Handler) ListConfig(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Settings.Config(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dtos := make([]ConfigEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toConfigEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateConfig sets one configuration value. Rule values are validated
// against the rest of the configuration first.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	e, err := h.Settings.UpdateConfig(r.Context(), chi.URLParam(r, "key"), req.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigEntryDTO(e))
}

func (h *Handler) GetGoal(w http.ResponseWriter, r *http.Request) {
	year, err := intParam("year", chi.URLParam(r, "year"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	g, err := h.Settings.Goal(r.Context(), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalDTO(g))
}

func (h *Handler) SaveGoal(w http.ResponseWriter, r *http.Request) {
	var req factory.GoalJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	g, err := h.Settings.SaveGoal(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalDTO(g))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeErrorMessage(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeError maps service errors to HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ambiguous *engine.AmbiguousMatchError
	switch {
	case errors.As(err, &ambiguous):
		writeErrorMessage(w, http.StatusBadRequest, "Ambiguous policy match", err)
	case engine.IsClientError(err):
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request", err)
	case engine.IsNotFound(err):
		writeErrorMessage(w, http.StatusNotFound, "Not found", err)
	case engine.IsConflict(err):
		writeErrorMessage(w, http.StatusConflict, "Conflict", err)
	case errors.Is(err, engine.ErrConfiguration):
		h.Logger.ErrorContext(r.Context(), "rules configuration invalid", "path", r.URL.Path, "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "Invalid rules configuration", err)
	default:
		h.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "Internal error", err)
	}
}

// yearParam reads ?year=, defaulting to the current year.
func (h *Handler) yearParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("year")
	if v == "" {
		return h.Now().Year(), nil
	}
	return intParam("year", v)
}

func ramoParam(r *http.Request) (engine.Ramo, error) {
	v := r.URL.Query().Get("ramo")
	if v == "" {
		return 0, nil
	}
	ramo, ok := engine.ParseRamoFilter(v)
	if !ok {
		return 0, &engine.ValidationError{Field: "ramo", Value: v, Reason: "expected vida or gmm"}
	}
	return ramo, nil
}

func intParam(field, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &engine.ValidationError{Field: field, Value: v, Reason: "expected a non-negative integer"}
	}
	return n, nil
}

func optionalInt(v, field string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return intParam(field, v)
}

func boolParam(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}
