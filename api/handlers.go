/*
handlers.go - HTTP API handlers for hostel rent billing

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger and generation scheduler.

ENDPOINTS:
  Rent payments:
    POST   /api/rent-payments/generate      Hostel: next month
    POST   /api/rent-payments/refresh       Block: current + next month
    POST   /api/rent-payments/{blockId}     Block: next month
    POST   /api/rent-payments/additional    One-off charge
    GET    /api/rent-payments               List (tenantId, scopeId, month, year, status, type)
    GET    /api/rent-payments/{id}          Get one
    PUT    /api/rent-payments/{id}/edit     Edit amount/status/paymentMethod
    DELETE /api/rent-payments/{id}/remove   Cancel (logical delete)

  Scopes, room types, tenants:
    POST   /api/hostels, /api/blocks
    GET    /api/scopes, /api/scopes/{id}
    PUT    /api/scopes/{id}/settings
    POST   /api/room-types
    POST   /api/tenants, GET /api/tenants/{id}
    PUT    /api/tenants/{id}/status

  Generation history:
    GET    /api/generation/runs?scopeId=&limit=

CURRENT MONTH:
  "Current" and "next" month come from the injected clock, in UTC.

ERROR HANDLING:
  Errors are returned as {"error", "details"} with status by kind:
  - 400: billing.ErrValidation
  - 404: billing.ErrNotFound
  - 409: billing.ErrInvalidOperation
  - 500: everything else (logged, message not exposed)

SECURITY NOTE:
  No authentication. Identity is expected to be handled upstream.

SEE ALSO:
  - dto.go: Request/response data structures
  - validate.go: Body decoding and validation
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/warp/hostel-billing/billing"
	"github.com/warp/hostel-billing/clock"
	"github.com/warp/hostel-billing/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API needs: the billing store plus a reset
// used by scenario loading.
type Store interface {
	billing.Store
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        Store
	Ledger       *billing.ObligationLedger
	Scheduler    *billing.GenerationScheduler
	ScopeFactory *factory.ScopeFactory

	clock    clock.Clock
	recorder billing.Recorder
	log      *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

type HandlerOption func(*Handler)

func WithHandlerClock(c clock.Clock) HandlerOption {
	return func(h *Handler) { h.clock = c }
}

// WithRecorder reports generation outcomes, typically to metrics.Metrics.
func WithRecorder(r billing.Recorder) HandlerOption {
	return func(h *Handler) { h.recorder = r }
}

// NewHandler wires the ledger and scheduler over store.
func NewHandler(store Store, log *zap.Logger, opts ...HandlerOption) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		Store:        store,
		ScopeFactory: factory.NewScopeFactory(),
		clock:        clock.Real{},
		log:          log.Named("api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.Ledger = billing.NewObligationLedger(store, h.clock)
	h.Scheduler = billing.NewGenerationScheduler(store, h.Ledger, log,
		billing.WithClock(h.clock), billing.WithRecorder(h.recorder))
	return h
}

func (h *Handler) now() time.Time { return h.clock.Now().UTC() }

// =============================================================================
// RENT GENERATION HANDLERS
// =============================================================================

// GenerateHostel creates next month's obligations for every active tenant
// of a hostel.
func (h *Handler) GenerateHostel(w http.ResponseWriter, r *http.Request) {
	var req GenerateHostelRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}

	next := billing.PeriodOf(h.now()).Next()
	result, err := h.Scheduler.RunGeneration(r.Context(), billing.ScopeID(req.HostelID), billing.ScopeHostel, []billing.PeriodKey{next})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{
		Message:        generationMessage(result, next),
		GeneratedCount: result.GeneratedCount,
		FailedCount:    len(result.Failures),
	})
}

// GenerateBlock creates next month's obligations for a block. The path id
// is authoritative; a body id is optional but must agree.
func (h *Handler) GenerateBlock(w http.ResponseWriter, r *http.Request) {
	blockID := chi.URLParam(r, "blockId")

	var req GenerateBlockRequest
	if err := decode(r, &req, true); err != nil {
		h.writeError(w, err)
		return
	}
	if req.BlockID != "" && req.BlockID != blockID {
		h.writeError(w, billing.ValidationError("blockId in body does not match the path"))
		return
	}

	next := billing.PeriodOf(h.now()).Next()
	result, err := h.Scheduler.RunGeneration(r.Context(), billing.ScopeID(blockID), billing.ScopeBlock, []billing.PeriodKey{next})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{
		Message:        generationMessage(result, next),
		GeneratedCount: result.GeneratedCount,
		FailedCount:    len(result.Failures),
	})
}

// RefreshBlock ensures obligations for the current and the next month.
func (h *Handler) RefreshBlock(w http.ResponseWriter, r *http.Request) {
	var req RefreshBlockRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}

	periods := billing.CurrentAndNext(h.now())
	result, err := h.Scheduler.RunGeneration(r.Context(), billing.ScopeID(req.BlockID), billing.ScopeBlock, periods)
	if err != nil {
		h.writeError(w, err)
		return
	}

	current, next := result.Generated(periods[0]), result.Generated(periods[1])
	msg := fmt.Sprintf("Refreshed rent payments: %d for %s, %d for %s", current, periods[0], next, periods[1])
	if result.Disabled {
		msg = "Rent generation is disabled for this block"
	}
	writeJSON(w, http.StatusOK, RefreshResponse{
		Message:               msg,
		CurrentMonthGenerated: current,
		NextMonthGenerated:    next,
		FailedCount:           len(result.Failures),
	})
}

func generationMessage(result *billing.GenerationResult, period billing.PeriodKey) string {
	if result.Disabled {
		return fmt.Sprintf("Rent generation is disabled for this %s", result.Kind)
	}
	return fmt.Sprintf("Generated %d rent payments for %s", result.GeneratedCount, period)
}

// =============================================================================
// RENT PAYMENT HANDLERS
// =============================================================================

// CreateAdditional adds a one-off charge for a tenant.
func (h *Handler) CreateAdditional(w http.ResponseWriter, r *http.Request) {
	var req CreateAdditionalRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}

	period, err := billing.ParsePeriod(req.Month, req.Year)
	if err != nil {
		h.writeError(w, err)
		return
	}
	in := billing.AdditionalObligationInput{
		Amount:      req.Amount,
		Period:      period,
		Description: req.Description,
	}
	if req.DueDate != "" {
		due, err := billing.ParseDate(req.DueDate)
		if err != nil {
			h.writeError(w, billing.ValidationError("dueDate must be formatted YYYY-MM-DD"))
			return
		}
		in.DueDate = &due
	}

	o, err := h.Ledger.CreateAdditionalObligation(r.Context(), billing.TenantID(req.TenantID), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toObligationDTO(*o))
}

// ListObligations filters rent payments by query parameters.
func (h *Handler) ListObligations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := billing.ObligationFilter{
		TenantID: billing.TenantID(q.Get("tenantId")),
		ScopeID:  billing.ScopeID(q.Get("scopeId")),
		Status:   billing.ObligationStatus(q.Get("status")),
		Type:     billing.ObligationType(q.Get("type")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.writeError(w, billing.ValidationError("unknown status "+string(filter.Status)))
		return
	}
	if raw := q.Get("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, billing.ValidationError("year must be a number"))
			return
		}
		filter.Year = year
	}
	if month := q.Get("month"); month != "" {
		year := filter.Year
		if year == 0 {
			year = h.now().Year()
		}
		period, err := billing.ParsePeriod(month, year)
		if err != nil {
			h.writeError(w, err)
			return
		}
		filter.Month = period.MonthName()
	}

	obligations, err := h.Ledger.ListObligations(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(obligations, func(o billing.Obligation, _ int) ObligationDTO {
		return toObligationDTO(o)
	}))
}

func (h *Handler) GetObligation(w http.ResponseWriter, r *http.Request) {
	o, err := h.Ledger.GetObligation(r.Context(), billing.ObligationID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(*o))
}

// EditObligation applies a partial edit and records it in the change log.
func (h *Handler) EditObligation(w http.ResponseWriter, r *http.Request) {
	var req EditObligationRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}

	patch := billing.ObligationPatch{Amount: req.Amount, PaymentMethod: req.PaymentMethod}
	if req.Status != nil {
		patch.Status = lo.ToPtr(billing.ObligationStatus(*req.Status))
	}
	if patch.IsEmpty() {
		h.writeError(w, billing.ValidationError("nothing to edit: send amount, status or paymentMethod"))
		return
	}

	o, err := h.Ledger.EditObligation(r.Context(), billing.ObligationID(chi.URLParam(r, "id")), patch, req.Message)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(*o))
}

// RemoveObligation cancels a rent payment. The record is kept.
func (h *Handler) RemoveObligation(w http.ResponseWriter, r *http.Request) {
	var req RemoveObligationRequest
	if err := decode(r, &req, true); err != nil {
		h.writeError(w, err)
		return
	}

	id := billing.ObligationID(chi.URLParam(r, "id"))
	if err := h.Ledger.CancelObligation(r.Context(), id, req.Message); err != nil {
		h.writeError(w, err)
		return
	}
	o, err := h.Ledger.GetObligation(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(*o))
}

// =============================================================================
// SCOPE HANDLERS
// =============================================================================

func (h *Handler) CreateHostel(w http.ResponseWriter, r *http.Request) {
	var req CreateHostelRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}
	scope, err := h.createScope(r.Context(), req.ID, billing.ScopeHostel, req.Name, "", req.Settings)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toScopeDTO(h.ScopeFactory, *scope))
}

func (h *Handler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	var req CreateBlockRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}
	hostel, err := h.Store.GetScope(r.Context(), billing.ScopeID(req.HostelID))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if hostel == nil || hostel.Kind != billing.ScopeHostel {
		h.writeError(w, billing.NotFoundError("hostel", req.HostelID))
		return
	}
	scope, err := h.createScope(r.Context(), req.ID, billing.ScopeBlock, req.Name, hostel.ID, req.Settings)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toScopeDTO(h.ScopeFactory, *scope))
}

func (h *Handler) createScope(ctx context.Context, id string, kind billing.ScopeKind, name string, parent billing.ScopeID, settings *factory.ScopeSettingsJSON) (*billing.Scope, error) {
	if id == "" {
		id = uuid.NewString()
	}
	existing, err := h.Store.GetScope(ctx, billing.ScopeID(id))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, billing.InvalidOperationError(fmt.Sprintf("scope %s already exists", id))
	}

	cfg, err := h.ScopeFactory.Build(settings)
	if err != nil {
		return nil, err
	}
	now := h.now()
	scope := billing.Scope{
		ID:        billing.ScopeID(id),
		Kind:      kind,
		Name:      strings.TrimSpace(name),
		ParentID:  parent,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Store.SaveScope(ctx, scope); err != nil {
		return nil, err
	}
	return &scope, nil
}

// ListScopes returns all scopes, optionally filtered by ?kind=hostel|block.
func (h *Handler) ListScopes(w http.ResponseWriter, r *http.Request) {
	scopes, err := h.Store.ListScopes(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if kind := billing.ScopeKind(r.URL.Query().Get("kind")); kind != "" {
		scopes = lo.Filter(scopes, func(s billing.Scope, _ int) bool { return s.Kind == kind })
	}
	writeJSON(w, http.StatusOK, lo.Map(scopes, func(s billing.Scope, _ int) ScopeDTO {
		return toScopeDTO(h.ScopeFactory, s)
	}))
}

func (h *Handler) GetScope(w http.ResponseWriter, r *http.Request) {
	scope, err := h.loadScope(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScopeDTO(h.ScopeFactory, *scope))
}

// UpdateScopeSettings applies a partial settings document.
func (h *Handler) UpdateScopeSettings(w http.ResponseWriter, r *http.Request) {
	scope, err := h.loadScope(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, errors.Wrap(err, "read request body"))
		return
	}
	settings, err := h.ScopeFactory.ParseSettings(raw)
	if err != nil {
		h.writeError(w, err)
		return
	}
	cfg, err := h.ScopeFactory.Apply(scope.Config, settings)
	if err != nil {
		h.writeError(w, err)
		return
	}

	scope.Config = cfg
	scope.UpdatedAt = h.now()
	if err := h.Store.SaveScope(r.Context(), *scope); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScopeDTO(h.ScopeFactory, *scope))
}

func (h *Handler) loadScope(ctx context.Context, id string) (*billing.Scope, error) {
	scope, err := h.Store.GetScope(ctx, billing.ScopeID(id))
	if err != nil {
		return nil, err
	}
	if scope == nil {
		return nil, billing.NotFoundError("scope", id)
	}
	return scope, nil
}

// CreateRoomType adds or replaces a rate card in a scope.
func (h *Handler) CreateRoomType(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomTypeRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Rent.IsNegative() {
		h.writeError(w, billing.ValidationError("rent must not be negative"))
		return
	}
	if _, err := h.loadScope(r.Context(), req.ScopeID); err != nil {
		h.writeError(w, err)
		return
	}

	rt := billing.RoomType{
		ID:         uuid.NewString(),
		ScopeID:    billing.ScopeID(req.ScopeID),
		Name:       req.Name,
		Rent:       req.Rent,
		Components: req.Components,
		CreatedAt:  h.now(),
	}
	if existing, err := h.Store.FindRoomType(r.Context(), rt.ScopeID, rt.Name); err != nil {
		h.writeError(w, err)
		return
	} else if existing != nil {
		rt.ID = existing.ID
	}
	if err := h.Store.SaveRoomType(r.Context(), rt); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RoomTypeDTO{
		ID:         rt.ID,
		ScopeID:    string(rt.ScopeID),
		Name:       rt.Name,
		Rent:       rt.Rent.InexactFloat64(),
		Components: rt.Components,
	})
}

// =============================================================================
// TENANT HANDLERS
// =============================================================================

func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}
	ctx := r.Context()

	hostel, err := h.loadScope(ctx, req.HostelID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if hostel.Kind != billing.ScopeHostel {
		h.writeError(w, billing.ValidationError("hostelId must reference a hostel"))
		return
	}
	if req.BlockID != "" {
		block, err := h.loadScope(ctx, req.BlockID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if block.Kind != billing.ScopeBlock || block.ParentID != hostel.ID {
			h.writeError(w, billing.ValidationError("blockId must reference a block of the hostel"))
			return
		}
	}

	now := h.now()
	tenant := billing.Tenant{
		ID:         billing.TenantID(lo.Ternary(req.ID != "", req.ID, uuid.NewString())),
		Name:       strings.TrimSpace(req.Name),
		HostelID:   hostel.ID,
		BlockID:    billing.ScopeID(req.BlockID),
		RoomNumber: req.RoomNumber,
		RoomType:   req.RoomType,
		Status:     billing.TenantStatus(lo.Ternary(req.Status != "", req.Status, string(billing.TenantActive))),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.JoinDate != "" {
		if tenant.JoinDate, err = billing.ParseDate(req.JoinDate); err != nil {
			h.writeError(w, billing.ValidationError("joinDate must be formatted YYYY-MM-DD"))
			return
		}
	}

	if err := h.Store.SaveTenant(ctx, tenant); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTenantDTO(tenant))
}

func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.loadTenant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantDTO(*tenant))
}

// UpdateTenantStatus moves a tenant through its lifecycle. Only active
// tenants are billed by generation.
func (h *Handler) UpdateTenantStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateTenantStatusRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}
	tenant, err := h.loadTenant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	tenant.Status = billing.TenantStatus(req.Status)
	tenant.StatusReason = strings.TrimSpace(req.Reason)
	tenant.UpdatedAt = h.now()
	if err := h.Store.SaveTenant(r.Context(), *tenant); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantDTO(*tenant))
}

func (h *Handler) loadTenant(ctx context.Context, id string) (*billing.Tenant, error) {
	tenant, err := h.Store.GetTenant(ctx, billing.TenantID(id))
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, billing.NotFoundError("tenant", id)
	}
	return tenant, nil
}

// =============================================================================
// GENERATION RUNS
// =============================================================================

// ListGenerationRuns returns recent runs, newest first.
func (h *Handler) ListGenerationRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, billing.ValidationError("limit must be a positive number"))
			return
		}
		limit = n
	}

	runs, err := h.Scheduler.Runs(r.Context(), billing.ScopeID(r.URL.Query().Get("scopeId")), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(runs, func(run billing.GenerationRun, _ int) GenerationRunDTO {
		return toGenerationRunDTO(run)
	}))
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports ok, or 503 when the store cannot be reached.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func statusFor(err error) int {
	switch {
	case billing.IsValidation(err):
		return http.StatusBadRequest
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case billing.IsInvalidOperation(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: errors.FlattenHints(err)}

	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
		resp = ErrorResponse{Error: "internal error"}
	} else if resp.Error == "" {
		resp.Error = err.Error()
	}

	var fields fieldErrors
	if errors.As(err, &fields) {
		resp.Details = fields
	}
	writeJSON(w, status, resp)
}
