/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with hostels,
  blocks, rate cards and tenants that exercise specific billing rules.
  Dates are derived from the handler clock so a scenario always lines up
  with "current" and "next" month.

AVAILABLE SCENARIOS:
  join-date-hostel:  Hostel billing on each tenant's join day, including
                     a join day past the end of short months
  fixed-day-block:   Block billing on day 5, with one tenant whose room
                     type has no rate card
  existing-records:  Hostel whose current month is partly billed already,
                     one record paid and one cancelled

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create scopes from settings documents via the scope factory
 3. Create rate cards
 4. Create tenants
 5. Optionally create and edit obligations through the ledger

USAGE VIA API:
  POST /api/scenarios/load
  {"scenarioId": "fixed-day-block"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - factory/scope.go: Settings documents
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/hostel-billing/billing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "join-date-hostel",
		Name:        "Join-Date Hostel",
		Description: "Hostel with join-date based due dates, including a tenant who joined on the 31st",
	},
	{
		ID:          "fixed-day-block",
		Name:        "Fixed-Day Block",
		Description: "Block due on day 5 with five tenants, one in a room type without a rate",
	},
	{
		ID:          "existing-records",
		Name:        "Existing Records",
		Description: "Hostel with current month records already present, one paid and one cancelled",
	},
}

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if s, ok := lo.Find(scenarios, func(s ScenarioDTO) bool { return s.ID == current }); ok {
		writeJSON(w, http.StatusOK, s)
		return
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and seeds a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "join-date-hostel":
		load = h.loadJoinDateHostelScenario
	case "fixed-day-block":
		load = h.loadFixedDayBlockScenario
	case "existing-records":
		load = h.loadExistingRecordsScenario
	default:
		h.writeError(w, billing.ValidationError("unknown scenario "+req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeError(w, errors.Wrap(err, "reset database"))
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.writeError(w, errors.Wrapf(err, "load scenario %s", req.ScenarioID))
		return
	}
	h.currentScenario = req.ScenarioID
	h.log.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeError(w, errors.Wrap(err, "reset database"))
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadJoinDateHostelScenario(ctx context.Context) error {
	hostel, err := h.seedScope(ctx, "hostel-sunrise", billing.ScopeHostel, "Sunrise Hostel", "",
		`{"rentGenerationEnabled": true, "paymentGenerationType": "join_date_based"}`)
	if err != nil {
		return err
	}
	if err := h.seedRoomTypes(ctx, hostel.ID, map[string]int64{"Single": 9000, "Double": 6500}); err != nil {
		return err
	}

	now := h.now()
	tenants := []billing.Tenant{
		{ID: "tenant-amara", Name: "Amara Okafor", RoomNumber: "101", RoomType: "Single",
			JoinDate: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -3, 14)},
		{ID: "tenant-bilal", Name: "Bilal Khan", RoomNumber: "102", RoomType: "Double",
			JoinDate: time.Date(now.Year()-1, time.January, 31, 0, 0, 0, 0, time.UTC)},
		{ID: "tenant-chen", Name: "Chen Wei", RoomNumber: "103", RoomType: "Double"},
		{ID: "tenant-dana", Name: "Dana Levi", RoomNumber: "104", RoomType: "Single",
			JoinDate: time.Date(now.Year()-1, time.June, 10, 0, 0, 0, 0, time.UTC),
			Status:   billing.TenantLeft, StatusReason: "Moved out"},
	}
	return h.seedTenants(ctx, hostel.ID, "", tenants)
}

func (h *Handler) loadFixedDayBlockScenario(ctx context.Context) error {
	hostel, err := h.seedScope(ctx, "hostel-harbour", billing.ScopeHostel, "Harbour Hostel", "",
		`{"rentGenerationEnabled": false}`)
	if err != nil {
		return err
	}
	block, err := h.seedScope(ctx, "block-a", billing.ScopeBlock, "Block A", hostel.ID,
		`{"rentGenerationEnabled": true, "rentGenerationDay": 5, "paymentGenerationType": "fixed_day"}`)
	if err != nil {
		return err
	}
	// No rate card for "Suite": its tenant is skipped by generation.
	if err := h.seedRoomTypes(ctx, block.ID, map[string]int64{"Standard": 7000, "Deluxe": 8800}); err != nil {
		return err
	}

	tenants := []billing.Tenant{
		{ID: "tenant-a1", Name: "Ada Mensah", RoomNumber: "A-1", RoomType: "Standard"},
		{ID: "tenant-a2", Name: "Bo Svensson", RoomNumber: "A-2", RoomType: "Standard"},
		{ID: "tenant-a3", Name: "Cyrus Farahani", RoomNumber: "A-3", RoomType: "Deluxe"},
		{ID: "tenant-a4", Name: "Dewi Lestari", RoomNumber: "A-4", RoomType: "Deluxe"},
		{ID: "tenant-a5", Name: "Emeka Obi", RoomNumber: "A-5", RoomType: "Suite"},
	}
	return h.seedTenants(ctx, hostel.ID, block.ID, tenants)
}

func (h *Handler) loadExistingRecordsScenario(ctx context.Context) error {
	hostel, err := h.seedScope(ctx, "hostel-meadow", billing.ScopeHostel, "Meadow Hostel", "",
		`{"rentGenerationEnabled": true, "rentGenerationDay": "10"}`)
	if err != nil {
		return err
	}
	if err := h.seedRoomTypes(ctx, hostel.ID, map[string]int64{"Dorm": 4500}); err != nil {
		return err
	}

	tenants := []billing.Tenant{
		{ID: "tenant-m1", Name: "Farah Aziz", RoomNumber: "D-1", RoomType: "Dorm"},
		{ID: "tenant-m2", Name: "Goran Petrov", RoomNumber: "D-2", RoomType: "Dorm"},
		{ID: "tenant-m3", Name: "Hana Sato", RoomNumber: "D-3", RoomType: "Dorm"},
	}
	if err := h.seedTenants(ctx, hostel.ID, "", tenants); err != nil {
		return err
	}

	period := billing.PeriodOf(h.now())
	paid, err := h.seedObligation(ctx, hostel, tenants[0].ID, period)
	if err != nil {
		return err
	}
	if _, err := h.Ledger.EditObligation(ctx, paid, billing.ObligationPatch{
		Status:        lo.ToPtr(billing.StatusPaid),
		PaymentMethod: lo.ToPtr("bank_transfer"),
	}, "Paid at the front desk"); err != nil {
		return err
	}

	cancelled, err := h.seedObligation(ctx, hostel, tenants[1].ID, period)
	if err != nil {
		return err
	}
	return h.Ledger.CancelObligation(ctx, cancelled, "Rent waived for the month")
}

// =============================================================================
// SEED HELPERS
// =============================================================================

func (h *Handler) seedScope(ctx context.Context, id string, kind billing.ScopeKind, name string, parent billing.ScopeID, settingsJSON string) (*billing.Scope, error) {
	settings, err := h.ScopeFactory.ParseSettings([]byte(settingsJSON))
	if err != nil {
		return nil, err
	}
	return h.createScope(ctx, id, kind, name, parent, &settings)
}

func (h *Handler) seedRoomTypes(ctx context.Context, scopeID billing.ScopeID, rents map[string]int64) error {
	for name, rent := range rents {
		rt := billing.RoomType{
			ID:        string(scopeID) + "-" + name,
			ScopeID:   scopeID,
			Name:      name,
			Rent:      decimal.NewFromInt(rent),
			CreatedAt: h.now(),
		}
		if err := h.Store.SaveRoomType(ctx, rt); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedTenants(ctx context.Context, hostelID, blockID billing.ScopeID, tenants []billing.Tenant) error {
	now := h.now()
	for _, t := range tenants {
		t.HostelID = hostelID
		t.BlockID = blockID
		if t.Status == "" {
			t.Status = billing.TenantActive
		}
		t.CreatedAt, t.UpdatedAt = now, now
		if err := h.Store.SaveTenant(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedObligation(ctx context.Context, scope *billing.Scope, tenantID billing.TenantID, period billing.PeriodKey) (billing.ObligationID, error) {
	tenant, err := h.loadTenant(ctx, string(tenantID))
	if err != nil {
		return "", err
	}
	res, err := h.Ledger.EnsureMonthlyObligation(ctx, *tenant, *scope, period)
	if err != nil {
		return "", err
	}
	if !res.Created {
		return "", errors.Newf("obligation for %s %s was not created: %s", tenantID, period, res.Skip)
	}
	return res.Obligation.ID, nil
}
