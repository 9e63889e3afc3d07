package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hostel-billing/billing"
	"github.com/warp/hostel-billing/clock"
	"github.com/warp/hostel-billing/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

var (
	march2024 = billing.NewPeriodKey(2024, time.March)
	now       = time.Date(2024, time.February, 20, 9, 0, 0, 0, time.UTC)
)

func seedScope(t *testing.T, st *sqlite.Store, genType billing.GenerationType) billing.Scope {
	t.Helper()
	ctx := context.Background()
	cfg := billing.DefaultScopeConfig()
	cfg.RentGenerationEnabled = true
	cfg.PaymentGenerationType = genType
	hostel := billing.Scope{ID: "hostel-1", Kind: billing.ScopeHostel, Name: "Sunrise", Config: cfg, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.SaveScope(ctx, hostel))
	require.NoError(t, st.SaveRoomType(ctx, billing.RoomType{
		ID: "rt-1", ScopeID: hostel.ID, Name: "double", Rent: decimal.RequireFromString("8500.50"),
		Components: []string{"bed", "wifi"}, CreatedAt: now,
	}))
	return hostel
}

func seedTenant(t *testing.T, st *sqlite.Store, id billing.TenantID, joined time.Time) billing.Tenant {
	t.Helper()
	tenant := billing.Tenant{
		ID: id, Name: "Asha", HostelID: "hostel-1", RoomNumber: "101", RoomType: "double",
		JoinDate: joined, Status: billing.TenantActive, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.SaveTenant(context.Background(), tenant))
	return tenant
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestScopeRoundTrip(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	hostel := seedScope(t, st, billing.GenerateJoinDateBased)

	block := billing.Scope{ID: "block-a", Kind: billing.ScopeBlock, Name: "A", ParentID: hostel.ID, Config: billing.DefaultScopeConfig()}
	require.NoError(t, st.SaveScope(ctx, block))

	got, err := st.GetScope(ctx, hostel.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, hostel, *got)

	missing, err := st.GetScope(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Saving again overwrites settings in place.
	block.Config.RentGenerationDay = 12
	require.NoError(t, st.SaveScope(ctx, block))
	scopes, err := st.ListScopes(ctx)
	require.NoError(t, err)
	require.Len(t, scopes, 2)
	assert.Equal(t, billing.ScopeID("block-a"), scopes[0].ID)
	assert.Equal(t, 12, scopes[0].Config.RentGenerationDay)
	assert.Equal(t, hostel.ID, scopes[0].ParentID)
}

func TestRoomTypeLookup(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	seedScope(t, st, billing.GenerateFixedDay)

	rt, err := st.FindRoomType(ctx, "hostel-1", "double")
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, "8500.5", rt.Rent.String())
	assert.Equal(t, []string{"bed", "wifi"}, rt.Components)

	rt, err = st.FindRoomType(ctx, "hostel-1", "Double")
	require.NoError(t, err)
	assert.Nil(t, rt, "names match exactly")
}

func TestActiveTenants(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	hostel := seedScope(t, st, billing.GenerateFixedDay)
	seedTenant(t, st, "t-2", time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC))
	seedTenant(t, st, "t-1", time.Time{})
	gone := seedTenant(t, st, "t-3", now)
	gone.Status = billing.TenantLeft
	gone.StatusReason = "moved out"
	require.NoError(t, st.SaveTenant(ctx, gone))

	tenants, err := st.ActiveTenants(ctx, hostel)
	require.NoError(t, err)
	require.Len(t, tenants, 2)
	assert.Equal(t, billing.TenantID("t-1"), tenants[0].ID)
	assert.True(t, tenants[0].JoinDate.IsZero())
	assert.Equal(t, time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC), tenants[1].JoinDate)

	stored, err := st.GetTenant(ctx, "t-3")
	require.NoError(t, err)
	assert.Equal(t, "moved out", stored.StatusReason)

	blockTenants, err := st.ActiveTenants(ctx, billing.Scope{ID: "block-a", Kind: billing.ScopeBlock})
	require.NoError(t, err)
	assert.Empty(t, blockTenants)
}

// =============================================================================
// OBLIGATIONS THROUGH THE LEDGER
// =============================================================================

func TestLedgerOnSQLite_GenerateEditCancel(t *testing.T) {
	// GIVEN: join-date-based hostel, tenant joined 2024-01-15
	st := newStore(t)
	ctx := context.Background()
	hostel := seedScope(t, st, billing.GenerateJoinDateBased)
	tenant := seedTenant(t, st, "t-1", time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC))
	clk := clock.NewFakeClock(now)
	ledger := billing.NewObligationLedger(st, clk)

	// WHEN: generating March twice
	res, err := ledger.EnsureMonthlyObligation(ctx, tenant, hostel, march2024)
	require.NoError(t, err)
	again, err := ledger.EnsureMonthlyObligation(ctx, tenant, hostel, march2024)
	require.NoError(t, err)

	// THEN: one record with the snapshot values
	require.True(t, res.Created)
	assert.False(t, again.Created)
	o, err := st.GetObligation(ctx, res.Obligation.ID)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC), o.DueDate)
	assert.Equal(t, billing.StatusUndefined, o.Status)
	assert.True(t, decimal.RequireFromString("8500.50").Equal(o.Amount))
	assert.Equal(t, "101", o.RoomNumber)

	// WHEN: edit then cancel
	clk.Advance(time.Hour)
	_, err = ledger.EditObligation(ctx, o.ID, billing.ObligationPatch{Status: ptr(billing.StatusPaid), PaymentMethod: ptr("cash")}, "paid")
	require.NoError(t, err)
	clk.Advance(time.Hour)
	require.NoError(t, ledger.CancelObligation(ctx, o.ID, "refunded"))

	// THEN: the change log survives the round trip in order
	stored, err := st.GetObligation(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCancelled, stored.Status)
	assert.Equal(t, "cash", stored.PaymentMethod)
	require.Len(t, stored.ChangeLog, 2)
	assert.Equal(t, billing.ChangeEdit, stored.ChangeLog[0].Type)
	assert.Equal(t, now.Add(time.Hour), stored.ChangeLog[0].Date)
	assert.Equal(t, billing.FieldChange{From: "undefined", To: "paid"}, stored.ChangeLog[0].Changes[billing.FieldStatus])
	assert.Equal(t, billing.FieldChange{From: "", To: "cash"}, stored.ChangeLog[0].Changes[billing.FieldPaymentMethod])
	assert.Equal(t, billing.ChangeDelete, stored.ChangeLog[1].Type)
	assert.Equal(t, "refunded", stored.ChangeLog[1].Message)

	// A cancelled record still blocks regeneration.
	third, err := ledger.EnsureMonthlyObligation(ctx, tenant, hostel, march2024)
	require.NoError(t, err)
	assert.Equal(t, billing.SkipExists, third.Skip)
}

func TestCreateObligation_UniqueMonthlyIndex(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	base := billing.Obligation{
		TenantID: "t-1", ScopeID: "hostel-1", Type: billing.ObligationMonthly,
		Amount: decimal.NewFromInt(100), Status: billing.StatusUndefined,
		DueDate: march2024.Start(), Month: march2024.MonthName(), Year: march2024.Year,
		CreatedAt: now, UpdatedAt: now,
	}

	first := base
	first.ID = "o-1"
	require.NoError(t, st.CreateObligation(ctx, first))

	second := base
	second.ID = "o-2"
	err := st.CreateObligation(ctx, second)
	assert.True(t, billing.IsDuplicate(err))

	// Additional charges are not constrained.
	extra := base
	extra.ID = "o-3"
	extra.Type = billing.ObligationAdditional
	require.NoError(t, st.CreateObligation(ctx, extra))
	extra.ID = "o-4"
	require.NoError(t, st.CreateObligation(ctx, extra))

	list, err := st.ListObligations(ctx, billing.ObligationFilter{TenantID: "t-1", Type: billing.ObligationAdditional})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = st.ListObligations(ctx, billing.ObligationFilter{Month: "March", Year: 2024})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, billing.ObligationID("o-1"), list[0].ID)
}

func TestUpdateObligation_UnknownID(t *testing.T) {
	st := newStore(t)
	err := st.UpdateObligation(context.Background(), billing.Obligation{ID: "nope"}, billing.NewEditEntry(now, nil, ""))
	assert.True(t, billing.IsNotFound(err))
}

// =============================================================================
// RUNS / RESET
// =============================================================================

func TestGenerationRuns(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	run := billing.GenerationRun{
		ID: "run-1", ScopeID: "block-a", Kind: billing.ScopeBlock,
		Periods: []billing.PeriodKey{march2024, march2024.Next()},
		Status:  billing.RunRunning, StartedAt: now,
	}
	require.NoError(t, st.SaveGenerationRun(ctx, run))

	done := now.Add(time.Minute)
	run.Status = billing.RunCompleted
	run.Generated = 3
	run.CompletedAt = &done
	require.NoError(t, st.SaveGenerationRun(ctx, run))

	require.NoError(t, st.SaveGenerationRun(ctx, billing.GenerationRun{
		ID: "run-2", ScopeID: "hostel-1", Kind: billing.ScopeHostel,
		Periods: []billing.PeriodKey{march2024}, Status: billing.RunRunning, StartedAt: now.Add(time.Hour),
	}))

	all, err := st.ListGenerationRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "run-2", all[0].ID)

	block, err := st.ListGenerationRuns(ctx, "block-a", 5)
	require.NoError(t, err)
	require.Len(t, block, 1)
	assert.Equal(t, run, block[0])
}

func TestReset(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	seedScope(t, st, billing.GenerateFixedDay)
	seedTenant(t, st, "t-1", now)

	require.NoError(t, st.Reset(ctx))

	scopes, err := st.ListScopes(ctx)
	require.NoError(t, err)
	assert.Empty(t, scopes)
	tenant, err := st.GetTenant(ctx, "t-1")
	require.NoError(t, err)
	assert.Nil(t, tenant)
}

func ptr[T any](v T) *T { return &v }
