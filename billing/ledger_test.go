package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hostel-billing/billing"
	"github.com/warp/hostel-billing/billing/store"
	"github.com/warp/hostel-billing/clock"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	store  *store.Memory
	clock  *clock.FakeClock
	ledger *billing.ObligationLedger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	clk := clock.NewFakeClock(time.Date(2024, time.February, 20, 9, 0, 0, 0, time.UTC))
	return &fixture{
		store:  mem,
		clock:  clk,
		ledger: billing.NewObligationLedger(mem, clk),
	}
}

func (f *fixture) addScope(t *testing.T, id billing.ScopeID, kind billing.ScopeKind, genType billing.GenerationType, enabled bool) billing.Scope {
	t.Helper()
	cfg := billing.DefaultScopeConfig()
	cfg.RentGenerationEnabled = enabled
	cfg.PaymentGenerationType = genType
	scope := billing.Scope{ID: id, Kind: kind, Name: string(id), Config: cfg}
	require.NoError(t, f.store.SaveScope(context.Background(), scope))
	return scope
}

func (f *fixture) addRoomType(t *testing.T, scopeID billing.ScopeID, name string, rent int64) {
	t.Helper()
	require.NoError(t, f.store.SaveRoomType(context.Background(), billing.RoomType{
		ID:      string(scopeID) + "-" + name,
		ScopeID: scopeID,
		Name:    name,
		Rent:    decimal.NewFromInt(rent),
	}))
}

func (f *fixture) addTenant(t *testing.T, id billing.TenantID, scope billing.Scope, roomType string, joined time.Time) billing.Tenant {
	t.Helper()
	tenant := billing.Tenant{
		ID:         id,
		Name:       string(id),
		RoomNumber: "R-" + string(id),
		RoomType:   roomType,
		JoinDate:   joined,
		Status:     billing.TenantActive,
	}
	if scope.Kind == billing.ScopeBlock {
		tenant.HostelID = scope.ParentID
		tenant.BlockID = scope.ID
	} else {
		tenant.HostelID = scope.ID
	}
	require.NoError(t, f.store.SaveTenant(context.Background(), tenant))
	return tenant
}

func statusPtr(s billing.ObligationStatus) *billing.ObligationStatus { return &s }
func strPtr(s string) *string                                      { return &s }
func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

var march2024 = billing.NewPeriodKey(2024, time.March)

// =============================================================================
// ENSURE MONTHLY OBLIGATION
// =============================================================================

func TestEnsureMonthlyObligation_CreatesFromRoomType(t *testing.T) {
	// GIVEN: join-date-based hostel, tenant joined 2024-01-15 in a "double" room
	f := newFixture(t)
	ctx := context.Background()
	hostel := f.addScope(t, "hostel-1", billing.ScopeHostel, billing.GenerateJoinDateBased, true)
	f.addRoomType(t, hostel.ID, "double", 8500)
	tenant := f.addTenant(t, "t-1", hostel, "double", date(2024, time.January, 15))

	// WHEN
	res, err := f.ledger.EnsureMonthlyObligation(ctx, tenant, hostel, march2024)

	// THEN
	require.NoError(t, err)
	require.True(t, res.Created)
	o := res.Obligation
	require.NotNil(t, o)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, billing.ObligationMonthly, o.Type)
	assert.Equal(t, billing.StatusUndefined, o.Status)
	assert.True(t, decimal.NewFromInt(8500).Equal(o.Amount))
	assert.Equal(t, date(2024, time.March, 15), o.DueDate)
	assert.Equal(t, "March", o.Month)
	assert.Equal(t, 2024, o.Year)
	assert.Equal(t, "R-t-1", o.RoomNumber)
	assert.Equal(t, "double", o.RoomType)
	assert.Equal(t, hostel.ID, o.ScopeID)
	assert.Empty(t, o.ChangeLog)
}

func TestEnsureMonthlyObligation_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hostel := f.addScope(t, "hostel-1", billing.ScopeHostel, billing.GenerateFixedDay, true)
	f.addRoomType(t, hostel.ID, "single", 6000)
	tenant := f.addTenant(t, "t-1", hostel, "single", date(2024, time.January, 3))

	first, err := f.ledger.EnsureMonthlyObligation(ctx, tenant, hostel, march2024)
	require.NoError(t, err)
	second, err := f.ledger.EnsureMonthlyObligation(ctx, tenant, hostel, march2024)
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, billing.SkipExists, second.Skip)
	assert.Nil(t, second.Obligation)

	all, err := f.store.ListObligations(ctx, billing.ObligationFilter{TenantID: tenant.ID})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEnsureMonthlyObligation_CancelledBlocksRegeneration(t *testing.T) {
	// GIVEN: an obligation for March that was cancelled
	f := newFixture(t)
	ctx := context.Background()
	hostel := f.addScope(t, "hostel-1", billing.ScopeHostel, billing.GenerateFixedDay, true)
	f.addRoomType(t, hostel.ID, "single", 6000)
	tenant := f.addTenant(t, "t-1", hostel, "single", date(2024, time.January, 3))

	res, err := f.ledger.EnsureMonthlyObligation(ctx, tenant, hostel, march2024)
	require.NoError(t, err)
	require.NoError(t, f.ledger.CancelObligation(ctx, res.Obligation.ID, "moved rooms"))

	// WHEN: generating March again
	again, err := f.ledger.EnsureMonthlyObligation(ctx, tenant, hostel, march2024)

	// THEN: nothing new is created
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, billing.SkipExists, again.Skip)
}

func TestEnsureMonthlyObligation_MissingRoomTypeSkipsSilently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hostel := f.addScope(t, "hostel-1", billing.ScopeHostel, billing.GenerateFixedDay, true)
	f.addRoomType(t, hostel.ID, "single", 6000)
	tenant := f.addTenant(t, "t-1", hostel, "renamed-room", date(2024, time.January, 3))

	res, err := f.ledger.EnsureMonthlyObligation(ctx, tenant, hostel, march2024)

	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, billing.SkipRoomTypeMissing, res.Skip)
}

func TestEnsureMonthlyObligation_RoomTypeLookupIsPerScope(t *testing.T) {
	// GIVEN: "single" only exists in another hostel
	f := newFixture(t)
	ctx := context.Background()
	hostel := f.addScope(t, "hostel-1", billing.ScopeHostel, billing.GenerateFixedDay, true)
	f.addRoomType(t, "hostel-2", "single", 6000)
	tenant := f.addTenant(t, "t-1", hostel, "single", date(2024, time.January, 3))

	res, err := f.ledger.EnsureMonthlyObligation(ctx, tenant, hostel, march2024)

	require.NoError(t, err)
	assert.Equal(t, billing.SkipRoomTypeMissing, res.Skip)
}

// duplicateOnCreate simulates losing the check-then-create race: the
// existence check sees nothing, but the store's uniqueness rule fires.
type duplicateOnCreate struct {
	*store.Memory
}

func (d duplicateOnCreate) FindMonthlyObligation(context.Context, billing.TenantID, billing.PeriodKey) (*billing.Obligation, error) {
	return nil, nil
}

func TestEnsureMonthlyObligation_ConcurrentDuplicateIsSkip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hostel := f.addScope(t, "hostel-1", billing.ScopeHostel, billing.GenerateFixedDay, true)
	f.addRoomType(t, hostel.ID, "single", 6000)
	tenant := f.addTenant(t, "t-1", hostel, "single", date(2024, time.January, 3))

	racing := billing.NewObligationLedger(duplicateOnCreate{f.store}, f.clock)
	first, err := racing.EnsureMonthlyObligation(ctx, tenant, hostel, march2024)
	require.NoError(t, err)
	second, err := racing.EnsureMonthlyObligation(ctx, tenant, hostel, march2024)

	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, billing.SkipExists, second.Skip)
}

func TestEnsureMonthlyObligation_InvalidPeriod(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.EnsureMonthlyObligation(context.Background(), billing.Tenant{ID: "t"}, billing.Scope{ID: "s"}, billing.PeriodKey{})
	assert.True(t, billing.IsValidation(err))
}

// =============================================================================
// EDIT
// =============================================================================

func seedObligation(t *testing.T, f *fixture) *billing.Obligation {
	t.Helper()
	hostel := f.addScope(t, "hostel-1", billing.ScopeHostel, billing.GenerateFixedDay, true)
	f.addRoomType(t, hostel.ID, "single", 6000)
	tenant := f.addTenant(t, "t-1", hostel, "single", date(2024, time.January, 3))
	res, err := f.ledger.EnsureMonthlyObligation(context.Background(), tenant, hostel, march2024)
	require.NoError(t, err)
	require.True(t, res.Created)
	return res.Obligation
}

func TestEditObligation_OnlyChangedFieldsLogged(t *testing.T) {
	// GIVEN: an obligation of 6000 with no payment method
	f := newFixture(t)
	ctx := context.Background()
	o := seedObligation(t, f)

	// WHEN: the same amount and payment method are sent with a new status
	updated, err := f.ledger.EditObligation(ctx, o.ID, billing.ObligationPatch{
		Amount:        decPtr(6000),
		Status:        statusPtr(billing.StatusPaid),
		PaymentMethod: strPtr(""),
	}, "paid at desk")

	// THEN: only status appears in the change entry
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, updated.Status)
	require.Len(t, updated.ChangeLog, 1)
	entry := updated.ChangeLog[0]
	assert.Equal(t, billing.ChangeEdit, entry.Type)
	assert.Equal(t, "paid at desk", entry.Message)
	assert.Equal(t, f.clock.Now(), entry.Date)
	assert.Equal(t, map[string]billing.FieldChange{
		billing.FieldStatus: {From: "undefined", To: "paid"},
	}, entry.Changes)

	stored, err := f.ledger.GetObligation(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.ChangeLog, stored.ChangeLog)
	assert.Equal(t, billing.StatusPaid, stored.Status)
}

func TestEditObligation_AllFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := seedObligation(t, f)

	updated, err := f.ledger.EditObligation(ctx, o.ID, billing.ObligationPatch{
		Amount:        decPtr(5500),
		Status:        statusPtr(billing.StatusPending),
		PaymentMethod: strPtr("upi"),
	}, "discount")

	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(5500).Equal(updated.Amount))
	assert.Equal(t, "upi", updated.PaymentMethod)
	changes := updated.ChangeLog[0].Changes
	assert.Len(t, changes, 3)
	assert.Equal(t, billing.FieldChange{From: "6000", To: "5500"}, changes[billing.FieldAmount])
	assert.Equal(t, billing.FieldChange{From: "", To: "upi"}, changes[billing.FieldPaymentMethod])
}

func TestEditObligation_NoChangeAppendsNothing(t *testing.T) {
	f := newFixture(t)
	o := seedObligation(t, f)

	updated, err := f.ledger.EditObligation(context.Background(), o.ID, billing.ObligationPatch{Amount: decPtr(6000)}, "noop")

	require.NoError(t, err)
	assert.Empty(t, updated.ChangeLog)
}

func TestEditObligation_StatusMovesFreelyBeforeCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := seedObligation(t, f)

	for _, s := range []billing.ObligationStatus{billing.StatusPending, billing.StatusOverdue, billing.StatusPaid, billing.StatusPending} {
		_, err := f.ledger.EditObligation(ctx, o.ID, billing.ObligationPatch{Status: statusPtr(s)}, "")
		require.NoError(t, err)
	}

	stored, err := f.ledger.GetObligation(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPending, stored.Status)
	assert.Len(t, stored.ChangeLog, 4)
}

func TestEditObligation_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := seedObligation(t, f)

	_, err := f.ledger.EditObligation(ctx, "missing", billing.ObligationPatch{Status: statusPtr(billing.StatusPaid)}, "")
	assert.True(t, billing.IsNotFound(err), "unknown id")

	_, err = f.ledger.EditObligation(ctx, o.ID, billing.ObligationPatch{Amount: decPtr(-1)}, "")
	assert.True(t, billing.IsValidation(err), "negative amount")

	_, err = f.ledger.EditObligation(ctx, o.ID, billing.ObligationPatch{Status: statusPtr(billing.StatusCancelled)}, "")
	assert.True(t, billing.IsValidation(err), "cancel through edit")

	_, err = f.ledger.EditObligation(ctx, o.ID, billing.ObligationPatch{Status: statusPtr("refunded")}, "")
	assert.True(t, billing.IsValidation(err), "unknown status")

	_, err = f.ledger.EditObligation(ctx, o.ID, billing.ObligationPatch{Status: statusPtr(billing.StatusPaid)}, "")
	require.NoError(t, err)
	_, err = f.ledger.EditObligation(ctx, o.ID, billing.ObligationPatch{Status: statusPtr(billing.StatusUndefined)}, "")
	assert.True(t, billing.IsValidation(err), "back to undefined")
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancelObligation_KeepsRecord(t *testing.T) {
	// GIVEN
	f := newFixture(t)
	ctx := context.Background()
	o := seedObligation(t, f)
	_, err := f.ledger.EditObligation(ctx, o.ID, billing.ObligationPatch{Status: statusPtr(billing.StatusPending)}, "sent reminder")
	require.NoError(t, err)

	// WHEN
	require.NoError(t, f.ledger.CancelObligation(ctx, o.ID, "tenant left early"))

	// THEN: still retrievable, cancelled, with a trailing delete entry
	stored, err := f.ledger.GetObligation(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCancelled, stored.Status)
	require.Len(t, stored.ChangeLog, 2)
	last := stored.ChangeLog[1]
	assert.Equal(t, billing.ChangeDelete, last.Type)
	assert.Equal(t, "tenant left early", last.Message)
	assert.Equal(t, billing.FieldChange{From: "pending", To: "cancelled"}, last.Changes[billing.FieldStatus])
}

func TestCancelObligation_IsAbsorbing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := seedObligation(t, f)
	require.NoError(t, f.ledger.CancelObligation(ctx, o.ID, "dup"))

	err := f.ledger.CancelObligation(ctx, o.ID, "again")
	assert.True(t, billing.IsInvalidOperation(err))

	_, err = f.ledger.EditObligation(ctx, o.ID, billing.ObligationPatch{Status: statusPtr(billing.StatusPaid)}, "")
	assert.True(t, billing.IsInvalidOperation(err))

	stored, err := f.ledger.GetObligation(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCancelled, stored.Status)
	assert.Len(t, stored.ChangeLog, 1)
}

func TestCancelObligation_NotFound(t *testing.T) {
	f := newFixture(t)
	err := f.ledger.CancelObligation(context.Background(), "missing", "")
	assert.True(t, billing.IsNotFound(err))
}

// =============================================================================
// ADDITIONAL
// =============================================================================

func TestCreateAdditionalObligation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	block := f.addScope(t, "block-a", billing.ScopeBlock, billing.GenerateFixedDay, true)
	tenant := f.addTenant(t, "t-1", block, "single", date(2024, time.January, 3))

	o, err := f.ledger.CreateAdditionalObligation(ctx, tenant.ID, billing.AdditionalObligationInput{
		Amount:      decimal.NewFromInt(750),
		Period:      march2024,
		Description: " laundry ",
	})
	require.NoError(t, err)
	assert.Equal(t, billing.ObligationAdditional, o.Type)
	assert.Equal(t, billing.StatusPending, o.Status)
	assert.Equal(t, block.ID, o.ScopeID)
	assert.Equal(t, march2024.Start(), o.DueDate)
	assert.Equal(t, "laundry", o.Description)

	// Additional charges do not count against the monthly uniqueness rule.
	_, err = f.ledger.CreateAdditionalObligation(ctx, tenant.ID, billing.AdditionalObligationInput{
		Amount: decimal.NewFromInt(100),
		Period: march2024,
	})
	require.NoError(t, err)
}

func TestCreateAdditionalObligation_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.CreateAdditionalObligation(ctx, "t-x", billing.AdditionalObligationInput{Amount: decimal.Zero, Period: march2024})
	assert.True(t, billing.IsValidation(err))

	_, err = f.ledger.CreateAdditionalObligation(ctx, "t-x", billing.AdditionalObligationInput{Amount: decimal.NewFromInt(5), Period: march2024})
	assert.True(t, billing.IsNotFound(err))
}
