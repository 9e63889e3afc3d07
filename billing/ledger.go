/*
ledger.go - Idempotent store of rent obligations

PURPOSE:
  The ObligationLedger is the only writer of obligations. It guarantees at
  most one monthly obligation per (tenant, month, year) and records every
  later edit or cancellation in the obligation's change log.

INVARIANTS:
  1. IDEMPOTENT: EnsureMonthlyObligation twice for the same tenant and
     period creates at most one record. Any existing record blocks
     creation, including a cancelled one.
  2. SNAPSHOT: amount, room number and room type are copied at creation.
  3. LOGICAL DELETE: cancellation sets status cancelled and appends a
     delete entry. Nothing is removed.
  4. ABSORBING CANCEL: a cancelled obligation cannot be edited or
     cancelled again.

SKIPS ARE NOT ERRORS:
  An existing record and a room type that no longer matches the tenant's
  roomType (for example after a rename) both return Created=false with a
  SkipReason and a nil error.

SEE ALSO:
  - changelog.go: ChangeEntry, ObligationPatch
  - duedate.go: DueDate
  - generation.go: Batch caller
*/
package billing

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/hostel-billing/clock"
)

type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipExists          SkipReason = "exists"
	SkipRoomTypeMissing SkipReason = "room_type_missing"
)

// EnsureResult reports what EnsureMonthlyObligation did. Obligation is set
// only when Created is true.
type EnsureResult struct {
	Created    bool
	Obligation *Obligation
	Skip       SkipReason
}

// ObligationLedger creates, edits and cancels obligations.
type ObligationLedger struct {
	store LedgerStore
	clock clock.Clock
	newID func() string
}

func NewObligationLedger(store LedgerStore, clk clock.Clock) *ObligationLedger {
	if clk == nil {
		clk = clock.Real{}
	}
	return &ObligationLedger{
		store: store,
		clock: clk,
		newID: uuid.NewString,
	}
}

// =============================================================================
// GENERATION
// =============================================================================

// EnsureMonthlyObligation makes sure tenant has a monthly obligation for
// period, creating it from the scope's rate card when absent.
func (l *ObligationLedger) EnsureMonthlyObligation(ctx context.Context, tenant Tenant, scope Scope, period PeriodKey) (EnsureResult, error) {
	if !period.Valid() {
		return EnsureResult{}, ValidationError("invalid billing period")
	}

	existing, err := l.store.FindMonthlyObligation(ctx, tenant.ID, period)
	if err != nil {
		return EnsureResult{}, errors.Wrapf(err, "find obligation for tenant %s %s", tenant.ID, period)
	}
	if existing != nil {
		return EnsureResult{Skip: SkipExists}, nil
	}

	roomType, err := l.store.FindRoomType(ctx, scope.ID, tenant.RoomType)
	if err != nil {
		return EnsureResult{}, errors.Wrapf(err, "find room type %q in scope %s", tenant.RoomType, scope.ID)
	}
	if roomType == nil {
		return EnsureResult{Skip: SkipRoomTypeMissing}, nil
	}

	now := l.clock.Now().UTC()
	o := Obligation{
		ID:         ObligationID(l.newID()),
		TenantID:   tenant.ID,
		ScopeID:    scope.ID,
		Type:       ObligationMonthly,
		Amount:     roomType.Rent,
		Status:     StatusUndefined,
		DueDate:    DueDate(period, scope, tenant),
		Month:      period.MonthName(),
		Year:       period.Year,
		RoomNumber: tenant.RoomNumber,
		RoomType:   tenant.RoomType,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := l.store.CreateObligation(ctx, o); err != nil {
		if IsDuplicate(err) {
			// Lost a race with a concurrent generation for the same period.
			return EnsureResult{Skip: SkipExists}, nil
		}
		return EnsureResult{}, errors.Wrapf(err, "create obligation for tenant %s %s", tenant.ID, period)
	}
	return EnsureResult{Created: true, Obligation: &o}, nil
}

// =============================================================================
// ADDITIONAL CHARGES
// =============================================================================

// AdditionalObligationInput describes a one-off charge outside monthly rent.
type AdditionalObligationInput struct {
	Amount      decimal.Decimal
	Period      PeriodKey
	DueDate     *time.Time
	Description string
}

// CreateAdditionalObligation adds a one-off pending charge for tenant. Any
// number of additional obligations may exist per period.
func (l *ObligationLedger) CreateAdditionalObligation(ctx context.Context, tenantID TenantID, in AdditionalObligationInput) (*Obligation, error) {
	if !in.Amount.IsPositive() {
		return nil, ValidationError("amount must be greater than zero")
	}
	if !in.Period.Valid() {
		return nil, ValidationError("invalid billing period")
	}

	tenant, err := l.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, errors.Wrapf(err, "get tenant %s", tenantID)
	}
	if tenant == nil {
		return nil, NotFoundError("tenant", tenantID)
	}

	due := in.Period.Start()
	if in.DueDate != nil {
		due = StartOfDay(*in.DueDate)
	}

	now := l.clock.Now().UTC()
	o := Obligation{
		ID:          ObligationID(l.newID()),
		TenantID:    tenant.ID,
		ScopeID:     tenant.BillingScopeID(),
		Type:        ObligationAdditional,
		Amount:      in.Amount,
		Status:      StatusPending,
		DueDate:     due,
		Month:       in.Period.MonthName(),
		Year:        in.Period.Year,
		RoomNumber:  tenant.RoomNumber,
		RoomType:    tenant.RoomType,
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.CreateObligation(ctx, o); err != nil {
		return nil, errors.Wrapf(err, "create additional obligation for tenant %s", tenant.ID)
	}
	return &o, nil
}

// =============================================================================
// EDIT / CANCEL
// =============================================================================

// EditObligation applies patch and appends an edit entry listing only the
// fields that changed. A patch that changes nothing appends nothing.
func (l *ObligationLedger) EditObligation(ctx context.Context, id ObligationID, patch ObligationPatch, message string) (*Obligation, error) {
	if patch.Amount != nil && patch.Amount.IsNegative() {
		return nil, ValidationError("amount must not be negative")
	}

	current, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.IsCancelled() {
		return nil, InvalidOperationError("cancelled obligations cannot be edited")
	}
	if patch.Status != nil && *patch.Status != current.Status {
		if *patch.Status == StatusCancelled {
			return nil, ValidationError("use remove to cancel an obligation")
		}
		if !patch.Status.editTarget() {
			return nil, ValidationError("status must be one of pending, paid, overdue")
		}
	}

	changes := patch.Diff(*current)
	if len(changes) == 0 {
		return current, nil
	}

	now := l.clock.Now().UTC()
	entry := NewEditEntry(now, changes, strings.TrimSpace(message))
	updated := patch.Apply(*current)
	updated.UpdatedAt = now

	if err := l.store.UpdateObligation(ctx, updated, entry); err != nil {
		return nil, errors.Wrapf(err, "update obligation %s", id)
	}
	updated.ChangeLog = append(updated.ChangeLog, entry)
	return &updated, nil
}

// CancelObligation marks the obligation cancelled. The record is kept.
func (l *ObligationLedger) CancelObligation(ctx context.Context, id ObligationID, message string) error {
	current, err := l.load(ctx, id)
	if err != nil {
		return err
	}
	if current.IsCancelled() {
		return InvalidOperationError("obligation is already cancelled")
	}

	now := l.clock.Now().UTC()
	entry := NewDeleteEntry(now, current.Status, strings.TrimSpace(message))
	updated := *current
	updated.Status = StatusCancelled
	updated.UpdatedAt = now

	if err := l.store.UpdateObligation(ctx, updated, entry); err != nil {
		return errors.Wrapf(err, "cancel obligation %s", id)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (l *ObligationLedger) GetObligation(ctx context.Context, id ObligationID) (*Obligation, error) {
	return l.load(ctx, id)
}

func (l *ObligationLedger) ListObligations(ctx context.Context, filter ObligationFilter) ([]Obligation, error) {
	obligations, err := l.store.ListObligations(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list obligations")
	}
	return obligations, nil
}

func (l *ObligationLedger) load(ctx context.Context, id ObligationID) (*Obligation, error) {
	o, err := l.store.GetObligation(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get obligation %s", id)
	}
	if o == nil {
		return nil, NotFoundError("obligation", id)
	}
	return o, nil
}
