package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CHANGE LOG - Append-only audit trail of an obligation
// =============================================================================

type ChangeType string

const (
	ChangeEdit   ChangeType = "edit"
	ChangeDelete ChangeType = "delete"
)

// FieldChange records one field's value before and after an edit.
type FieldChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ChangeEntry is immutable once appended.
type ChangeEntry struct {
	Type    ChangeType             `json:"type"`
	Date    time.Time              `json:"date"`
	Changes map[string]FieldChange `json:"changes,omitempty"`
	Message string                 `json:"message"`
}

// Field names used as ChangeEntry.Changes keys.
const (
	FieldAmount        = "amount"
	FieldStatus        = "status"
	FieldPaymentMethod = "paymentMethod"
)

// ObligationPatch is a partial edit. Nil fields are left untouched.
type ObligationPatch struct {
	Amount        *decimal.Decimal
	Status        *ObligationStatus
	PaymentMethod *string
}

func (p ObligationPatch) IsEmpty() bool {
	return p.Amount == nil && p.Status == nil && p.PaymentMethod == nil
}

// Diff returns the fields of current that p would actually change.
func (p ObligationPatch) Diff(current Obligation) map[string]FieldChange {
	changes := make(map[string]FieldChange)
	if p.Amount != nil && !p.Amount.Equal(current.Amount) {
		changes[FieldAmount] = FieldChange{From: current.Amount.String(), To: p.Amount.String()}
	}
	if p.Status != nil && *p.Status != current.Status {
		changes[FieldStatus] = FieldChange{From: string(current.Status), To: string(*p.Status)}
	}
	if p.PaymentMethod != nil && *p.PaymentMethod != current.PaymentMethod {
		changes[FieldPaymentMethod] = FieldChange{From: current.PaymentMethod, To: *p.PaymentMethod}
	}
	return changes
}

// Apply returns a copy of current with the patch applied.
func (p ObligationPatch) Apply(current Obligation) Obligation {
	next := current
	if p.Amount != nil {
		next.Amount = *p.Amount
	}
	if p.Status != nil {
		next.Status = *p.Status
	}
	if p.PaymentMethod != nil {
		next.PaymentMethod = *p.PaymentMethod
	}
	next.ChangeLog = append([]ChangeEntry(nil), current.ChangeLog...)
	return next
}

func NewEditEntry(at time.Time, changes map[string]FieldChange, message string) ChangeEntry {
	return ChangeEntry{Type: ChangeEdit, Date: at.UTC(), Changes: changes, Message: message}
}

// NewDeleteEntry records a cancellation, including the status transition.
func NewDeleteEntry(at time.Time, previous ObligationStatus, message string) ChangeEntry {
	return ChangeEntry{
		Type:    ChangeDelete,
		Date:    at.UTC(),
		Changes: map[string]FieldChange{FieldStatus: {From: string(previous), To: string(StatusCancelled)}},
		Message: message,
	}
}
