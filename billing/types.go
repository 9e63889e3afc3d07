/*
Package billing provides the rent obligation engine for hostels and blocks.

PURPOSE:
  Every month each active tenant owes rent to the scope (hostel or block)
  that bills them. This package owns the rules for that: which billing
  period a record belongs to, when it falls due, how a record is created
  exactly once, how it is edited or cancelled with an audit trail, and
  how a whole scope is processed in one batch.

KEY CONCEPTS IN THIS FILE (types.go):
  - Scope: a Hostel or Block with its rent generation settings
  - Tenant: a resident billed by a scope
  - RoomType: a named rate card inside a scope
  - Obligation: one rent payment record for one tenant and one period

DESIGN PRINCIPLES:
  1. Explicit configuration: every recognised scope setting is a declared
     field of ScopeConfig with defaults enumerated in one place
  2. Precision: amounts use decimal.Decimal
  3. Snapshots: obligations copy room number/type at creation and are not
     kept in sync with later room type edits
  4. Logical deletion: obligations are cancelled, never removed

SEE ALSO:
  - period.go: PeriodKey
  - duedate.go: Due date policy
  - ledger.go: Idempotent obligation creation, edit, cancel
  - generation.go: Batch generation across a scope
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ScopeID string
type TenantID string
type ObligationID string

// =============================================================================
// SCOPE - Billing authority (hostel or block)
// =============================================================================

type ScopeKind string

const (
	ScopeHostel ScopeKind = "hostel"
	ScopeBlock  ScopeKind = "block"
)

func (k ScopeKind) Valid() bool {
	return k == ScopeHostel || k == ScopeBlock
}

// GenerationType selects how due dates are placed inside a month.
type GenerationType string

const (
	GenerateFixedDay      GenerationType = "fixed_day"
	GenerateJoinDateBased GenerationType = "join_date_based"
)

func (g GenerationType) Valid() bool {
	return g == GenerateFixedDay || g == GenerateJoinDateBased
}

const (
	// ScopeConfigVersion is bumped whenever ScopeConfig gains or changes a field.
	ScopeConfigVersion = 1

	// Hostels and blocks intentionally default to different days.
	DefaultHostelGenerationDay = 1
	DefaultBlockGenerationDay  = 5

	DefaultPaymentVisibilityDays = 5

	MaxGenerationDay = 31
)

// ScopeConfig holds every recognised rent generation setting of a scope.
// RentGenerationDay is 0 when the scope never set one; the kind-specific
// default is resolved by GenerationDay.
type ScopeConfig struct {
	Version               int            `json:"version"`
	RentGenerationEnabled bool           `json:"rentGenerationEnabled"`
	RentGenerationDay     int            `json:"rentGenerationDay,omitempty"`
	PaymentGenerationType GenerationType `json:"paymentGenerationType"`
	PaymentVisibilityDays int            `json:"paymentVisibilityDays"`
}

// DefaultScopeConfig returns the settings of a scope that never saved any.
func DefaultScopeConfig() ScopeConfig {
	return ScopeConfig{
		Version:               ScopeConfigVersion,
		RentGenerationEnabled: false,
		PaymentGenerationType: GenerateFixedDay,
		PaymentVisibilityDays: DefaultPaymentVisibilityDays,
	}
}

// Normalize fills zero values with defaults so exactly one policy mode is active.
func (c ScopeConfig) Normalize() ScopeConfig {
	if c.Version == 0 {
		c.Version = ScopeConfigVersion
	}
	if !c.PaymentGenerationType.Valid() {
		c.PaymentGenerationType = GenerateFixedDay
	}
	if c.PaymentVisibilityDays <= 0 {
		c.PaymentVisibilityDays = DefaultPaymentVisibilityDays
	}
	if c.RentGenerationDay < 0 {
		c.RentGenerationDay = 0
	}
	if c.RentGenerationDay > MaxGenerationDay {
		c.RentGenerationDay = MaxGenerationDay
	}
	return c
}

// GenerationDay returns the configured fixed day, or the default for kind.
func (c ScopeConfig) GenerationDay(kind ScopeKind) int {
	if c.RentGenerationDay >= 1 && c.RentGenerationDay <= MaxGenerationDay {
		return c.RentGenerationDay
	}
	if c.RentGenerationDay > MaxGenerationDay {
		return MaxGenerationDay
	}
	return DefaultGenerationDay(kind)
}

func DefaultGenerationDay(kind ScopeKind) int {
	if kind == ScopeBlock {
		return DefaultBlockGenerationDay
	}
	return DefaultHostelGenerationDay
}

// Scope is a hostel or block acting as billing authority.
// ParentID is the owning hostel of a block and empty for hostels.
type Scope struct {
	ID        ScopeID
	Kind      ScopeKind
	Name      string
	ParentID  ScopeID
	Config    ScopeConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// TENANT
// =============================================================================

type TenantStatus string

const (
	TenantActive      TenantStatus = "active"
	TenantLeft        TenantStatus = "left"
	TenantBlacklisted TenantStatus = "blacklisted"
	TenantPending     TenantStatus = "pending"
)

func (s TenantStatus) Valid() bool {
	switch s {
	case TenantActive, TenantLeft, TenantBlacklisted, TenantPending:
		return true
	}
	return false
}

// Tenant is a resident. HostelID is always set; BlockID when the tenant
// lives in a block.
type Tenant struct {
	ID           TenantID
	Name         string
	HostelID     ScopeID
	BlockID      ScopeID
	RoomNumber   string
	RoomType     string
	JoinDate     time.Time
	Status       TenantStatus
	StatusReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// InScope reports whether the tenant is billed under scope.
func (t Tenant) InScope(scope Scope) bool {
	switch scope.Kind {
	case ScopeHostel:
		return t.HostelID == scope.ID
	case ScopeBlock:
		return t.BlockID == scope.ID
	}
	return false
}

func (t Tenant) IsActive() bool { return t.Status == TenantActive }

// BillingScopeID is the most specific scope the tenant belongs to.
func (t Tenant) BillingScopeID() ScopeID {
	if t.BlockID != "" {
		return t.BlockID
	}
	return t.HostelID
}

// =============================================================================
// ROOM TYPE - Rate card
// =============================================================================

type RoomType struct {
	ID         string
	ScopeID    ScopeID
	Name       string
	Rent       decimal.Decimal
	Components []string
	CreatedAt  time.Time
}

// =============================================================================
// OBLIGATION - Rent payment record
// =============================================================================

type ObligationType string

const (
	ObligationMonthly    ObligationType = "monthly"
	ObligationAdditional ObligationType = "additional"
)

type ObligationStatus string

const (
	StatusUndefined ObligationStatus = "undefined"
	StatusPending   ObligationStatus = "pending"
	StatusPaid      ObligationStatus = "paid"
	StatusOverdue   ObligationStatus = "overdue"
	StatusCancelled ObligationStatus = "cancelled"
)

func (s ObligationStatus) Valid() bool {
	switch s {
	case StatusUndefined, StatusPending, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// editTarget reports whether an edit may move an obligation into s.
func (s ObligationStatus) editTarget() bool {
	return s == StatusPending || s == StatusPaid || s == StatusOverdue
}

// Obligation is one rent record. Month holds the English month name
// ("January"), the persisted form relied on for sorting elsewhere.
type Obligation struct {
	ID            ObligationID
	TenantID      TenantID
	ScopeID       ScopeID
	Type          ObligationType
	Amount        decimal.Decimal
	Status        ObligationStatus
	DueDate       time.Time
	Month         string
	Year          int
	RoomNumber    string
	RoomType      string
	PaymentMethod string
	Description   string
	ChangeLog     []ChangeEntry
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (o Obligation) IsCancelled() bool { return o.Status == StatusCancelled }

// Period returns the billing period the obligation was issued for.
func (o Obligation) Period() (PeriodKey, error) {
	return ParsePeriod(o.Month, o.Year)
}

// ObligationFilter narrows ListObligations. Zero fields do not filter.
type ObligationFilter struct {
	TenantID TenantID
	ScopeID  ScopeID
	Month    string
	Year     int
	Status   ObligationStatus
	Type     ObligationType
}

// Matches applies the filter in memory.
func (f ObligationFilter) Matches(o Obligation) bool {
	if f.TenantID != "" && o.TenantID != f.TenantID {
		return false
	}
	if f.ScopeID != "" && o.ScopeID != f.ScopeID {
		return false
	}
	if f.Month != "" && o.Month != f.Month {
		return false
	}
	if f.Year != 0 && o.Year != f.Year {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Type != "" && o.Type != f.Type {
		return false
	}
	return true
}
