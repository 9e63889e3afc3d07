/*
store.go - Persistence interfaces for the billing engine

KEY INTERFACES:
  ScopeStore:      hostels and blocks with their settings
  TenantStore:     residents and their lifecycle status
  RoomTypeStore:   rate cards, unique by (scope, name)
  ObligationStore: rent records plus their append-only change log
  RunStore:        history of generation runs

CONVENTIONS:
  - Getters return (nil, nil) when the id does not resolve; the engine turns
    that into ErrNotFound with context.
  - CreateObligation must reject a second monthly obligation for the same
    (tenant, month, year), whatever its status, with ErrDuplicateObligation.
    This closes the check-then-create race between concurrent generations.
  - UpdateObligation persists the record's mutable fields and appends one
    ChangeEntry atomically. Entries are never rewritten or removed and
    obligations are never physically deleted.

IMPLEMENTATIONS:
  - store/sqlite: production
  - billing/store: in-memory, for tests and local runs
*/
package billing

import (
	"context"
	"time"
)

type ScopeStore interface {
	SaveScope(ctx context.Context, scope Scope) error
	GetScope(ctx context.Context, id ScopeID) (*Scope, error)
	ListScopes(ctx context.Context) ([]Scope, error)
}

type TenantStore interface {
	SaveTenant(ctx context.Context, tenant Tenant) error
	GetTenant(ctx context.Context, id TenantID) (*Tenant, error)

	// ActiveTenants returns tenants with status active billed under scope,
	// ordered by id.
	ActiveTenants(ctx context.Context, scope Scope) ([]Tenant, error)
}

type RoomTypeStore interface {
	SaveRoomType(ctx context.Context, rt RoomType) error

	// FindRoomType looks a rate card up by exact name within a scope.
	FindRoomType(ctx context.Context, scopeID ScopeID, name string) (*RoomType, error)
}

type ObligationStore interface {
	// FindMonthlyObligation returns the monthly obligation of tenant for
	// period in any status, or nil.
	FindMonthlyObligation(ctx context.Context, tenantID TenantID, period PeriodKey) (*Obligation, error)

	CreateObligation(ctx context.Context, o Obligation) error
	GetObligation(ctx context.Context, id ObligationID) (*Obligation, error)
	ListObligations(ctx context.Context, filter ObligationFilter) ([]Obligation, error)
	UpdateObligation(ctx context.Context, o Obligation, entry ChangeEntry) error
}

// =============================================================================
// GENERATION RUNS
// =============================================================================

type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunDisabled    RunStatus = "disabled"
	RunInterrupted RunStatus = "interrupted"
	RunFailed      RunStatus = "failed"
)

// GenerationRun is the persisted record of one RunGeneration call.
type GenerationRun struct {
	ID          string
	ScopeID     ScopeID
	Kind        ScopeKind
	Periods     []PeriodKey
	Status      RunStatus
	Generated   int
	Skipped     int
	Failed      int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

type RunStore interface {
	SaveGenerationRun(ctx context.Context, run GenerationRun) error
	ListGenerationRuns(ctx context.Context, scopeID ScopeID, limit int) ([]GenerationRun, error)
}

// LedgerStore is what ObligationLedger needs.
type LedgerStore interface {
	TenantStore
	RoomTypeStore
	ObligationStore
}

// Store is the full persistence surface.
type Store interface {
	ScopeStore
	LedgerStore
	RunStore
}
