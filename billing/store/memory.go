// Package store provides an in-memory billing.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/warp/hostel-billing/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	scopes      map[billing.ScopeID]billing.Scope
	tenants     map[billing.TenantID]billing.Tenant
	roomTypes   map[roomTypeKey]billing.RoomType
	obligations map[billing.ObligationID]billing.Obligation
	order       []billing.ObligationID
	monthly     map[monthlyKey]billing.ObligationID
	runs        []billing.GenerationRun
}

type roomTypeKey struct {
	ScopeID billing.ScopeID
	Name    string
}

type monthlyKey struct {
	TenantID billing.TenantID
	Period   billing.PeriodKey
}

func NewMemory() *Memory {
	return &Memory{
		scopes:      make(map[billing.ScopeID]billing.Scope),
		tenants:     make(map[billing.TenantID]billing.Tenant),
		roomTypes:   make(map[roomTypeKey]billing.RoomType),
		obligations: make(map[billing.ObligationID]billing.Obligation),
		monthly:     make(map[monthlyKey]billing.ObligationID),
	}
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes = make(map[billing.ScopeID]billing.Scope)
	m.tenants = make(map[billing.TenantID]billing.Tenant)
	m.roomTypes = make(map[roomTypeKey]billing.RoomType)
	m.obligations = make(map[billing.ObligationID]billing.Obligation)
	m.monthly = make(map[monthlyKey]billing.ObligationID)
	m.order = nil
	m.runs = nil
	return nil
}

// =============================================================================
// SCOPES
// =============================================================================

func (m *Memory) SaveScope(_ context.Context, scope billing.Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes[scope.ID] = scope
	return nil
}

func (m *Memory) GetScope(_ context.Context, id billing.ScopeID) (*billing.Scope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scopes[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListScopes(_ context.Context) ([]billing.Scope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scopes := lo.Values(m.scopes)
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].ID < scopes[j].ID })
	return scopes, nil
}

// =============================================================================
// TENANTS
// =============================================================================

func (m *Memory) SaveTenant(_ context.Context, tenant billing.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenant.ID] = tenant
	return nil
}

func (m *Memory) GetTenant(_ context.Context, id billing.TenantID) (*billing.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) ActiveTenants(_ context.Context, scope billing.Scope) ([]billing.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tenants := lo.Filter(lo.Values(m.tenants), func(t billing.Tenant, _ int) bool {
		return t.IsActive() && t.InScope(scope)
	})
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].ID < tenants[j].ID })
	return tenants, nil
}

// =============================================================================
// ROOM TYPES
// =============================================================================

func (m *Memory) SaveRoomType(_ context.Context, rt billing.RoomType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomTypes[roomTypeKey{ScopeID: rt.ScopeID, Name: rt.Name}] = rt
	return nil
}

func (m *Memory) FindRoomType(_ context.Context, scopeID billing.ScopeID, name string) (*billing.RoomType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.roomTypes[roomTypeKey{ScopeID: scopeID, Name: name}]
	if !ok {
		return nil, nil
	}
	return &rt, nil
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

func (m *Memory) FindMonthlyObligation(_ context.Context, tenantID billing.TenantID, period billing.PeriodKey) (*billing.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.monthly[monthlyKey{TenantID: tenantID, Period: period}]
	if !ok {
		return nil, nil
	}
	o := m.copyLocked(id)
	return &o, nil
}

// CreateObligation enforces the monthly uniqueness rule like the SQL stores.
func (m *Memory) CreateObligation(_ context.Context, o billing.Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.obligations[o.ID]; exists {
		return billing.ErrDuplicateObligation
	}
	if o.Type == billing.ObligationMonthly {
		period, err := o.Period()
		if err != nil {
			return err
		}
		k := monthlyKey{TenantID: o.TenantID, Period: period}
		if _, exists := m.monthly[k]; exists {
			return billing.ErrDuplicateObligation
		}
		m.monthly[k] = o.ID
	}

	o.ChangeLog = append([]billing.ChangeEntry(nil), o.ChangeLog...)
	m.obligations[o.ID] = o
	m.order = append(m.order, o.ID)
	return nil
}

func (m *Memory) GetObligation(_ context.Context, id billing.ObligationID) (*billing.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.obligations[id]; !ok {
		return nil, nil
	}
	o := m.copyLocked(id)
	return &o, nil
}

func (m *Memory) ListObligations(_ context.Context, filter billing.ObligationFilter) ([]billing.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []billing.Obligation
	for _, id := range m.order {
		if filter.Matches(m.obligations[id]) {
			result = append(result, m.copyLocked(id))
		}
	}
	return result, nil
}

// UpdateObligation replaces mutable fields and appends entry. The stored
// change log is only ever extended.
func (m *Memory) UpdateObligation(_ context.Context, o billing.Obligation, entry billing.ChangeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.obligations[o.ID]
	if !ok {
		return billing.NotFoundError("obligation", o.ID)
	}
	current.Amount = o.Amount
	current.Status = o.Status
	current.PaymentMethod = o.PaymentMethod
	current.UpdatedAt = o.UpdatedAt
	current.ChangeLog = append(current.ChangeLog, entry)
	m.obligations[o.ID] = current
	return nil
}

func (m *Memory) copyLocked(id billing.ObligationID) billing.Obligation {
	o := m.obligations[id]
	o.ChangeLog = append([]billing.ChangeEntry(nil), o.ChangeLog...)
	return o
}

// =============================================================================
// GENERATION RUNS
// =============================================================================

func (m *Memory) SaveGenerationRun(_ context.Context, run billing.GenerationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

// ListGenerationRuns returns runs newest first. An empty scopeID lists all.
func (m *Memory) ListGenerationRuns(_ context.Context, scopeID billing.ScopeID, limit int) ([]billing.GenerationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []billing.GenerationRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		if scopeID != "" && m.runs[i].ScopeID != scopeID {
			continue
		}
		result = append(result, m.runs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

var _ billing.Store = (*Memory)(nil)
