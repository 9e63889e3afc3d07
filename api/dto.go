/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the billing API, decoupled from the billing model. Field
  names are camelCase to match the existing admin clients.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients
  - *Response: operation-specific response wrappers

AMOUNTS:
  Requests accept amounts as JSON numbers or strings (decimal.Decimal).
  Responses render them as numbers.

VALIDATION:
  Request types carry go-playground/validator tags, checked by decode() in
  validate.go before a handler sees the value.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/scope.go: ScopeSettingsJSON
*/
package api

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/warp/hostel-billing/billing"
	"github.com/warp/hostel-billing/factory"
)

// =============================================================================
// RENT PAYMENTS
// =============================================================================

type GenerateHostelRequest struct {
	HostelID string `json:"hostelId" validate:"required"`
}

type GenerateBlockRequest struct {
	BlockID string `json:"blockId"`
}

type RefreshBlockRequest struct {
	BlockID string `json:"blockId" validate:"required"`
}

// GenerateResponse answers hostel and block generation.
type GenerateResponse struct {
	Message        string `json:"message"`
	GeneratedCount int    `json:"generatedCount"`
	FailedCount    int    `json:"failedCount"`
}

type RefreshResponse struct {
	Message               string `json:"message"`
	CurrentMonthGenerated int    `json:"currentMonthGenerated"`
	NextMonthGenerated    int    `json:"nextMonthGenerated"`
	FailedCount           int    `json:"failedCount"`
}

type EditObligationRequest struct {
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Status        *string          `json:"status,omitempty" validate:"omitempty,oneof=undefined pending paid overdue cancelled"`
	PaymentMethod *string          `json:"paymentMethod,omitempty" validate:"omitempty,max=64"`
	Message       string           `json:"message" validate:"max=500"`
}

type RemoveObligationRequest struct {
	Message string `json:"message" validate:"max=500"`
}

type CreateAdditionalRequest struct {
	TenantID    string          `json:"tenantId" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Month       string          `json:"month" validate:"required"`
	Year        int             `json:"year" validate:"required,min=1,max=9999"`
	DueDate     string          `json:"dueDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Description string          `json:"description" validate:"max=500"`
}

type FieldChangeDTO struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type ChangeEntryDTO struct {
	Type    string                    `json:"type"`
	Date    string                    `json:"date"`
	Changes map[string]FieldChangeDTO `json:"changes,omitempty"`
	Message string                    `json:"message"`
}

// ObligationDTO is a rent payment as presented to clients.
type ObligationDTO struct {
	ID            string           `json:"id"`
	TenantID      string           `json:"tenantId"`
	ScopeID       string           `json:"scopeId"`
	Type          string           `json:"type"`
	Amount        float64          `json:"amount"`
	Status        string           `json:"status"`
	DueDate       string           `json:"dueDate"`
	Month         string           `json:"month"`
	Year          int              `json:"year"`
	RoomNumber    string           `json:"roomNumber"`
	RoomType      string           `json:"roomType"`
	PaymentMethod string           `json:"paymentMethod,omitempty"`
	Description   string           `json:"description,omitempty"`
	ChangeLog     []ChangeEntryDTO `json:"changeLog"`
	CreatedAt     string           `json:"createdAt"`
	UpdatedAt     string           `json:"updatedAt"`
}

func toObligationDTO(o billing.Obligation) ObligationDTO {
	log := lo.Map(o.ChangeLog, func(e billing.ChangeEntry, _ int) ChangeEntryDTO {
		dto := ChangeEntryDTO{
			Type:    string(e.Type),
			Date:    e.Date.Format(time.RFC3339),
			Message: e.Message,
		}
		if len(e.Changes) > 0 {
			dto.Changes = lo.MapValues(e.Changes, func(c billing.FieldChange, _ string) FieldChangeDTO {
				return FieldChangeDTO{From: c.From, To: c.To}
			})
		}
		return dto
	})
	return ObligationDTO{
		ID:            string(o.ID),
		TenantID:      string(o.TenantID),
		ScopeID:       string(o.ScopeID),
		Type:          string(o.Type),
		Amount:        o.Amount.InexactFloat64(),
		Status:        string(o.Status),
		DueDate:       billing.FormatDate(o.DueDate),
		Month:         o.Month,
		Year:          o.Year,
		RoomNumber:    o.RoomNumber,
		RoomType:      o.RoomType,
		PaymentMethod: o.PaymentMethod,
		Description:   o.Description,
		ChangeLog:     log,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     o.UpdatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// SCOPES
// =============================================================================

type CreateHostelRequest struct {
	ID       string                     `json:"id,omitempty" validate:"omitempty,max=64"`
	Name     string                     `json:"name" validate:"required,max=200"`
	Settings *factory.ScopeSettingsJSON `json:"settings,omitempty"`
}

type CreateBlockRequest struct {
	ID       string                     `json:"id,omitempty" validate:"omitempty,max=64"`
	Name     string                     `json:"name" validate:"required,max=200"`
	HostelID string                     `json:"hostelId" validate:"required"`
	Settings *factory.ScopeSettingsJSON `json:"settings,omitempty"`
}

type ScopeDTO struct {
	ID        string                    `json:"id"`
	Kind      string                    `json:"kind"`
	Name      string                    `json:"name"`
	ParentID  string                    `json:"parentId,omitempty"`
	Settings  factory.ScopeSettingsJSON `json:"settings"`
	CreatedAt string                    `json:"createdAt,omitempty"`
	UpdatedAt string                    `json:"updatedAt,omitempty"`
}

func toScopeDTO(f *factory.ScopeFactory, s billing.Scope) ScopeDTO {
	return ScopeDTO{
		ID:        string(s.ID),
		Kind:      string(s.Kind),
		Name:      s.Name,
		ParentID:  string(s.ParentID),
		Settings:  f.Document(s.Config),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.Format(time.RFC3339),
	}
}

type CreateRoomTypeRequest struct {
	ScopeID    string          `json:"scopeId" validate:"required"`
	Name       string          `json:"name" validate:"required,max=100"`
	Rent       decimal.Decimal `json:"rent"`
	Components []string        `json:"components,omitempty" validate:"dive,required"`
}

type RoomTypeDTO struct {
	ID         string   `json:"id"`
	ScopeID    string   `json:"scopeId"`
	Name       string   `json:"name"`
	Rent       float64  `json:"rent"`
	Components []string `json:"components,omitempty"`
}

// =============================================================================
// TENANTS
// =============================================================================

type CreateTenantRequest struct {
	ID         string `json:"id,omitempty" validate:"omitempty,max=64"`
	Name       string `json:"name" validate:"required,max=200"`
	HostelID   string `json:"hostelId" validate:"required"`
	BlockID    string `json:"blockId,omitempty"`
	RoomNumber string `json:"roomNumber" validate:"required"`
	RoomType   string `json:"roomType" validate:"required"`
	JoinDate   string `json:"joinDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Status     string `json:"status,omitempty" validate:"omitempty,oneof=active left blacklisted pending"`
}

type UpdateTenantStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active left blacklisted pending"`
	Reason string `json:"reason" validate:"required,max=500"`
}

type TenantDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	HostelID     string `json:"hostelId"`
	BlockID      string `json:"blockId,omitempty"`
	RoomNumber   string `json:"roomNumber"`
	RoomType     string `json:"roomType"`
	JoinDate     string `json:"joinDate,omitempty"`
	Status       string `json:"status"`
	StatusReason string `json:"statusReason,omitempty"`
}

func toTenantDTO(t billing.Tenant) TenantDTO {
	dto := TenantDTO{
		ID:           string(t.ID),
		Name:         t.Name,
		HostelID:     string(t.HostelID),
		BlockID:      string(t.BlockID),
		RoomNumber:   t.RoomNumber,
		RoomType:     t.RoomType,
		Status:       string(t.Status),
		StatusReason: t.StatusReason,
	}
	if !t.JoinDate.IsZero() {
		dto.JoinDate = billing.FormatDate(t.JoinDate)
	}
	return dto
}

// =============================================================================
// GENERATION RUNS / SCENARIOS / ERRORS
// =============================================================================

type GenerationRunDTO struct {
	ID          string   `json:"id"`
	ScopeID     string   `json:"scopeId"`
	Kind        string   `json:"kind"`
	Periods     []string `json:"periods"`
	Status      string   `json:"status"`
	Generated   int      `json:"generated"`
	Skipped     int      `json:"skipped"`
	Failed      int      `json:"failed"`
	Error       string   `json:"error,omitempty"`
	StartedAt   string   `json:"startedAt"`
	CompletedAt *string  `json:"completedAt,omitempty"`
}

func toGenerationRunDTO(r billing.GenerationRun) GenerationRunDTO {
	dto := GenerationRunDTO{
		ID:        r.ID,
		ScopeID:   string(r.ScopeID),
		Kind:      string(r.Kind),
		Periods:   lo.Map(r.Periods, func(p billing.PeriodKey, _ int) string { return p.String() }),
		Status:    string(r.Status),
		Generated: r.Generated,
		Skipped:   r.Skipped,
		Failed:    r.Failed,
		Error:     r.Error,
		StartedAt: r.StartedAt.Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = lo.ToPtr(r.CompletedAt.Format(time.RFC3339))
	}
	return dto
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}
