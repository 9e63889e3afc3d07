package billing

import "time"

// =============================================================================
// DUE DATE - Where in the month rent falls due
// =============================================================================

// DueDate computes when rent for period is due for tenant under scope's
// policy. It never fails:
//
//   - join_date_based: the tenant's join day of month. A join day past the
//     end of a short month is clamped to the month's last day (joined on
//     the 31st -> due Feb 28/29), so the date never rolls into the next
//     month. A tenant without a join date falls back to fixed_day.
//   - fixed_day: the scope's RentGenerationDay, or 1 for hostels and 5 for
//     blocks when unset, clamped the same way.
//
// The result is midnight UTC.
func DueDate(period PeriodKey, scope Scope, tenant Tenant) time.Time {
	cfg := scope.Config.Normalize()
	if cfg.PaymentGenerationType == GenerateJoinDateBased && !tenant.JoinDate.IsZero() {
		return period.Date(tenant.JoinDate.UTC().Day())
	}
	return period.Date(cfg.GenerationDay(scope.Kind))
}
