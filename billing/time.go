package billing

import "time"

// =============================================================================
// TIME UTILITIES
// =============================================================================
// All billing dates are calendar days at midnight UTC.

func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func StartOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

func EndOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

func DaysInMonth(year int, month time.Month) int {
	return EndOfMonth(year, month).Day()
}

const dateLayout = "2006-01-02"

// FormatDate renders a billing date as YYYY-MM-DD.
func FormatDate(t time.Time) string { return t.UTC().Format(dateLayout) }

// ParseDate parses YYYY-MM-DD into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}
