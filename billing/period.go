package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// PERIOD KEY - A billing month
// =============================================================================

// PeriodKey identifies a billing period: one calendar month of one year.
// It is comparable and safe to use as a map key.
type PeriodKey struct {
	Month time.Month
	Year  int
}

func NewPeriodKey(year int, month time.Month) PeriodKey {
	return PeriodKey{Month: month, Year: year}
}

// PeriodOf returns the period containing t (in t's location).
func PeriodOf(t time.Time) PeriodKey {
	return PeriodKey{Month: t.Month(), Year: t.Year()}
}

// CurrentAndNext returns the period containing now followed by the next one.
func CurrentAndNext(now time.Time) []PeriodKey {
	current := PeriodOf(now)
	return []PeriodKey{current, current.Next()}
}

// ParsePeriod builds a PeriodKey from a stored month name ("March") and year.
func ParsePeriod(monthName string, year int) (PeriodKey, error) {
	name := strings.TrimSpace(monthName)
	for m := time.January; m <= time.December; m++ {
		if strings.EqualFold(m.String(), name) {
			p := PeriodKey{Month: m, Year: year}
			if !p.Valid() {
				return PeriodKey{}, errors.Mark(
					errors.WithHintf(errors.Newf("invalid year %d", year), "year must be between 1 and 9999"),
					ErrValidation)
			}
			return p, nil
		}
	}
	return PeriodKey{}, errors.Mark(
		errors.WithHint(errors.Newf("unknown month %q", monthName), "month must be a full English month name such as \"January\""),
		ErrValidation)
}

func (p PeriodKey) Valid() bool {
	return p.Month >= time.January && p.Month <= time.December && p.Year >= 1 && p.Year <= 9999
}

// MonthName is the persisted month form, e.g. "January".
func (p PeriodKey) MonthName() string { return p.Month.String() }

func (p PeriodKey) String() string { return fmt.Sprintf("%s %d", p.MonthName(), p.Year) }

func (p PeriodKey) Next() PeriodKey {
	if p.Month == time.December {
		return PeriodKey{Month: time.January, Year: p.Year + 1}
	}
	return PeriodKey{Month: p.Month + 1, Year: p.Year}
}

func (p PeriodKey) Prev() PeriodKey {
	if p.Month == time.January {
		return PeriodKey{Month: time.December, Year: p.Year - 1}
	}
	return PeriodKey{Month: p.Month - 1, Year: p.Year}
}

// Compare returns -1, 0 or +1.
func (p PeriodKey) Compare(o PeriodKey) int {
	switch {
	case p.Year < o.Year:
		return -1
	case p.Year > o.Year:
		return 1
	case p.Month < o.Month:
		return -1
	case p.Month > o.Month:
		return 1
	}
	return 0
}

func (p PeriodKey) Before(o PeriodKey) bool { return p.Compare(o) < 0 }
func (p PeriodKey) After(o PeriodKey) bool  { return p.Compare(o) > 0 }

func (p PeriodKey) DaysIn() int { return DaysInMonth(p.Year, p.Month) }

// Start is midnight UTC of the first day.
func (p PeriodKey) Start() time.Time { return StartOfMonth(p.Year, p.Month) }

// End is midnight UTC of the last day.
func (p PeriodKey) End() time.Time { return EndOfMonth(p.Year, p.Month) }

// Date returns midnight UTC of day within the period, with day clamped into
// [1, DaysIn()]. It never rolls into a neighbouring month.
func (p PeriodKey) Date(day int) time.Time {
	if day < 1 {
		day = 1
	}
	if last := p.DaysIn(); day > last {
		day = last
	}
	return time.Date(p.Year, p.Month, day, 0, 0, 0, 0, time.UTC)
}

// Contains reports whether t falls inside the period (compared in UTC).
func (p PeriodKey) Contains(t time.Time) bool {
	return PeriodOf(t.UTC()) == p
}

// uniquePeriods drops duplicates, keeping first occurrence order.
func uniquePeriods(periods []PeriodKey) []PeriodKey {
	seen := make(map[PeriodKey]bool, len(periods))
	out := make([]PeriodKey, 0, len(periods))
	for _, p := range periods {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
