/*
Package factory converts scope settings documents into billing.ScopeConfig.

PURPOSE:
  Hostel and block settings arrive as loosely typed JSON: admin tools send
  the generation day as a number or as a string, omit fields they do not
  touch, and older documents carry no version. The factory turns these into
  one explicit, versioned ScopeConfig with defaults resolved centrally.

JSON SCHEMA:
  {
    "rentGenerationEnabled": true,
    "rentGenerationDay": "10",          // number or string, 1..31
    "paymentGenerationType": "fixed_day", // or "join_date_based"
    "paymentVisibilityDays": 5
  }

RULES:
  - Missing fields keep the current value (partial update).
  - rentGenerationDay: empty or unparseable means unset (kind default);
    values below 1 become 1, above 31 become 31.
  - paymentGenerationType must be one of the two known modes.
  - paymentVisibilityDays must be at least 1.

USAGE:
  f := factory.NewScopeFactory()
  settings, err := f.ParseSettings(body)
  cfg, err := f.Apply(scope.Config, settings)

SEE ALSO:
  - billing/types.go: ScopeConfig and its defaults
  - billing/duedate.go: consumer of the resolved day
*/
package factory

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/warp/hostel-billing/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ScopeSettingsJSON is a settings document. Nil fields are not being set.
type ScopeSettingsJSON struct {
	RentGenerationEnabled *bool    `json:"rentGenerationEnabled,omitempty"`
	RentGenerationDay     *DayJSON `json:"rentGenerationDay,omitempty"`
	PaymentGenerationType *string  `json:"paymentGenerationType,omitempty"`
	PaymentVisibilityDays *int     `json:"paymentVisibilityDays,omitempty"`
}

// DayJSON accepts a day of month given as a JSON number or string.
type DayJSON struct {
	Raw string
}

func (d *DayJSON) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		d.Raw = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		d.Raw = s
		return nil
	}
	d.Raw = string(data)
	return nil
}

func (d DayJSON) MarshalJSON() ([]byte, error) {
	day := ParseGenerationDay(d.Raw)
	if day == 0 {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(day)), nil
}

// Day returns the normalized day, 0 when unset.
func (d DayJSON) Day() int { return ParseGenerationDay(d.Raw) }

// ParseGenerationDay normalizes a raw generation day. Empty or non-numeric
// input yields 0 (unset). Numbers are clamped into [1, 31].
func ParseGenerationDay(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	day := int(f)
	if day < 1 {
		return 1
	}
	if day > billing.MaxGenerationDay {
		return billing.MaxGenerationDay
	}
	return day
}

// =============================================================================
// SCOPE FACTORY
// =============================================================================

type ScopeFactory struct{}

func NewScopeFactory() *ScopeFactory {
	return &ScopeFactory{}
}

// ParseSettings decodes a settings document.
func (f *ScopeFactory) ParseSettings(data []byte) (ScopeSettingsJSON, error) {
	var s ScopeSettingsJSON
	if err := json.Unmarshal(data, &s); err != nil {
		return s, errors.Mark(errors.WithHint(errors.Wrap(err, "decode scope settings"), "settings must be a JSON object"), billing.ErrValidation)
	}
	return s, nil
}

// Build creates the config of a new scope from an optional settings document.
func (f *ScopeFactory) Build(settings *ScopeSettingsJSON) (billing.ScopeConfig, error) {
	if settings == nil {
		return billing.DefaultScopeConfig(), nil
	}
	return f.Apply(billing.DefaultScopeConfig(), *settings)
}

// Apply merges settings into current and returns the normalized result.
func (f *ScopeFactory) Apply(current billing.ScopeConfig, settings ScopeSettingsJSON) (billing.ScopeConfig, error) {
	cfg := current.Normalize()

	if settings.RentGenerationEnabled != nil {
		cfg.RentGenerationEnabled = *settings.RentGenerationEnabled
	}
	if settings.RentGenerationDay != nil {
		cfg.RentGenerationDay = settings.RentGenerationDay.Day()
	}
	if settings.PaymentGenerationType != nil {
		mode := billing.GenerationType(strings.TrimSpace(*settings.PaymentGenerationType))
		if !mode.Valid() {
			return current, billing.ValidationError("paymentGenerationType must be fixed_day or join_date_based")
		}
		cfg.PaymentGenerationType = mode
	}
	if settings.PaymentVisibilityDays != nil {
		if *settings.PaymentVisibilityDays < 1 {
			return current, billing.ValidationError("paymentVisibilityDays must be at least 1")
		}
		cfg.PaymentVisibilityDays = *settings.PaymentVisibilityDays
	}

	cfg.Version = billing.ScopeConfigVersion
	return cfg, nil
}

// Document renders cfg back into a settings document.
func (f *ScopeFactory) Document(cfg billing.ScopeConfig) ScopeSettingsJSON {
	cfg = cfg.Normalize()
	mode := string(cfg.PaymentGenerationType)
	doc := ScopeSettingsJSON{
		RentGenerationEnabled: &cfg.RentGenerationEnabled,
		PaymentGenerationType: &mode,
		PaymentVisibilityDays: &cfg.PaymentVisibilityDays,
	}
	if cfg.RentGenerationDay > 0 {
		doc.RentGenerationDay = &DayJSON{Raw: strconv.Itoa(cfg.RentGenerationDay)}
	}
	return doc
}
