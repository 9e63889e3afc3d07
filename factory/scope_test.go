package factory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hostel-billing/billing"
)

func TestParseGenerationDay(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 0},
		{"  ", 0},
		{"abc", 0},
		{"10", 10},
		{" 7 ", 7},
		{"12.9", 12},
		{"0", 1},
		{"-4", 1},
		{"45", 31},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseGenerationDay(tt.raw))
		})
	}
}

func TestParseSettings_NumberOrString(t *testing.T) {
	f := NewScopeFactory()

	asString, err := f.ParseSettings([]byte(`{"rentGenerationDay": "15"}`))
	require.NoError(t, err)
	asNumber, err := f.ParseSettings([]byte(`{"rentGenerationDay": 15}`))
	require.NoError(t, err)

	require.NotNil(t, asString.RentGenerationDay)
	require.NotNil(t, asNumber.RentGenerationDay)
	assert.Equal(t, 15, asString.RentGenerationDay.Day())
	assert.Equal(t, 15, asNumber.RentGenerationDay.Day())

	_, err = f.ParseSettings([]byte(`[1, 2]`))
	assert.True(t, billing.IsValidation(err))
}

func TestBuild_Defaults(t *testing.T) {
	cfg, err := NewScopeFactory().Build(nil)
	require.NoError(t, err)

	assert.False(t, cfg.RentGenerationEnabled)
	assert.Equal(t, billing.GenerateFixedDay, cfg.PaymentGenerationType)
	assert.Equal(t, 0, cfg.RentGenerationDay)
	assert.Equal(t, billing.DefaultPaymentVisibilityDays, cfg.PaymentVisibilityDays)
	assert.Equal(t, billing.ScopeConfigVersion, cfg.Version)
	assert.Equal(t, 1, cfg.GenerationDay(billing.ScopeHostel))
	assert.Equal(t, 5, cfg.GenerationDay(billing.ScopeBlock))
}

func TestApply_PartialUpdate(t *testing.T) {
	// GIVEN: an enabled join-date-based scope with day 12
	f := NewScopeFactory()
	current := billing.ScopeConfig{
		Version:               1,
		RentGenerationEnabled: true,
		RentGenerationDay:     12,
		PaymentGenerationType: billing.GenerateJoinDateBased,
		PaymentVisibilityDays: 3,
	}

	// WHEN: only the mode is switched
	settings, err := f.ParseSettings([]byte(`{"paymentGenerationType": "fixed_day"}`))
	require.NoError(t, err)
	cfg, err := f.Apply(current, settings)

	// THEN: everything else is kept
	require.NoError(t, err)
	assert.Equal(t, billing.GenerateFixedDay, cfg.PaymentGenerationType)
	assert.True(t, cfg.RentGenerationEnabled)
	assert.Equal(t, 12, cfg.RentGenerationDay)
	assert.Equal(t, 3, cfg.PaymentVisibilityDays)
}

func TestApply_UnparseableDayResetsToKindDefault(t *testing.T) {
	f := NewScopeFactory()
	current := billing.DefaultScopeConfig()
	current.RentGenerationDay = 20

	settings, err := f.ParseSettings([]byte(`{"rentGenerationDay": "soon"}`))
	require.NoError(t, err)
	cfg, err := f.Apply(current, settings)

	require.NoError(t, err)
	assert.Equal(t, 0, cfg.RentGenerationDay)
	assert.Equal(t, 5, cfg.GenerationDay(billing.ScopeBlock))
}

func TestApply_Rejections(t *testing.T) {
	f := NewScopeFactory()
	current := billing.DefaultScopeConfig()

	badMode := "weekly"
	_, err := f.Apply(current, ScopeSettingsJSON{PaymentGenerationType: &badMode})
	assert.True(t, billing.IsValidation(err))

	zero := 0
	_, err = f.Apply(current, ScopeSettingsJSON{PaymentVisibilityDays: &zero})
	assert.True(t, billing.IsValidation(err))
}

func TestDocument_RoundTrip(t *testing.T) {
	f := NewScopeFactory()
	cfg := billing.ScopeConfig{
		Version:               1,
		RentGenerationEnabled: true,
		RentGenerationDay:     9,
		PaymentGenerationType: billing.GenerateFixedDay,
		PaymentVisibilityDays: 5,
	}

	raw, err := json.Marshal(f.Document(cfg))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"rentGenerationEnabled": true,
		"rentGenerationDay": 9,
		"paymentGenerationType": "fixed_day",
		"paymentVisibilityDays": 5
	}`, string(raw))

	settings, err := f.ParseSettings(raw)
	require.NoError(t, err)
	back, err := f.Build(&settings)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
