package alerts

import (
	"encoding/json"
	"testing"

	pkgerrors "github.com/helioworks/sunwatch-backend-go/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigsAreValid(t *testing.T) {
	for _, alertType := range KnownAlertTypes {
		t.Run(alertType, func(t *testing.T) {
			assert.NoError(t, DefaultRuleConfig(alertType).Validate())
		})
	}
}

func TestValidateCollectsAllFieldErrors(t *testing.T) {
	cfg := DefaultRuleConfig(TypeEnergyDeficit)
	cfg.Battery.MinLevelPct = 150
	cfg.Deficit.ThresholdKW = -1
	cfg.Consumption.WindowStart = "25:00"
	cfg.Daylight.Latitude = 91

	err := cfg.Validate()
	require.Error(t, err)

	var verr *pkgerrors.ValidationError
	require.ErrorAs(t, err, &verr)

	fields := make(map[string]bool, len(verr.Fields))
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["battery.min_level_pct"])
	assert.True(t, fields["deficit.deficit_threshold_kw"])
	assert.True(t, fields["consumption.active_window_start"])
	assert.True(t, fields["daylight.latitude"])
	assert.GreaterOrEqual(t, len(verr.Fields), 4, "validation must not stop at the first failure")
}

func TestValidateCrossFieldRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AlertRuleConfig)
		field  string
	}{
		{
			"critical above min",
			func(c *AlertRuleConfig) { c.Battery.CriticalLevelPct = 50; c.Battery.MinLevelPct = 40 },
			"battery.critical_level_pct",
		},
		{
			"critical tier below high tier",
			func(c *AlertRuleConfig) { c.Consumption.CriticalKW = 4; c.Consumption.HighKW = 5 },
			"consumption.critical_kw",
		},
		{
			"high tier below low tier",
			func(c *AlertRuleConfig) { c.Consumption.HighKW = 2; c.Consumption.LowKW = 3 },
			"consumption.high_kw",
		},
		{
			"unknown timezone",
			func(c *AlertRuleConfig) { c.Daylight.Timezone = "Mars/Olympus" },
			"daylight.timezone",
		},
		{
			"unknown severity",
			func(c *AlertRuleConfig) { c.MinSeverity = "urgent" },
			"min_severity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRuleConfig(TypeEnergyDeficit)
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verr *pkgerrors.ValidationError
			require.ErrorAs(t, err, &verr)
			found := false
			for _, f := range verr.Fields {
				if f.Field == tt.field {
					found = true
				}
			}
			assert.True(t, found, "expected a failure on %s, got %v", tt.field, verr.Fields)
		})
	}
}

func TestConfigJSONRoundTrip(t *testing.T) {
	cfg := DefaultRuleConfig(TypeBattery)
	cfg.Battery.MinLevelPct = 35
	cfg.Intelligence.Predictive = true
	cfg.NotificationChannels = []string{"push", "sms"}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var loaded AlertRuleConfig
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, *cfg, loaded, "a saved config must load back identically")
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    ClockTime
		wantErr bool
	}{
		{"00:00", 0, false},
		{"07:30", 450, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"noon", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
