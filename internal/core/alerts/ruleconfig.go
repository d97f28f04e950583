package alerts

import (
	"strconv"
	"strings"
	"time"

	"github.com/helioworks/sunwatch-backend-go/pkg/errors"
)

// AlertRuleConfig holds the per-alert-type thresholds the engine evaluates
// against. Configs are validated on save; an invalid config never reaches
// the runtime loop.
type AlertRuleConfig struct {
	AlertType string `json:"alert_type"`
	Enabled   bool   `json:"enabled"`

	Battery     BatteryThresholds     `json:"battery"`
	Deficit     DeficitThresholds     `json:"deficit"`
	Consumption ConsumptionThresholds `json:"consumption"`
	Daylight    DaylightConfig        `json:"daylight"`

	NotificationChannels []string      `json:"notification_channels"`
	MinSeverity          AlertSeverity `json:"min_severity"`
	MaxAlertsPerHour     int           `json:"max_alerts_per_hour"`
	CriticalBypassLimit  bool          `json:"critical_bypass_limit"`

	Intelligence IntelligenceFlags `json:"intelligence"`
}

// BatteryThresholds configures the battery monitor
type BatteryThresholds struct {
	MinLevelPct       float64 `json:"min_level_pct"`
	CriticalLevelPct  float64 `json:"critical_level_pct"`
	MaxLossPct        float64 `json:"max_loss_pct"`
	LossTimeframeMins int     `json:"loss_timeframe_minutes"`
}

// LossTimeframe returns the rapid-loss window as a duration
func (b BatteryThresholds) LossTimeframe() time.Duration {
	return time.Duration(b.LossTimeframeMins) * time.Minute
}

// DeficitThresholds configures the energy deficit detector
type DeficitThresholds struct {
	ThresholdKW          float64 `json:"deficit_threshold_kw"`
	SustainedMins        int     `json:"sustained_deficit_minutes"`
	PredictionHorizonHrs int     `json:"prediction_horizon_hours"`
	PredictionMinProb    float64 `json:"prediction_min_probability"`
	SeverityMultiplier   float64 `json:"severity_multiplier"`
}

// Sustained returns the required continuous-deficit duration
func (d DeficitThresholds) Sustained() time.Duration {
	return time.Duration(d.SustainedMins) * time.Minute
}

// ConsumptionThresholds configures the consumption monitor. The active
// window may wrap midnight (e.g. 22:00-06:00).
type ConsumptionThresholds struct {
	CriticalKW    float64 `json:"critical_kw"`
	HighKW        float64 `json:"high_kw"`
	LowKW         float64 `json:"low_kw"`
	SustainedMins int     `json:"sustained_consumption_minutes"`
	WindowStart   string  `json:"active_window_start"` // HH:MM
	WindowEnd     string  `json:"active_window_end"`   // HH:MM
}

// Sustained returns the required continuous-exceedance duration
func (c ConsumptionThresholds) Sustained() time.Duration {
	return time.Duration(c.SustainedMins) * time.Minute
}

// DaylightConfig configures astronomical day/night evaluation
type DaylightConfig struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Timezone         string  `json:"timezone"`
	BufferMins       int     `json:"buffer_minutes"`
	UseCivilTwilight bool    `json:"use_civil_twilight"`
	SeasonalBuffers  bool    `json:"seasonal_buffers"`
	SummerBufferMins int     `json:"summer_buffer_minutes"`
	WinterBufferMins int     `json:"winter_buffer_minutes"`
}

// IntelligenceFlags toggles optional signal sources
type IntelligenceFlags struct {
	WeatherAware   bool `json:"weather_aware"`
	MLForecast     bool `json:"ml_forecast"`
	Predictive     bool `json:"predictive"`
	AutoThresholds bool `json:"auto_thresholds"`
}

// KnownAlertTypes lists the alert types a rule config may be stored under
var KnownAlertTypes = []string{TypeEnergyDeficit, TypePredictedDeficit, TypeBattery, TypeConsumption}

// Validate checks every field and returns the full set of field-scoped
// failures rather than stopping at the first one.
func (c *AlertRuleConfig) Validate() error {
	v := &errors.ValidationError{}

	if !isKnownAlertType(c.AlertType) {
		v.Add("alert_type", "unknown alert type %q, must be one of %s", c.AlertType, strings.Join(KnownAlertTypes, ", "))
	}

	if c.Battery.MinLevelPct < 0 || c.Battery.MinLevelPct > 100 {
		v.Add("battery.min_level_pct", "must be between 0 and 100, got %g", c.Battery.MinLevelPct)
	}
	if c.Battery.CriticalLevelPct < 0 || c.Battery.CriticalLevelPct > 100 {
		v.Add("battery.critical_level_pct", "must be between 0 and 100, got %g", c.Battery.CriticalLevelPct)
	}
	if c.Battery.CriticalLevelPct > c.Battery.MinLevelPct {
		v.Add("battery.critical_level_pct", "critical level %g must not exceed min level %g", c.Battery.CriticalLevelPct, c.Battery.MinLevelPct)
	}
	if c.Battery.MaxLossPct <= 0 || c.Battery.MaxLossPct > 100 {
		v.Add("battery.max_loss_pct", "must be between 0 and 100, got %g", c.Battery.MaxLossPct)
	}
	if c.Battery.LossTimeframeMins <= 0 {
		v.Add("battery.loss_timeframe_minutes", "must be positive, got %d", c.Battery.LossTimeframeMins)
	}

	if c.Deficit.ThresholdKW <= 0 {
		v.Add("deficit.deficit_threshold_kw", "must be positive, got %g", c.Deficit.ThresholdKW)
	}
	if c.Deficit.SustainedMins <= 0 {
		v.Add("deficit.sustained_deficit_minutes", "must be positive, got %d", c.Deficit.SustainedMins)
	}
	if c.Deficit.PredictionHorizonHrs < 0 {
		v.Add("deficit.prediction_horizon_hours", "must not be negative, got %d", c.Deficit.PredictionHorizonHrs)
	}
	if c.Deficit.PredictionMinProb < 0 || c.Deficit.PredictionMinProb > 1 {
		v.Add("deficit.prediction_min_probability", "must be between 0 and 1, got %g", c.Deficit.PredictionMinProb)
	}
	if c.Deficit.SeverityMultiplier < 0 {
		v.Add("deficit.severity_multiplier", "must not be negative, got %g", c.Deficit.SeverityMultiplier)
	}

	if c.Consumption.CriticalKW < c.Consumption.HighKW {
		v.Add("consumption.critical_kw", "critical tier %g must be at least the high tier %g", c.Consumption.CriticalKW, c.Consumption.HighKW)
	}
	if c.Consumption.HighKW < c.Consumption.LowKW {
		v.Add("consumption.high_kw", "high tier %g must be at least the low tier %g", c.Consumption.HighKW, c.Consumption.LowKW)
	}
	if c.Consumption.LowKW < 0 {
		v.Add("consumption.low_kw", "must not be negative, got %g", c.Consumption.LowKW)
	}
	if c.Consumption.SustainedMins < 0 {
		v.Add("consumption.sustained_consumption_minutes", "must not be negative, got %d", c.Consumption.SustainedMins)
	}
	if _, err := ParseClock(c.Consumption.WindowStart); err != nil {
		v.Add("consumption.active_window_start", "invalid time %q, expected HH:MM", c.Consumption.WindowStart)
	}
	if _, err := ParseClock(c.Consumption.WindowEnd); err != nil {
		v.Add("consumption.active_window_end", "invalid time %q, expected HH:MM", c.Consumption.WindowEnd)
	}

	if c.Daylight.Latitude < -90 || c.Daylight.Latitude > 90 {
		v.Add("daylight.latitude", "must be between -90 and 90, got %g", c.Daylight.Latitude)
	}
	if c.Daylight.Longitude < -180 || c.Daylight.Longitude > 180 {
		v.Add("daylight.longitude", "must be between -180 and 180, got %g", c.Daylight.Longitude)
	}
	if c.Daylight.Timezone != "" {
		if _, err := time.LoadLocation(c.Daylight.Timezone); err != nil {
			v.Add("daylight.timezone", "unknown timezone %q", c.Daylight.Timezone)
		}
	}
	if c.Daylight.BufferMins < 0 {
		v.Add("daylight.buffer_minutes", "must not be negative, got %d", c.Daylight.BufferMins)
	}
	if c.Daylight.SeasonalBuffers {
		if c.Daylight.SummerBufferMins < 0 {
			v.Add("daylight.summer_buffer_minutes", "must not be negative, got %d", c.Daylight.SummerBufferMins)
		}
		if c.Daylight.WinterBufferMins < 0 {
			v.Add("daylight.winter_buffer_minutes", "must not be negative, got %d", c.Daylight.WinterBufferMins)
		}
	}

	if c.MinSeverity != "" && !c.MinSeverity.Valid() {
		v.Add("min_severity", "unknown severity %q", c.MinSeverity)
	}
	if c.MaxAlertsPerHour < 0 {
		v.Add("max_alerts_per_hour", "must not be negative, got %d", c.MaxAlertsPerHour)
	}
	for i, ch := range c.NotificationChannels {
		if ch == "" {
			v.Add("notification_channels", "channel at index %d is empty", i)
		}
	}

	return v.OrNil()
}

// ClockTime is a wall-clock time of day in minutes since midnight
type ClockTime int

// ParseClock parses an HH:MM string into minutes since midnight
func ParseClock(s string) (ClockTime, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, errors.New(422, "expected HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, errors.New(422, "hour out of range")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, errors.New(422, "minute out of range")
	}
	return ClockTime(h*60 + m), nil
}

// ClockOf extracts the minutes-since-midnight of a timestamp
func ClockOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

// InWindow reports whether now falls inside [start, end), handling windows
// that wrap midnight such as 22:00-06:00.
func InWindow(now, start, end ClockTime) bool {
	if start == end {
		return true
	}
	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

// DefaultRuleConfig returns a sensible starting config for an alert type
func DefaultRuleConfig(alertType string) *AlertRuleConfig {
	return &AlertRuleConfig{
		AlertType: alertType,
		Enabled:   true,
		Battery: BatteryThresholds{
			MinLevelPct:       40,
			CriticalLevelPct:  15,
			MaxLossPct:        10,
			LossTimeframeMins: 60,
		},
		Deficit: DeficitThresholds{
			ThresholdKW:          1.0,
			SustainedMins:        30,
			PredictionHorizonHrs: 4,
			PredictionMinProb:    0.7,
			SeverityMultiplier:   1.0,
		},
		Consumption: ConsumptionThresholds{
			CriticalKW:    8.0,
			HighKW:        5.0,
			LowKW:         3.0,
			SustainedMins: 15,
			WindowStart:   "00:00",
			WindowEnd:     "00:00",
		},
		Daylight: DaylightConfig{
			Latitude:         0,
			Longitude:        0,
			Timezone:         "UTC",
			BufferMins:       30,
			UseCivilTwilight: false,
			SeasonalBuffers:  false,
			SummerBufferMins: 20,
			WinterBufferMins: 45,
		},
		NotificationChannels: []string{"push"},
		MinSeverity:          SeverityLow,
		MaxAlertsPerHour:     5,
		CriticalBypassLimit:  true,
		Intelligence:         IntelligenceFlags{},
	}
}

func isKnownAlertType(t string) bool {
	for _, k := range KnownAlertTypes {
		if k == t {
			return true
		}
	}
	return false
}
