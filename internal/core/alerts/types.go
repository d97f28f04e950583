package alerts

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

var severityRank = map[AlertSeverity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordinal position of the severity, low first.
// Unknown severities rank below low.
func (s AlertSeverity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether the severity is one of the known levels
func (s AlertSeverity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// SeverityFromRank clamps a rank into the known severity range
func SeverityFromRank(rank int) AlertSeverity {
	switch {
	case rank <= 0:
		return SeverityLow
	case rank == 1:
		return SeverityMedium
	case rank == 2:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// AlertStatus represents the lifecycle state of an alert
type AlertStatus string

const (
	StatusActive       AlertStatus = "active"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
)

// Alert type identifiers. Each maps to one AlertRuleConfig.
const (
	TypeEnergyDeficit    = "energy_deficit"
	TypePredictedDeficit = "predicted_deficit"
	TypeBattery          = "battery"
	TypeConsumption      = "consumption"
	TypeTest             = "test"
)

// TelemetrySample is a single reading from the telemetry stream. Samples are
// owned by the external store; the engine only reads them.
type TelemetrySample struct {
	Timestamp       time.Time `json:"timestamp"`
	SolarPowerKW    float64   `json:"solar_power_kw"`
	BatteryLevelPct float64   `json:"battery_level_pct"`
	GridPowerKW     float64   `json:"grid_power_kw"`
	ConsumptionKW   float64   `json:"consumption_kw"`
}

// Balance returns production minus consumption in kW
func (s TelemetrySample) Balance() float64 {
	return s.SolarPowerKW - s.ConsumptionKW
}

// AlertEvent is a single logical alert tracked through its lifecycle
type AlertEvent struct {
	ID             string                 `json:"id" db:"id"`
	Type           string                 `json:"type" db:"type"`
	Category       string                 `json:"category" db:"category"`
	Severity       AlertSeverity          `json:"severity" db:"severity"`
	Status         AlertStatus            `json:"status" db:"status"`
	Message        string                 `json:"message" db:"message"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
	AcknowledgedAt *time.Time             `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedAt     *time.Time             `json:"resolved_at,omitempty" db:"resolved_at"`
	Evidence       map[string]interface{} `json:"evidence"`
	DedupKey       string                 `json:"dedup_key" db:"dedup_key"`
}

// Open reports whether the alert has not reached a terminal state
func (a *AlertEvent) Open() bool {
	return a.Status != StatusResolved
}

// CandidateAlert is the composer's output: a potential alert raised on a
// false-to-true transition of a composed rule.
type CandidateAlert struct {
	Type     string                 `json:"type"`
	Category string                 `json:"category"`
	Severity AlertSeverity          `json:"severity"`
	Message  string                 `json:"message"`
	Evidence map[string]interface{} `json:"evidence"`
	RaisedAt time.Time              `json:"raised_at"`
}

// DedupKey identifies the logical alert a candidate belongs to
func (c *CandidateAlert) DedupKey() string {
	return DedupKey(c.Type, c.Category)
}

// DedupKey builds the identifier used to merge repeated triggers of the
// same logical alert.
func DedupKey(alertType, category string) string {
	return fmt.Sprintf("%s:%s", alertType, category)
}

// NewAlertEvent materializes a candidate into a tracked alert
func NewAlertEvent(c *CandidateAlert) *AlertEvent {
	return &AlertEvent{
		ID:        uuid.New().String(),
		Type:      c.Type,
		Category:  c.Category,
		Severity:  c.Severity,
		Status:    StatusActive,
		Message:   c.Message,
		CreatedAt: c.RaisedAt,
		Evidence:  c.Evidence,
		DedupKey:  c.DedupKey(),
	}
}

// DeliveryRecord is one append-only audit entry for a dispatch attempt
type DeliveryRecord struct {
	ID        string    `json:"id" db:"id"`
	AlertID   string    `json:"alert_id" db:"alert_id"`
	Channel   string    `json:"channel" db:"channel"`
	Attempt   int       `json:"attempt" db:"attempt"`
	Status    string    `json:"status" db:"status"` // sent, failed, retrying
	LastError string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DaylightWindow holds the computed sun window for one calendar day
type DaylightWindow struct {
	Date      time.Time `json:"date"`
	Sunrise   time.Time `json:"sunrise"`
	Sunset    time.Time `json:"sunset"`
	AlwaysUp  bool      `json:"always_up"`
	NeverUp   bool      `json:"never_up"`
}

// BatterySignal is the battery evaluator's per-tick output
type BatterySignal struct {
	Level              float64 `json:"level"`
	RapidLoss          float64 `json:"rapid_loss"`
	RapidLossTriggered bool    `json:"rapid_loss_triggered"`
	BelowMin           bool    `json:"below_min"`
	BelowCritical      bool    `json:"below_critical"`
}

// DeficitSignal is the energy deficit evaluator's per-tick output
type DeficitSignal struct {
	Active        bool       `json:"active"`
	Balance       float64    `json:"balance"`
	Since         *time.Time `json:"since,omitempty"`
	Predicted     bool       `json:"predicted"`
	PredictedProb float64    `json:"predicted_probability,omitempty"`
}

// ConsumptionSignal is the consumption evaluator's per-tick output
type ConsumptionSignal struct {
	Tier          ConsumptionTier `json:"tier"`
	ConsumptionKW float64         `json:"consumption_kw"`
	InWindow      bool            `json:"in_window"`
}

// ConsumptionTier identifies which consumption threshold fired
type ConsumptionTier string

const (
	TierNone     ConsumptionTier = ""
	TierLow      ConsumptionTier = "low"
	TierHigh     ConsumptionTier = "high"
	TierCritical ConsumptionTier = "critical"
)

// Signals bundles all evaluator outputs for one tick. The composer requires
// the complete set, which is why evaluators run in a fixed order.
type Signals struct {
	Sample      TelemetrySample   `json:"sample"`
	Daylight    bool              `json:"daylight"`
	Battery     BatterySignal     `json:"battery"`
	Deficit     DeficitSignal     `json:"deficit"`
	Consumption ConsumptionSignal `json:"consumption"`

	// Evaluator failures for this tick, keyed by evaluator name. A failed
	// evaluator's signal is treated as unknown/false rather than crashing
	// the loop.
	Failures map[string]string `json:"failures,omitempty"`
}
