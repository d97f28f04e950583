package alerts

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Alert categories, the second half of the dedup key
const (
	CategoryEnergy      = "energy"
	CategoryBattery     = "battery"
	CategoryConsumption = "consumption"
	CategoryOperational = "operational"
)

// RuleComposer combines evaluator signals into candidate alerts. Every rule
// is edge-triggered: a candidate is emitted only on a false-to-true
// transition of the composed expression, never on every tick while the
// condition persists. The true-to-false transition is reported so open
// alerts can be auto-resolved.
type RuleComposer struct {
	logger *logrus.Logger
	prev   map[string]bool // composed expression state per alert type
}

// NewRuleComposer creates a rule composer
func NewRuleComposer(logger *logrus.Logger) *RuleComposer {
	return &RuleComposer{
		logger: logger,
		prev:   make(map[string]bool),
	}
}

// ComposeResult is the composer's per-tick output
type ComposeResult struct {
	// Candidates raised on this tick (false-to-true transitions only)
	Candidates []*CandidateAlert

	// Dedup keys whose composed expression transitioned true-to-false
	// on this tick, eligible for auto-resolve.
	Cleared []string
}

// Compose evaluates every enabled rule against the tick's signals.
// Evaluator failures recorded in the signals make the affected expressions
// evaluate as false for this tick.
func (rc *RuleComposer) Compose(sig *Signals, configs map[string]*AlertRuleConfig) ComposeResult {
	var res ComposeResult

	rc.apply(&res, sig, configs[TypeEnergyDeficit], TypeEnergyDeficit, CategoryEnergy, rc.energyDeficitRule)
	rc.apply(&res, sig, configs[TypePredictedDeficit], TypePredictedDeficit, CategoryEnergy, rc.predictedDeficitRule)
	rc.apply(&res, sig, configs[TypeBattery], TypeBattery, CategoryBattery, rc.batteryRule)
	rc.apply(&res, sig, configs[TypeConsumption], TypeConsumption, CategoryConsumption, rc.consumptionRule)

	return res
}

type ruleFunc func(sig *Signals, cfg *AlertRuleConfig) (bool, *CandidateAlert)

func (rc *RuleComposer) apply(res *ComposeResult, sig *Signals, cfg *AlertRuleConfig, alertType, category string, rule ruleFunc) {
	if cfg == nil || !cfg.Enabled {
		return
	}

	current, candidate := rule(sig, cfg)
	was := rc.prev[alertType]
	rc.prev[alertType] = current

	switch {
	case current && !was:
		if candidate == nil {
			return
		}
		if cfg.MinSeverity != "" && candidate.Severity.Rank() < cfg.MinSeverity.Rank() {
			rc.logger.WithFields(logrus.Fields{
				"type":     alertType,
				"severity": candidate.Severity,
				"minimum":  cfg.MinSeverity,
			}).Debug("Candidate below configured severity filter, dropped")
			return
		}
		candidate.Type = alertType
		candidate.Category = category
		candidate.RaisedAt = sig.Sample.Timestamp
		res.Candidates = append(res.Candidates, candidate)

	case !current && was:
		res.Cleared = append(res.Cleared, DedupKey(alertType, category))
	}
}

// energyDeficitRule is the default composed expression:
// daylight AND (deficit.active OR batteryLoss exceeded OR batteryLevel below min)
func (rc *RuleComposer) energyDeficitRule(sig *Signals, cfg *AlertRuleConfig) (bool, *CandidateAlert) {
	if sig.failed("daylight") || sig.failed("deficit") || sig.failed("battery") {
		return false, nil
	}

	fired := sig.Daylight && (sig.Deficit.Active || sig.Battery.RapidLossTriggered || sig.Battery.BelowMin)
	if !fired {
		return false, nil
	}

	severity := rc.escalate(SeverityMedium, sig, cfg)
	return true, &CandidateAlert{
		Severity: severity,
		Message: fmt.Sprintf("Energy deficit during daylight: balance %.2f kW, battery %.0f%%",
			sig.Deficit.Balance, sig.Battery.Level),
		Evidence: map[string]interface{}{
			"balance_kw":     sig.Deficit.Balance,
			"deficit_active": sig.Deficit.Active,
			"deficit_since":  sig.Deficit.Since,
			"battery_level":  sig.Battery.Level,
			"battery_loss":   sig.Battery.RapidLoss,
			"solar_power_kw": sig.Sample.SolarPowerKW,
			"consumption_kw": sig.Sample.ConsumptionKW,
		},
	}
}

// predictedDeficitRule raises a lower-confidence alert ahead of the
// sustained-window trigger, tagged with reduced severity.
func (rc *RuleComposer) predictedDeficitRule(sig *Signals, cfg *AlertRuleConfig) (bool, *CandidateAlert) {
	if sig.failed("deficit") {
		return false, nil
	}
	if !sig.Deficit.Predicted {
		return false, nil
	}

	return true, &CandidateAlert{
		Severity: SeverityLow,
		Message: fmt.Sprintf("Energy deficit predicted within %dh (probability %.0f%%)",
			cfg.Deficit.PredictionHorizonHrs, sig.Deficit.PredictedProb*100),
		Evidence: map[string]interface{}{
			"predicted_probability": sig.Deficit.PredictedProb,
			"horizon_hours":         cfg.Deficit.PredictionHorizonHrs,
			"balance_kw":            sig.Deficit.Balance,
		},
	}
}

func (rc *RuleComposer) batteryRule(sig *Signals, cfg *AlertRuleConfig) (bool, *CandidateAlert) {
	if sig.failed("battery") {
		return false, nil
	}

	fired := sig.Battery.BelowCritical || sig.Battery.BelowMin || sig.Battery.RapidLossTriggered
	if !fired {
		return false, nil
	}

	severity := SeverityMedium
	message := fmt.Sprintf("Battery below minimum: %.0f%%", sig.Battery.Level)
	switch {
	case sig.Battery.BelowCritical:
		severity = SeverityCritical
		message = fmt.Sprintf("Battery critically low: %.0f%%", sig.Battery.Level)
	case sig.Battery.RapidLossTriggered:
		severity = SeverityHigh
		message = fmt.Sprintf("Battery draining rapidly: lost %.0f%% in %dm",
			sig.Battery.RapidLoss, cfg.Battery.LossTimeframeMins)
	}

	return true, &CandidateAlert{
		Severity: severity,
		Message:  message,
		Evidence: map[string]interface{}{
			"battery_level":        sig.Battery.Level,
			"rapid_loss_pct":       sig.Battery.RapidLoss,
			"below_min":            sig.Battery.BelowMin,
			"below_critical":       sig.Battery.BelowCritical,
			"rapid_loss_triggered": sig.Battery.RapidLossTriggered,
		},
	}
}

func (rc *RuleComposer) consumptionRule(sig *Signals, cfg *AlertRuleConfig) (bool, *CandidateAlert) {
	if sig.failed("consumption") {
		return false, nil
	}
	if sig.Consumption.Tier == TierNone {
		return false, nil
	}

	var severity AlertSeverity
	switch sig.Consumption.Tier {
	case TierCritical:
		severity = SeverityCritical
	case TierHigh:
		severity = SeverityHigh
	default:
		severity = SeverityLow
	}

	return true, &CandidateAlert{
		Severity: severity,
		Message: fmt.Sprintf("Sustained %s consumption: %.2f kW",
			sig.Consumption.Tier, sig.Consumption.ConsumptionKW),
		Evidence: map[string]interface{}{
			"tier":           string(sig.Consumption.Tier),
			"consumption_kw": sig.Consumption.ConsumptionKW,
		},
	}
}

// escalate raises the base severity using deficit magnitude and battery
// criticality scaled by the configured multiplier, clamped to the known
// severity range.
func (rc *RuleComposer) escalate(base AlertSeverity, sig *Signals, cfg *AlertRuleConfig) AlertSeverity {
	rank := base.Rank()

	magnitude := -sig.Deficit.Balance
	if sig.Deficit.Active && magnitude > 0 {
		rank += int(magnitude * cfg.Deficit.SeverityMultiplier)
	}

	if sig.Battery.BelowCritical {
		rank += 2
	} else if sig.Battery.BelowMin {
		rank++
	}

	return SeverityFromRank(rank)
}

func (s *Signals) failed(evaluator string) bool {
	_, ok := s.Failures[evaluator]
	return ok
}
