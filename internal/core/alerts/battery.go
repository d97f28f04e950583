package alerts

import (
	"time"

	"github.com/sirupsen/logrus"
)

type socSample struct {
	at    time.Time
	level float64
}

// BatteryMonitor tracks state-of-charge history over a sliding window and
// flags rapid loss, below-minimum, and below-critical conditions.
type BatteryMonitor struct {
	logger  *logrus.Logger
	history []socSample
}

// NewBatteryMonitor creates a battery monitor
func NewBatteryMonitor(logger *logrus.Logger) *BatteryMonitor {
	return &BatteryMonitor{logger: logger}
}

// Evaluate ingests the sample and returns the battery signal for this tick.
// Rapid loss is max-SOC-in-window minus current SOC, not first-minus-last:
// a mid-window peak must be caught even when the window opened low.
func (b *BatteryMonitor) Evaluate(sample TelemetrySample, cfg BatteryThresholds) BatterySignal {
	b.history = append(b.history, socSample{at: sample.Timestamp, level: sample.BatteryLevelPct})
	b.prune(sample.Timestamp, cfg.LossTimeframe())

	maxInWindow := sample.BatteryLevelPct
	for _, s := range b.history {
		if s.level > maxInWindow {
			maxInWindow = s.level
		}
	}

	sig := BatterySignal{
		Level:         sample.BatteryLevelPct,
		RapidLoss:     maxInWindow - sample.BatteryLevelPct,
		BelowMin:      sample.BatteryLevelPct < cfg.MinLevelPct,
		BelowCritical: sample.BatteryLevelPct < cfg.CriticalLevelPct,
	}
	sig.RapidLossTriggered = sig.RapidLoss >= cfg.MaxLossPct

	if sig.RapidLossTriggered {
		b.logger.WithFields(logrus.Fields{
			"rapid_loss_pct": sig.RapidLoss,
			"window_max":     maxInWindow,
			"current_level":  sample.BatteryLevelPct,
		}).Debug("Battery rapid loss threshold exceeded")
	}

	return sig
}

// Reset clears the SOC history, used after a telemetry gap
func (b *BatteryMonitor) Reset() {
	b.history = b.history[:0]
}

func (b *BatteryMonitor) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(b.history); i++ {
		if !b.history[i].at.Before(cutoff) {
			break
		}
	}
	if i > 0 {
		b.history = append(b.history[:0], b.history[i:]...)
	}
}
