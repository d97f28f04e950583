package alerts

import (
	"time"

	"github.com/sirupsen/logrus"
)

// ConsumptionMonitor evaluates consumption against three ordered tiers
// inside a configured active window. Tiers require continuous exceedance
// for the sustained duration; when several tiers are satisfied at once only
// the highest fires.
type ConsumptionMonitor struct {
	logger *logrus.Logger

	// Per-tier timestamps of when continuous exceedance began
	criticalSince *time.Time
	highSince     *time.Time
	lowSince      *time.Time
}

// NewConsumptionMonitor creates a consumption monitor
func NewConsumptionMonitor(logger *logrus.Logger) *ConsumptionMonitor {
	return &ConsumptionMonitor{logger: logger}
}

// Evaluate ingests the sample and returns the consumption signal for this
// tick. Outside the active window all sustained state is cleared. The
// window is a home-local concept, so the sample timestamp is converted to
// loc before the clock comparison; a nil loc keeps the timestamp as-is.
func (m *ConsumptionMonitor) Evaluate(sample TelemetrySample, cfg ConsumptionThresholds, loc *time.Location) ConsumptionSignal {
	sig := ConsumptionSignal{ConsumptionKW: sample.ConsumptionKW}

	start, errStart := ParseClock(cfg.WindowStart)
	end, errEnd := ParseClock(cfg.WindowEnd)
	if errStart != nil || errEnd != nil {
		// Validated at save time; a malformed window here means the config
		// predates validation. Treat as always-active.
		start, end = 0, 0
	}

	ts := sample.Timestamp
	if loc != nil {
		ts = ts.In(loc)
	}
	if !InWindow(ClockOf(ts), start, end) {
		m.Reset()
		return sig
	}
	sig.InWindow = true

	m.criticalSince = updateSince(m.criticalSince, sample, sample.ConsumptionKW > cfg.CriticalKW)
	m.highSince = updateSince(m.highSince, sample, sample.ConsumptionKW > cfg.HighKW)
	m.lowSince = updateSince(m.lowSince, sample, sample.ConsumptionKW > cfg.LowKW)

	sustained := cfg.Sustained()
	switch {
	case heldFor(m.criticalSince, sample.Timestamp, sustained):
		sig.Tier = TierCritical
	case heldFor(m.highSince, sample.Timestamp, sustained):
		sig.Tier = TierHigh
	case heldFor(m.lowSince, sample.Timestamp, sustained):
		sig.Tier = TierLow
	}

	if sig.Tier != TierNone {
		m.logger.WithFields(logrus.Fields{
			"tier":           sig.Tier,
			"consumption_kw": sample.ConsumptionKW,
		}).Debug("Sustained consumption tier exceeded")
	}

	return sig
}

// Reset clears all sustained-exceedance state, used after a telemetry gap
// or when leaving the active window.
func (m *ConsumptionMonitor) Reset() {
	m.criticalSince = nil
	m.highSince = nil
	m.lowSince = nil
}

func updateSince(since *time.Time, sample TelemetrySample, exceeded bool) *time.Time {
	if !exceeded {
		return nil
	}
	if since == nil {
		ts := sample.Timestamp
		return &ts
	}
	return since
}

func heldFor(since *time.Time, now time.Time, d time.Duration) bool {
	return since != nil && now.Sub(*since) >= d
}
