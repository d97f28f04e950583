package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func batterySample(at time.Time, level float64) TelemetrySample {
	return TelemetrySample{Timestamp: at, BatteryLevelPct: level}
}

func TestBatteryRapidLossUsesWindowMax(t *testing.T) {
	m := NewBatteryMonitor(testLogger())
	cfg := BatteryThresholds{MinLevelPct: 20, CriticalLevelPct: 10, MaxLossPct: 20, LossTimeframeMins: 60}

	start := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)

	// 60 -> 80 -> 75 -> 50: the window opened at 60, so first-minus-last
	// is only 10. Loss is measured against the mid-window peak of 80.
	sig := m.Evaluate(batterySample(start, 60), cfg)
	assert.Equal(t, 0.0, sig.RapidLoss)

	sig = m.Evaluate(batterySample(start.Add(10*time.Minute), 80), cfg)
	assert.Equal(t, 0.0, sig.RapidLoss)
	assert.False(t, sig.RapidLossTriggered)

	sig = m.Evaluate(batterySample(start.Add(20*time.Minute), 75), cfg)
	assert.Equal(t, 5.0, sig.RapidLoss)
	assert.False(t, sig.RapidLossTriggered)

	sig = m.Evaluate(batterySample(start.Add(30*time.Minute), 50), cfg)
	assert.Equal(t, 30.0, sig.RapidLoss)
	assert.True(t, sig.RapidLossTriggered)
}

func TestBatteryWindowPrunesOldSamples(t *testing.T) {
	m := NewBatteryMonitor(testLogger())
	cfg := BatteryThresholds{MinLevelPct: 20, CriticalLevelPct: 10, MaxLossPct: 25, LossTimeframeMins: 30}

	start := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)

	m.Evaluate(batterySample(start, 90), cfg)
	// 45 minutes later the 90% sample has aged out of the 30-minute window
	sig := m.Evaluate(batterySample(start.Add(45*time.Minute), 70), cfg)
	assert.Equal(t, 0.0, sig.RapidLoss)
	assert.False(t, sig.RapidLossTriggered)
}

func TestBatteryLevelFlags(t *testing.T) {
	m := NewBatteryMonitor(testLogger())
	cfg := BatteryThresholds{MinLevelPct: 40, CriticalLevelPct: 15, MaxLossPct: 50, LossTimeframeMins: 60}
	now := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		level         float64
		belowMin      bool
		belowCritical bool
	}{
		{"healthy", 80, false, false},
		{"at minimum", 40, false, false},
		{"below minimum", 39, true, false},
		{"below critical", 10, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := m.Evaluate(batterySample(now, tt.level), cfg)
			assert.Equal(t, tt.belowMin, sig.BelowMin)
			assert.Equal(t, tt.belowCritical, sig.BelowCritical)
			m.Reset()
		})
	}
}

func TestBatteryReset(t *testing.T) {
	m := NewBatteryMonitor(testLogger())
	cfg := BatteryThresholds{MinLevelPct: 20, CriticalLevelPct: 10, MaxLossPct: 20, LossTimeframeMins: 60}

	start := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)
	m.Evaluate(batterySample(start, 90), cfg)
	m.Reset()

	// After a reset the window max is the current sample itself
	sig := m.Evaluate(batterySample(start.Add(5*time.Minute), 50), cfg)
	assert.Equal(t, 0.0, sig.RapidLoss)
	assert.False(t, sig.RapidLossTriggered)
}
