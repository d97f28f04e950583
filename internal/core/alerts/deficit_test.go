package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubForecast struct {
	prediction ForecastPrediction
	err        error
	calls      int
}

func (s *stubForecast) PredictedDeficit(ctx context.Context, horizonHours int) (ForecastPrediction, error) {
	s.calls++
	return s.prediction, s.err
}

func deficitSample(at time.Time, solar, consumption float64) TelemetrySample {
	return TelemetrySample{Timestamp: at, SolarPowerKW: solar, ConsumptionKW: consumption, BatteryLevelPct: 50}
}

var deficitCfg = DeficitThresholds{
	ThresholdKW:          1.0,
	SustainedMins:        30,
	PredictionHorizonHrs: 4,
	PredictionMinProb:    0.7,
	SeverityMultiplier:   1.0,
}

func TestDeficitRequiresSustainedWindow(t *testing.T) {
	d := NewEnergyDeficitDetector(nil, testLogger())
	start := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)
	interval := 10 * time.Minute

	// Balance -1.5 kW, below the -1.0 threshold
	for i := 0; i < 3; i++ {
		sig := d.Evaluate(context.Background(), deficitSample(start.Add(time.Duration(i)*interval), 0.5, 2.0), deficitCfg, IntelligenceFlags{}, interval)
		assert.False(t, sig.Active, "deficit held only %d minutes", i*10)
	}

	// At 30 minutes of continuous deficit the signal goes active
	sig := d.Evaluate(context.Background(), deficitSample(start.Add(30*time.Minute), 0.5, 2.0), deficitCfg, IntelligenceFlags{}, interval)
	assert.True(t, sig.Active)
	assert.Equal(t, -1.5, sig.Balance)
}

func TestDeficitRecoveryResetsWindow(t *testing.T) {
	d := NewEnergyDeficitDetector(nil, testLogger())
	start := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)
	interval := 10 * time.Minute

	d.Evaluate(context.Background(), deficitSample(start, 0.5, 2.0), deficitCfg, IntelligenceFlags{}, interval)
	d.Evaluate(context.Background(), deficitSample(start.Add(10*time.Minute), 0.5, 2.0), deficitCfg, IntelligenceFlags{}, interval)

	// One recovering sample nulls the window
	sig := d.Evaluate(context.Background(), deficitSample(start.Add(20*time.Minute), 3.0, 2.0), deficitCfg, IntelligenceFlags{}, interval)
	assert.False(t, sig.Active)
	assert.Nil(t, sig.Since)

	// Deficit resumes: the clock starts over, so 20 more minutes is not enough
	d.Evaluate(context.Background(), deficitSample(start.Add(30*time.Minute), 0.5, 2.0), deficitCfg, IntelligenceFlags{}, interval)
	sig = d.Evaluate(context.Background(), deficitSample(start.Add(50*time.Minute), 0.5, 2.0), deficitCfg, IntelligenceFlags{}, interval)
	assert.False(t, sig.Active)
}

func TestDeficitExactThresholdDoesNotCount(t *testing.T) {
	d := NewEnergyDeficitDetector(nil, testLogger())
	start := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)

	// Balance exactly -1.0 is not strictly below the threshold
	sig := d.Evaluate(context.Background(), deficitSample(start, 1.0, 2.0), deficitCfg, IntelligenceFlags{}, time.Minute)
	assert.Nil(t, sig.Since)
}

func TestDeficitGapResetsWindow(t *testing.T) {
	d := NewEnergyDeficitDetector(nil, testLogger())
	start := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)
	interval := 10 * time.Minute

	d.Evaluate(context.Background(), deficitSample(start, 0.5, 2.0), deficitCfg, IntelligenceFlags{}, interval)
	d.Evaluate(context.Background(), deficitSample(start.Add(10*time.Minute), 0.5, 2.0), deficitCfg, IntelligenceFlags{}, interval)

	// 25-minute gap > 2x the 10-minute interval: sustained state is discarded
	sig := d.Evaluate(context.Background(), deficitSample(start.Add(35*time.Minute), 0.5, 2.0), deficitCfg, IntelligenceFlags{}, interval)
	assert.False(t, sig.Active)
	assert.Equal(t, start.Add(35*time.Minute), *sig.Since, "window restarts at the post-gap sample")
}

func TestPredictedDeficit(t *testing.T) {
	start := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)

	t.Run("fires above probability floor", func(t *testing.T) {
		fc := &stubForecast{prediction: ForecastPrediction{PredictedDeficitProbability: 0.85}}
		d := NewEnergyDeficitDetector(fc, testLogger())

		sig := d.Evaluate(context.Background(), deficitSample(start, 3.0, 2.0), deficitCfg, IntelligenceFlags{Predictive: true}, time.Minute)
		assert.True(t, sig.Predicted)
		assert.Equal(t, 0.85, sig.PredictedProb)
	})

	t.Run("silent below probability floor", func(t *testing.T) {
		fc := &stubForecast{prediction: ForecastPrediction{PredictedDeficitProbability: 0.5}}
		d := NewEnergyDeficitDetector(fc, testLogger())

		sig := d.Evaluate(context.Background(), deficitSample(start, 3.0, 2.0), deficitCfg, IntelligenceFlags{Predictive: true}, time.Minute)
		assert.False(t, sig.Predicted)
	})

	t.Run("not consulted when predictive flag is off", func(t *testing.T) {
		fc := &stubForecast{prediction: ForecastPrediction{PredictedDeficitProbability: 0.99}}
		d := NewEnergyDeficitDetector(fc, testLogger())

		sig := d.Evaluate(context.Background(), deficitSample(start, 3.0, 2.0), deficitCfg, IntelligenceFlags{}, time.Minute)
		assert.False(t, sig.Predicted)
		assert.Zero(t, fc.calls)
	})

	t.Run("provider failure is non-fatal", func(t *testing.T) {
		fc := &stubForecast{err: errors.New("service down")}
		d := NewEnergyDeficitDetector(fc, testLogger())

		sig := d.Evaluate(context.Background(), deficitSample(start, 3.0, 2.0), deficitCfg, IntelligenceFlags{Predictive: true}, time.Minute)
		assert.False(t, sig.Predicted)
	})
}
