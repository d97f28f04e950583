package alerts

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ForecastPrediction is the forecast provider's answer for a horizon
type ForecastPrediction struct {
	PredictedDeficitProbability float64 `json:"predicted_deficit_probability"`
	HorizonHours                int     `json:"horizon_hours"`
}

// ForecastProvider supplies deficit probability forecasts. The model behind
// it is external; the detector only consumes the probability signal.
type ForecastProvider interface {
	PredictedDeficit(ctx context.Context, horizonHours int) (ForecastPrediction, error)
}

// EnergyDeficitDetector maintains rolling deficit state over the telemetry
// stream. The sustained window is strict: one recovering sample nulls the
// "since" marker entirely.
type EnergyDeficitDetector struct {
	logger     *logrus.Logger
	forecast   ForecastProvider
	belowSince *time.Time
	lastSample *time.Time
}

// NewEnergyDeficitDetector creates a deficit detector. forecast may be nil
// when predictive alerting is disabled.
func NewEnergyDeficitDetector(forecast ForecastProvider, logger *logrus.Logger) *EnergyDeficitDetector {
	return &EnergyDeficitDetector{logger: logger, forecast: forecast}
}

// Evaluate ingests the sample and returns the deficit signal for this tick.
// A telemetry gap larger than twice the expected interval resets the
// sustained window and is logged as a data-gap condition, not an error.
func (d *EnergyDeficitDetector) Evaluate(ctx context.Context, sample TelemetrySample, cfg DeficitThresholds, flags IntelligenceFlags, expectedInterval time.Duration) DeficitSignal {
	if d.lastSample != nil && sample.Timestamp.Sub(*d.lastSample) > 2*expectedInterval {
		d.logger.WithFields(logrus.Fields{
			"last_sample": d.lastSample,
			"gap":         sample.Timestamp.Sub(*d.lastSample),
			"expected":    expectedInterval,
		}).Warn("Telemetry data gap detected, resetting sustained deficit window")
		d.belowSince = nil
	}
	ts := sample.Timestamp
	d.lastSample = &ts

	balance := sample.Balance()
	if balance < -cfg.ThresholdKW {
		if d.belowSince == nil {
			since := sample.Timestamp
			d.belowSince = &since
		}
	} else {
		// Any single recovering sample resets the window
		d.belowSince = nil
	}

	sig := DeficitSignal{
		Balance: balance,
		Since:   d.belowSince,
	}
	if d.belowSince != nil && sample.Timestamp.Sub(*d.belowSince) >= cfg.Sustained() {
		sig.Active = true
	}

	// Predicted deficit fires ahead of the sustained trigger at reduced
	// confidence, only while no real deficit is active.
	if !sig.Active && flags.Predictive && d.forecast != nil {
		if pred, err := d.forecast.PredictedDeficit(ctx, cfg.PredictionHorizonHrs); err != nil {
			d.logger.WithError(err).Debug("Forecast provider unavailable, skipping predicted deficit")
		} else if pred.PredictedDeficitProbability >= cfg.PredictionMinProb {
			sig.Predicted = true
			sig.PredictedProb = pred.PredictedDeficitProbability
		}
	}

	return sig
}

// Reset clears the sustained window and gap tracking
func (d *EnergyDeficitDetector) Reset() {
	d.belowSince = nil
	d.lastSample = nil
}
