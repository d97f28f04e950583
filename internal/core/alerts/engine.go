package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/helioworks/sunwatch-backend-go/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Dispatcher is the contract the engine needs from the notification layer.
// Enqueue must never block sample processing; the dispatcher owns its own
// bounded queue and worker pool.
type Dispatcher interface {
	Enqueue(alert *AlertEvent, channels []string)
}

// RuleConfigStore loads persisted per-alert-type rule configs
type RuleConfigStore interface {
	LoadAll(ctx context.Context) ([]*AlertRuleConfig, error)
}

// EngineOptions carries loop-level settings that are not per alert type
type EngineOptions struct {
	ExpectedSampleInterval time.Duration
	AutoResolve            bool
	EscalationStep         int
}

// Engine is the monitoring loop. It runs evaluators in a fixed order
// (daylight, battery, deficit, consumption) because the composer needs the
// complete signal set; the ordering is a correctness requirement.
type Engine struct {
	logger  *logrus.Logger
	metrics *metrics.EngineMetrics
	opts    EngineOptions

	daylight    *DaylightCalculator
	battery     *BatteryMonitor
	deficit     *EnergyDeficitDetector
	consumption *ConsumptionMonitor
	composer    *RuleComposer

	state      *AlertStateManager
	throttle   *ThrottlePolicy
	dispatcher Dispatcher
	cfgStore   RuleConfigStore

	mu      sync.RWMutex
	configs map[string]*AlertRuleConfig

	// loopMu serializes ticks: samples can arrive from the telemetry
	// source and the push endpoint concurrently, but the evaluators
	// keep per-window state and must see samples one at a time.
	loopMu     sync.Mutex
	lastSample *time.Time
}

// NewEngine wires the evaluation pipeline together
func NewEngine(
	daylight *DaylightCalculator,
	battery *BatteryMonitor,
	deficit *EnergyDeficitDetector,
	consumption *ConsumptionMonitor,
	composer *RuleComposer,
	state *AlertStateManager,
	throttle *ThrottlePolicy,
	dispatcher Dispatcher,
	cfgStore RuleConfigStore,
	m *metrics.EngineMetrics,
	opts EngineOptions,
	logger *logrus.Logger,
) *Engine {
	e := &Engine{
		logger:      logger,
		metrics:     m,
		opts:        opts,
		daylight:    daylight,
		battery:     battery,
		deficit:     deficit,
		consumption: consumption,
		composer:    composer,
		state:       state,
		throttle:    throttle,
		dispatcher:  dispatcher,
		cfgStore:    cfgStore,
		configs:     make(map[string]*AlertRuleConfig),
	}

	// Closing an alert must cancel its escalation timer immediately
	state.OnClosed(throttle.CancelEscalation)

	return e
}

// Start loads rule configs and reloads non-resolved alerts. Must complete
// before the first sample is evaluated.
func (e *Engine) Start(ctx context.Context) error {
	configs, err := e.cfgStore.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load alert rule configs: %w", err)
	}

	e.mu.Lock()
	for _, t := range KnownAlertTypes {
		e.configs[t] = DefaultRuleConfig(t)
	}
	for _, c := range configs {
		e.configs[c.AlertType] = c
	}
	e.mu.Unlock()

	if err := e.state.LoadActive(ctx); err != nil {
		return err
	}

	e.logger.WithField("configs", len(configs)).Info("Alert engine started")
	return nil
}

// SetRuleConfig swaps a rule config at runtime after a successful save.
// The config must already be validated.
func (e *Engine) SetRuleConfig(cfg *AlertRuleConfig) {
	e.mu.Lock()
	e.configs[cfg.AlertType] = cfg
	e.mu.Unlock()

	e.logger.WithField("alert_type", cfg.AlertType).Info("Alert rule config updated")
}

// RuleConfig returns the active config for an alert type
func (e *Engine) RuleConfig(alertType string) (*AlertRuleConfig, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg, ok := e.configs[alertType]
	return cfg, ok
}

// HandleSample advances the monitoring loop by one tick. A panicking
// evaluator is isolated: its signal is treated as unknown/false and the
// rest of the tick proceeds.
func (e *Engine) HandleSample(ctx context.Context, sample TelemetrySample) {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	e.metrics.SamplesProcessed.Inc()

	e.mu.RLock()
	configs := make(map[string]*AlertRuleConfig, len(e.configs))
	for k, v := range e.configs {
		configs[k] = v
	}
	e.mu.RUnlock()

	e.handleGap(sample)

	deficitCfg := configs[TypeEnergyDeficit]
	batteryCfg := configs[TypeBattery]
	consumptionCfg := configs[TypeConsumption]
	predictCfg := configs[TypePredictedDeficit]

	sig := &Signals{Sample: sample, Failures: make(map[string]string)}

	// Deterministic evaluator order: the composer needs every signal
	e.safeEval(sig, "daylight", func() {
		sig.Daylight = e.daylight.IsDaylight(sample.Timestamp, deficitCfg.Daylight)
	})
	e.safeEval(sig, "battery", func() {
		sig.Battery = e.battery.Evaluate(sample, batteryCfg.Battery)
	})
	e.safeEval(sig, "deficit", func() {
		sig.Deficit = e.deficit.Evaluate(ctx, sample, deficitCfg.Deficit, predictCfg.Intelligence, e.opts.ExpectedSampleInterval)
	})
	e.safeEval(sig, "consumption", func() {
		// The active window is wall-clock time at the home's timezone
		sig.Consumption = e.consumption.Evaluate(sample, consumptionCfg.Consumption, consumptionCfg.Daylight.location())
	})

	result := e.composer.Compose(sig, configs)

	if e.opts.AutoResolve {
		for _, key := range result.Cleared {
			e.state.AutoResolve(ctx, key)
			e.metrics.AlertsResolved.Inc()
		}
	}

	for _, candidate := range result.Candidates {
		event, dispatch := e.state.Process(ctx, candidate, e.opts.EscalationStep)
		e.metrics.AlertsCreated.WithLabelValues(event.Type, string(event.Severity)).Inc()
		if !dispatch {
			continue
		}

		cfg := configs[event.Type]
		channels := cfg.NotificationChannels
		switch e.throttle.Gate(event, cfg, channels, sample.Timestamp) {
		case GateAllow:
			e.dispatcher.Enqueue(event, channels)
			e.throttle.ScheduleEscalation(event, channels, e.escalationDispatch)
		case GateQueuedQuiet:
			e.metrics.AlertsSuppressed.WithLabelValues("quiet_hours").Inc()
		case GateRateLimited:
			e.metrics.AlertsSuppressed.WithLabelValues("rate_limit").Inc()
		}
	}
}

// FlushQuietQueue dispatches anything deferred by quiet hours once the
// window has ended. Called from the scheduler. Alerts acknowledged or
// resolved while queued are skipped.
func (e *Engine) FlushQuietQueue(now time.Time) {
	for _, q := range e.throttle.FlushQuiet(now) {
		current, ok := e.state.Get(q.Alert.ID)
		if !ok || current.Status != StatusActive {
			continue
		}
		e.dispatcher.Enqueue(current, q.Channels)
		e.throttle.ScheduleEscalation(current, q.Channels, e.escalationDispatch)
	}
}

// TestAlert bypasses the evaluators entirely and exercises the dispatcher
// end-to-end at the given severity.
func (e *Engine) TestAlert(ctx context.Context, severity AlertSeverity) (*AlertEvent, error) {
	if !severity.Valid() {
		return nil, fmt.Errorf("unknown severity %q", severity)
	}

	candidate := &CandidateAlert{
		Type:     TypeTest,
		Category: CategoryOperational,
		Severity: severity,
		Message:  fmt.Sprintf("Test alert at severity %s", severity),
		Evidence: map[string]interface{}{"synthetic": true},
		RaisedAt: time.Now(),
	}

	event := NewAlertEvent(candidate)
	// Each test alert stands alone: no merging with earlier test alerts
	event.DedupKey = DedupKey(TypeTest, event.ID)

	e.mu.RLock()
	channels := e.configs[TypeEnergyDeficit].NotificationChannels
	e.mu.RUnlock()

	// Delivery records carry a foreign key to the alert, so the event
	// must be in the store before the dispatcher touches it
	e.state.Track(ctx, event)
	e.dispatcher.Enqueue(event, channels)
	e.logger.WithFields(logrus.Fields{
		"alert_id": event.ID,
		"severity": severity,
	}).Info("Test alert dispatched")
	return event, nil
}

// PruneDaylightCache drops memoized sun windows for past days
func (e *Engine) PruneDaylightCache(before time.Time) {
	e.daylight.PruneBefore(before)
}

// escalationDispatch is the callback escalation timers fire. An alert
// that was acknowledged or resolved while the timer was pending is
// skipped; CancelEscalation races are harmless here.
func (e *Engine) escalationDispatch(alert *AlertEvent, channel string) {
	current, ok := e.state.Get(alert.ID)
	if !ok || current.Status != StatusActive {
		return
	}

	e.dispatcher.Enqueue(current, []string{channel})
	e.logger.WithFields(logrus.Fields{
		"alert_id": current.ID,
		"channel":  channel,
	}).Info("Escalated unacknowledged alert to next channel tier")
}

// handleGap resets the window-based evaluators when the stream has a gap
// larger than twice the expected sampling interval.
func (e *Engine) handleGap(sample TelemetrySample) {
	if e.lastSample != nil && sample.Timestamp.Sub(*e.lastSample) > 2*e.opts.ExpectedSampleInterval {
		e.logger.WithFields(logrus.Fields{
			"gap":      sample.Timestamp.Sub(*e.lastSample),
			"expected": e.opts.ExpectedSampleInterval,
		}).Warn("Telemetry gap, resetting sustained-window evaluators")
		e.battery.Reset()
		e.consumption.Reset()
		e.metrics.DataGaps.Inc()
	}
	ts := sample.Timestamp
	e.lastSample = &ts
}

func (e *Engine) safeEval(sig *Signals, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			sig.Failures[name] = fmt.Sprintf("%v", r)
			e.metrics.EvaluatorFailures.WithLabelValues(name).Inc()
			e.logger.WithFields(logrus.Fields{
				"evaluator": name,
				"panic":     r,
			}).Error("Evaluator panicked, signal treated as unknown for this tick")
		}
	}()
	fn()
}
