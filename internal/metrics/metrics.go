package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics exposes the alert engine's operational counters
type EngineMetrics struct {
	SamplesProcessed   prometheus.Counter
	EvaluatorFailures  *prometheus.CounterVec
	DataGaps           prometheus.Counter
	AlertsCreated      *prometheus.CounterVec
	AlertsResolved     prometheus.Counter
	AlertsSuppressed   *prometheus.CounterVec
	DispatchAttempts   *prometheus.CounterVec
	DispatchQueueDepth prometheus.Gauge
	DispatchDropped    prometheus.Counter
}

// New registers the engine metrics on the given registerer. Tests pass a
// fresh registry to avoid duplicate-registration panics.
func New(reg prometheus.Registerer) *EngineMetrics {
	factory := promauto.With(reg)
	return &EngineMetrics{
		SamplesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sunwatch_samples_processed_total",
			Help: "Telemetry samples processed by the monitoring loop",
		}),
		EvaluatorFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sunwatch_evaluator_failures_total",
			Help: "Evaluator panics isolated by the monitoring loop",
		}, []string{"evaluator"}),
		DataGaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "sunwatch_telemetry_gaps_total",
			Help: "Telemetry gaps that reset sustained-condition windows",
		}),
		AlertsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sunwatch_alerts_created_total",
			Help: "Alerts created, by type and severity",
		}, []string{"type", "severity"}),
		AlertsResolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "sunwatch_alerts_resolved_total",
			Help: "Alerts resolved, by any path",
		}),
		AlertsSuppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sunwatch_alerts_suppressed_total",
			Help: "Dispatches suppressed or deferred, by reason",
		}, []string{"reason"}),
		DispatchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sunwatch_dispatch_attempts_total",
			Help: "Notification delivery attempts, by channel and outcome",
		}, []string{"channel", "status"}),
		DispatchQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sunwatch_dispatch_queue_depth",
			Help: "Current depth of the notification dispatch queue",
		}),
		DispatchDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sunwatch_dispatch_dropped_total",
			Help: "Dispatch jobs dropped due to queue overflow",
		}),
	}
}
