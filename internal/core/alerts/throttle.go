package alerts

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// GateDecision is the throttle policy's verdict for one dispatch request
type GateDecision string

const (
	GateAllow       GateDecision = "allow"
	GateQueuedQuiet GateDecision = "queued_quiet"
	GateRateLimited GateDecision = "rate_limited"
)

// ThrottleSettings configures the gate between "alert ready" and dispatch
type ThrottleSettings struct {
	QuietEnabled bool
	QuietStart   ClockTime
	QuietEnd     ClockTime
	// Location anchors the quiet window to the home's wall clock. Nil
	// means timestamps are compared in whatever location they carry.
	Location *time.Location

	EscalationEnabled bool
	EscalationWait    time.Duration
	// EscalationTiers orders channels from mildest to most aggressive.
	// Re-escalation only ever moves forward through this list.
	EscalationTiers []string
}

// QueuedDispatch is a notification deferred by quiet hours
type QueuedDispatch struct {
	Alert    *AlertEvent
	Channels []string
	QueuedAt time.Time
}

// ThrottlePolicy rate-limits, defers, and re-escalates dispatches. Rate
// limit windows are keyed by evaluation timestamp, not by when the dispatch
// eventually happens.
type ThrottlePolicy struct {
	settings ThrottleSettings
	logger   *logrus.Logger

	mu          sync.Mutex
	dispatched  map[string][]time.Time // evaluation timestamps per alert type
	quietQueue  []QueuedDispatch
	escalations map[string]*escalationState
}

type escalationState struct {
	timer   *time.Timer
	tierIdx int // highest tier index already tried
	alert   *AlertEvent
}

// NewThrottlePolicy creates a throttle policy
func NewThrottlePolicy(settings ThrottleSettings, logger *logrus.Logger) *ThrottlePolicy {
	return &ThrottlePolicy{
		settings:    settings,
		logger:      logger,
		dispatched:  make(map[string][]time.Time),
		escalations: make(map[string]*escalationState),
	}
}

// Gate decides whether an alert may be dispatched now. Queued and
// rate-limited outcomes are logged, never silently discarded.
func (t *ThrottlePolicy) Gate(alert *AlertEvent, cfg *AlertRuleConfig, channels []string, evalTime time.Time) GateDecision {
	critical := alert.Severity == SeverityCritical

	// Quiet hours: non-critical work is queued and flushed at window end
	if t.settings.QuietEnabled && !critical && InWindow(t.clockAt(evalTime), t.settings.QuietStart, t.settings.QuietEnd) {
		t.mu.Lock()
		t.quietQueue = append(t.quietQueue, QueuedDispatch{Alert: alert, Channels: channels, QueuedAt: evalTime})
		t.mu.Unlock()

		t.logger.WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"severity": alert.Severity,
		}).Info("Dispatch queued for quiet hours")
		return GateQueuedQuiet
	}

	// Sliding-window rate limit per alert type
	maxPerHour := cfg.MaxAlertsPerHour
	if maxPerHour > 0 {
		bypass := critical && cfg.CriticalBypassLimit

		t.mu.Lock()
		window := pruneWindow(t.dispatched[alert.Type], evalTime.Add(-time.Hour))
		if len(window) >= maxPerHour && !bypass {
			t.dispatched[alert.Type] = window
			t.mu.Unlock()

			t.logger.WithFields(logrus.Fields{
				"alert_id":     alert.ID,
				"type":         alert.Type,
				"max_per_hour": maxPerHour,
			}).Warn("Dispatch suppressed by rate limit")
			return GateRateLimited
		}
		t.dispatched[alert.Type] = append(window, evalTime)
		t.mu.Unlock()
	}

	return GateAllow
}

// FlushQuiet returns all queued dispatches once now is outside the quiet
// window. Inside the window it returns nothing.
func (t *ThrottlePolicy) FlushQuiet(now time.Time) []QueuedDispatch {
	if t.settings.QuietEnabled && InWindow(t.clockAt(now), t.settings.QuietStart, t.settings.QuietEnd) {
		return nil
	}

	t.mu.Lock()
	flushed := t.quietQueue
	t.quietQueue = nil
	t.mu.Unlock()

	if len(flushed) > 0 {
		t.logger.WithField("count", len(flushed)).Info("Flushing quiet-hours dispatch queue")
	}
	return flushed
}

// ScheduleEscalation arms a timer that re-dispatches the alert via the next,
// strictly more aggressive channel tier if it is still unacknowledged after
// the wait interval. dispatch is invoked outside any throttle lock.
func (t *ThrottlePolicy) ScheduleEscalation(alert *AlertEvent, lastChannels []string, dispatch func(alert *AlertEvent, channel string)) {
	if !t.settings.EscalationEnabled || len(t.settings.EscalationTiers) == 0 {
		return
	}

	startIdx := t.highestTier(lastChannels)
	if startIdx >= len(t.settings.EscalationTiers)-1 {
		return // already at the most aggressive tier
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.escalations[alert.ID]; ok {
		prev.timer.Stop()
	}

	state := &escalationState{tierIdx: startIdx, alert: alert}
	state.timer = time.AfterFunc(t.settings.EscalationWait, func() {
		t.fireEscalation(alert.ID, dispatch)
	})
	t.escalations[alert.ID] = state
}

// CancelEscalation stops any pending escalation timer for the alert. Called
// the moment an alert is acknowledged or resolved.
func (t *ThrottlePolicy) CancelEscalation(alertID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.escalations[alertID]; ok {
		state.timer.Stop()
		delete(t.escalations, alertID)
		t.logger.WithField("alert_id", alertID).Debug("Escalation cancelled")
	}
}

func (t *ThrottlePolicy) fireEscalation(alertID string, dispatch func(alert *AlertEvent, channel string)) {
	t.mu.Lock()
	state, ok := t.escalations[alertID]
	if !ok {
		t.mu.Unlock()
		return
	}

	state.tierIdx++
	channel := t.settings.EscalationTiers[state.tierIdx]
	alert := state.alert

	// Chain to the next tier if there is one; otherwise we are done
	if state.tierIdx < len(t.settings.EscalationTiers)-1 {
		state.timer = time.AfterFunc(t.settings.EscalationWait, func() {
			t.fireEscalation(alertID, dispatch)
		})
	} else {
		delete(t.escalations, alertID)
	}
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"alert_id": alertID,
		"channel":  channel,
	}).Info("Escalating unacknowledged alert to more aggressive channel")

	dispatch(alert, channel)
}

// highestTier returns the index of the most aggressive tier present in the
// given channel set, or -1 when none match.
func (t *ThrottlePolicy) highestTier(channels []string) int {
	highest := -1
	for i, tier := range t.settings.EscalationTiers {
		for _, ch := range channels {
			if ch == tier && i > highest {
				highest = i
			}
		}
	}
	return highest
}

// clockAt extracts the wall clock in the configured home timezone
func (t *ThrottlePolicy) clockAt(ts time.Time) ClockTime {
	if t.settings.Location != nil {
		ts = ts.In(t.settings.Location)
	}
	return ClockOf(ts)
}

func pruneWindow(times []time.Time, cutoff time.Time) []time.Time {
	out := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			out = append(out, ts)
		}
	}
	return out
}
