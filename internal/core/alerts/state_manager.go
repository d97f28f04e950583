package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrAlertNotFound means no open alert exists with the given id
	ErrAlertNotFound = errors.New("alert not found or already resolved")

	// ErrInvalidTransition means the requested lifecycle transition is
	// not allowed; the state machine only moves forward
	ErrInvalidTransition = errors.New("invalid alert state transition")
)

// AlertStore is the persistence contract the state manager requires
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *AlertEvent) error
	UpdateAlert(ctx context.Context, alert *AlertEvent) error
	LoadActiveAlerts(ctx context.Context) ([]*AlertEvent, error)
}

// Broadcaster pushes alert lifecycle events to the realtime channel.
// Delivery is at-least-once; consumers dedup by alert id.
type Broadcaster interface {
	BroadcastAlertCreated(alert *AlertEvent)
	BroadcastAlertResolved(alert *AlertEvent)
}

const (
	persistAttempts = 3
	persistBackoff  = 200 * time.Millisecond
)

// AlertStateManager owns the alert lifecycle: dedup of repeated triggers,
// the active/acknowledged/resolved state machine, and persistence. All
// mutations are serialized per dedup key so a tick's merge cannot race a
// concurrent user acknowledge or resolve.
type AlertStateManager struct {
	store       AlertStore
	broadcaster Broadcaster
	logger      *logrus.Logger

	mu       sync.Mutex
	open     map[string]*AlertEvent // non-resolved alerts by dedup key
	byID     map[string]string      // alert id -> dedup key
	keyLocks map[string]*sync.Mutex

	// onClosed is invoked whenever an alert leaves the active state, so
	// pending escalation timers can be cancelled immediately.
	onClosed func(alertID string)
}

// NewAlertStateManager creates an alert state manager
func NewAlertStateManager(st AlertStore, broadcaster Broadcaster, logger *logrus.Logger) *AlertStateManager {
	return &AlertStateManager{
		store:       st,
		broadcaster: broadcaster,
		logger:      logger,
		open:        make(map[string]*AlertEvent),
		byID:        make(map[string]string),
		keyLocks:    make(map[string]*sync.Mutex),
	}
}

// OnClosed registers the callback invoked when an alert is acknowledged or
// resolved. Must be set before the engine starts processing samples.
func (m *AlertStateManager) OnClosed(fn func(alertID string)) {
	m.onClosed = fn
}

// LoadActive reloads all non-resolved alerts from the store. Called once at
// startup, before any sample is evaluated, so dedup continuity survives a
// process restart.
func (m *AlertStateManager) LoadActive(ctx context.Context) error {
	alerts, err := m.store.LoadActiveAlerts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active alerts: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range alerts {
		m.open[a.DedupKey] = a
		m.byID[a.ID] = a.DedupKey
	}

	m.logger.WithField("count", len(alerts)).Info("Reloaded non-resolved alerts from store")
	return nil
}

// Process handles a new candidate. If a non-resolved alert with the same
// dedup key exists the candidate is merged into it; otherwise a new alert
// is created. The returned flag indicates whether the alert should be
// dispatched: always for new alerts, and for merges only when severity
// climbed by at least escalationStep ranks.
func (m *AlertStateManager) Process(ctx context.Context, candidate *CandidateAlert, escalationStep int) (*AlertEvent, bool) {
	key := candidate.DedupKey()
	unlock := m.lockKey(key)
	defer unlock()

	m.mu.Lock()
	existing := m.open[key]
	m.mu.Unlock()

	if existing == nil {
		event := NewAlertEvent(candidate)

		m.mu.Lock()
		m.open[key] = event
		m.byID[event.ID] = key
		m.mu.Unlock()

		m.persist(ctx, event, true)
		m.broadcaster.BroadcastAlertCreated(event)

		m.logger.WithFields(logrus.Fields{
			"alert_id":  event.ID,
			"type":      event.Type,
			"severity":  event.Severity,
			"dedup_key": key,
		}).Info("Alert created")
		return event, true
	}

	// Merge: update evidence and severity in place, never a new id
	oldRank := existing.Severity.Rank()
	for k, v := range candidate.Evidence {
		if existing.Evidence == nil {
			existing.Evidence = make(map[string]interface{})
		}
		existing.Evidence[k] = v
	}
	if candidate.Severity.Rank() > oldRank {
		existing.Severity = candidate.Severity
		existing.Message = candidate.Message
	}
	m.persist(ctx, existing, false)

	redispatch := escalationStep > 0 && candidate.Severity.Rank()-oldRank >= escalationStep
	m.logger.WithFields(logrus.Fields{
		"alert_id":   existing.ID,
		"dedup_key":  key,
		"severity":   existing.Severity,
		"redispatch": redispatch,
	}).Debug("Candidate merged into open alert")

	return existing, redispatch
}

// Track registers and persists an alert created outside the composer
// pipeline, such as a synthetic test alert. Delivery records reference
// alerts by id, so the event must exist in the store before anything is
// dispatched for it.
func (m *AlertStateManager) Track(ctx context.Context, event *AlertEvent) {
	unlock := m.lockKey(event.DedupKey)
	defer unlock()

	m.mu.Lock()
	m.open[event.DedupKey] = event
	m.byID[event.ID] = event.DedupKey
	m.mu.Unlock()

	m.persist(ctx, event, true)
	m.broadcaster.BroadcastAlertCreated(event)
}

// Acknowledge moves an active alert to acknowledged. The transition is
// one-way; acknowledged alerts never return to active.
func (m *AlertStateManager) Acknowledge(ctx context.Context, alertID string) (*AlertEvent, error) {
	alert, unlock, err := m.openByID(alertID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if alert.Status != StatusActive {
		return nil, fmt.Errorf("alert %s is %s, only active alerts can be acknowledged: %w", alertID, alert.Status, ErrInvalidTransition)
	}

	now := time.Now()
	alert.Status = StatusAcknowledged
	alert.AcknowledgedAt = &now
	m.persist(ctx, alert, false)
	m.notifyClosed(alert.ID)

	m.logger.WithField("alert_id", alertID).Info("Alert acknowledged")
	return alert, nil
}

// Resolve moves an alert to its terminal state. The engine never deletes
// history; resolved alerts stay in the store.
func (m *AlertStateManager) Resolve(ctx context.Context, alertID, resolvedBy string) (*AlertEvent, error) {
	alert, unlock, err := m.openByID(alertID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m.resolveLocked(ctx, alert, resolvedBy)
	return alert, nil
}

// AutoResolve resolves the open alert under a dedup key after its composed
// condition transitioned true-to-false.
func (m *AlertStateManager) AutoResolve(ctx context.Context, dedupKey string) {
	unlock := m.lockKey(dedupKey)
	defer unlock()

	m.mu.Lock()
	alert := m.open[dedupKey]
	m.mu.Unlock()
	if alert == nil {
		return
	}

	m.resolveLocked(ctx, alert, "auto")
}

// ActiveAlerts returns a snapshot of all non-resolved alerts
func (m *AlertStateManager) ActiveAlerts() []*AlertEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*AlertEvent, 0, len(m.open))
	for _, a := range m.open {
		copied := *a
		out = append(out, &copied)
	}
	return out
}

// Get returns an open alert by id
func (m *AlertStateManager) Get(alertID string) (*AlertEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.byID[alertID]
	if !ok {
		return nil, false
	}
	a, ok := m.open[key]
	if !ok {
		return nil, false
	}
	copied := *a
	return &copied, true
}

func (m *AlertStateManager) resolveLocked(ctx context.Context, alert *AlertEvent, resolvedBy string) {
	now := time.Now()
	alert.Status = StatusResolved
	alert.ResolvedAt = &now
	if alert.Evidence == nil {
		alert.Evidence = make(map[string]interface{})
	}
	alert.Evidence["resolved_by"] = resolvedBy

	m.persist(ctx, alert, false)

	m.mu.Lock()
	delete(m.open, alert.DedupKey)
	delete(m.byID, alert.ID)
	m.mu.Unlock()

	m.notifyClosed(alert.ID)
	m.broadcaster.BroadcastAlertResolved(alert)

	m.logger.WithFields(logrus.Fields{
		"alert_id":    alert.ID,
		"resolved_by": resolvedBy,
		"open_for":    now.Sub(alert.CreatedAt),
	}).Info("Alert resolved")
}

// persist writes the alert to the store with bounded retry. Store outages
// are non-fatal: evaluation continues best-effort on the in-memory state.
func (m *AlertStateManager) persist(ctx context.Context, alert *AlertEvent, create bool) {
	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if create {
			err = m.store.SaveAlert(ctx, alert)
		} else {
			err = m.store.UpdateAlert(ctx, alert)
		}
		if err == nil {
			return
		}
		if attempt < persistAttempts {
			time.Sleep(persistBackoff * time.Duration(attempt))
		}
	}

	m.logger.WithError(err).WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"attempts": persistAttempts,
	}).Error("Failed to persist alert, continuing in memory")
}

func (m *AlertStateManager) openByID(alertID string) (*AlertEvent, func(), error) {
	m.mu.Lock()
	key, ok := m.byID[alertID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("alert %s: %w", alertID, ErrAlertNotFound)
	}

	unlock := m.lockKey(key)

	m.mu.Lock()
	alert := m.open[key]
	m.mu.Unlock()
	if alert == nil || alert.ID != alertID {
		unlock()
		return nil, nil, fmt.Errorf("alert %s: %w", alertID, ErrAlertNotFound)
	}
	return alert, unlock, nil
}

func (m *AlertStateManager) lockKey(key string) func() {
	m.mu.Lock()
	l, ok := m.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		m.keyLocks[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (m *AlertStateManager) notifyClosed(alertID string) {
	if m.onClosed != nil {
		m.onClosed(alertID)
	}
}
