package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	saved    map[string]*AlertEvent
	failures int // SaveAlert/UpdateAlert fail this many times before succeeding
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]*AlertEvent)}
}

func (s *memStore) SaveAlert(ctx context.Context, alert *AlertEvent) error {
	return s.put(alert)
}

func (s *memStore) UpdateAlert(ctx context.Context, alert *AlertEvent) error {
	return s.put(alert)
}

func (s *memStore) put(alert *AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("store unavailable")
	}
	copied := *alert
	s.saved[alert.ID] = &copied
	return nil
}

func (s *memStore) LoadActiveAlerts(ctx context.Context) ([]*AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AlertEvent
	for _, a := range s.saved {
		if a.Open() {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memStore) get(id string) *AlertEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[id]
}

type memBroadcaster struct {
	mu       sync.Mutex
	created  []*AlertEvent
	resolved []*AlertEvent
}

func (b *memBroadcaster) BroadcastAlertCreated(alert *AlertEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, alert)
}

func (b *memBroadcaster) BroadcastAlertResolved(alert *AlertEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolved = append(b.resolved, alert)
}

func testCandidate(severity AlertSeverity) *CandidateAlert {
	return &CandidateAlert{
		Type:     TypeEnergyDeficit,
		Category: CategoryEnergy,
		Severity: severity,
		Message:  "Energy deficit during daylight",
		Evidence: map[string]interface{}{"balance_kw": -1.5},
		RaisedAt: time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC),
	}
}

func TestProcessCreatesOnce(t *testing.T) {
	store := newMemStore()
	bc := &memBroadcaster{}
	m := NewAlertStateManager(store, bc, testLogger())

	first, dispatch := m.Process(context.Background(), testCandidate(SeverityMedium), 1)
	require.NotNil(t, first)
	assert.True(t, dispatch)
	assert.Equal(t, StatusActive, first.Status)
	assert.Equal(t, "energy_deficit:energy", first.DedupKey)
	assert.Len(t, bc.created, 1)
	assert.NotNil(t, store.get(first.ID))

	// Same dedup key at the same severity merges without dispatch
	second, dispatch := m.Process(context.Background(), testCandidate(SeverityMedium), 1)
	assert.False(t, dispatch)
	assert.Equal(t, first.ID, second.ID, "merge must keep the original alert id")
	assert.Len(t, bc.created, 1)
	assert.Len(t, m.ActiveAlerts(), 1)
}

func TestProcessSeverityBumpRedispatches(t *testing.T) {
	store := newMemStore()
	m := NewAlertStateManager(store, &memBroadcaster{}, testLogger())

	first, _ := m.Process(context.Background(), testCandidate(SeverityMedium), 1)

	// One step up meets the escalation step: redispatch
	bumped, dispatch := m.Process(context.Background(), testCandidate(SeverityHigh), 1)
	assert.True(t, dispatch)
	assert.Equal(t, first.ID, bumped.ID)
	assert.Equal(t, SeverityHigh, bumped.Severity)

	// Lower severity never downgrades the open alert
	same, dispatch := m.Process(context.Background(), testCandidate(SeverityLow), 1)
	assert.False(t, dispatch)
	assert.Equal(t, SeverityHigh, same.Severity)
}

func TestProcessSeverityStepThreshold(t *testing.T) {
	store := newMemStore()
	m := NewAlertStateManager(store, &memBroadcaster{}, testLogger())

	m.Process(context.Background(), testCandidate(SeverityLow), 2)

	// One-rank bump is below the step of 2: severity updates, no redispatch
	bumped, dispatch := m.Process(context.Background(), testCandidate(SeverityMedium), 2)
	assert.False(t, dispatch)
	assert.Equal(t, SeverityMedium, bumped.Severity)

	// Jumping to critical crosses the step
	_, dispatch = m.Process(context.Background(), testCandidate(SeverityCritical), 2)
	assert.True(t, dispatch)
}

func TestLifecycleTransitions(t *testing.T) {
	store := newMemStore()
	bc := &memBroadcaster{}
	m := NewAlertStateManager(store, bc, testLogger())

	alert, _ := m.Process(context.Background(), testCandidate(SeverityMedium), 1)

	acked, err := m.Acknowledge(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, acked.Status)
	assert.NotNil(t, acked.AcknowledgedAt)

	// Acknowledged is one-way
	_, err = m.Acknowledge(context.Background(), alert.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	resolved, err := m.Resolve(context.Background(), alert.ID, "homeowner")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Equal(t, "homeowner", resolved.Evidence["resolved_by"])
	assert.Len(t, bc.resolved, 1)

	// Resolved alerts are gone from the open set
	_, err = m.Resolve(context.Background(), alert.ID, "homeowner")
	assert.ErrorIs(t, err, ErrAlertNotFound)
	assert.Empty(t, m.ActiveAlerts())
}

func TestResolvedKeyAllowsNewAlert(t *testing.T) {
	store := newMemStore()
	m := NewAlertStateManager(store, &memBroadcaster{}, testLogger())

	first, _ := m.Process(context.Background(), testCandidate(SeverityMedium), 1)
	_, err := m.Resolve(context.Background(), first.ID, "homeowner")
	require.NoError(t, err)

	// A new trigger under the same dedup key starts a fresh alert
	second, dispatch := m.Process(context.Background(), testCandidate(SeverityMedium), 1)
	assert.True(t, dispatch)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestAutoResolve(t *testing.T) {
	store := newMemStore()
	bc := &memBroadcaster{}
	m := NewAlertStateManager(store, bc, testLogger())

	alert, _ := m.Process(context.Background(), testCandidate(SeverityMedium), 1)

	m.AutoResolve(context.Background(), alert.DedupKey)
	assert.Empty(t, m.ActiveAlerts())
	assert.Equal(t, "auto", store.get(alert.ID).Evidence["resolved_by"])

	// Resolving a key with no open alert is a no-op
	m.AutoResolve(context.Background(), alert.DedupKey)
	assert.Len(t, bc.resolved, 1)
}

func TestOnClosedCallback(t *testing.T) {
	store := newMemStore()
	m := NewAlertStateManager(store, &memBroadcaster{}, testLogger())

	var closed []string
	m.OnClosed(func(alertID string) { closed = append(closed, alertID) })

	alert, _ := m.Process(context.Background(), testCandidate(SeverityMedium), 1)
	_, err := m.Acknowledge(context.Background(), alert.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{alert.ID}, closed)
}

func TestLoadActiveRestoresOpenAlerts(t *testing.T) {
	store := newMemStore()
	m := NewAlertStateManager(store, &memBroadcaster{}, testLogger())

	alert, _ := m.Process(context.Background(), testCandidate(SeverityMedium), 1)

	// Fresh manager over the same store, as after a restart
	reloaded := NewAlertStateManager(store, &memBroadcaster{}, testLogger())
	require.NoError(t, reloaded.LoadActive(context.Background()))

	restored, ok := reloaded.Get(alert.ID)
	require.True(t, ok)
	assert.Equal(t, alert.DedupKey, restored.DedupKey)

	// The restored alert dedups new triggers instead of duplicating
	merged, dispatch := reloaded.Process(context.Background(), testCandidate(SeverityMedium), 1)
	assert.False(t, dispatch)
	assert.Equal(t, alert.ID, merged.ID)
}

func TestPersistFailureIsNonFatal(t *testing.T) {
	store := newMemStore()
	store.failures = 10 // more than the retry budget
	m := NewAlertStateManager(store, &memBroadcaster{}, testLogger())

	alert, dispatch := m.Process(context.Background(), testCandidate(SeverityMedium), 1)
	require.NotNil(t, alert)
	assert.True(t, dispatch, "store outage must not block alerting")

	// The alert survives in memory and dedups as usual
	merged, _ := m.Process(context.Background(), testCandidate(SeverityMedium), 1)
	assert.Equal(t, alert.ID, merged.ID)
}

func TestPersistDoesNotSleepAfterFinalAttempt(t *testing.T) {
	store := newMemStore()
	store.failures = 10
	m := NewAlertStateManager(store, &memBroadcaster{}, testLogger())

	// Three attempts back off 200ms then 400ms between them; a trailing
	// sleep after the last failure would push this past a second
	begin := time.Now()
	m.Process(context.Background(), testCandidate(SeverityMedium), 1)
	assert.Less(t, time.Since(begin), time.Second)
}

func TestTrackRegistersExternalAlert(t *testing.T) {
	store := newMemStore()
	bc := &memBroadcaster{}
	m := NewAlertStateManager(store, bc, testLogger())

	event := NewAlertEvent(testCandidate(SeverityLow))
	m.Track(context.Background(), event)

	assert.NotNil(t, store.get(event.ID), "tracked alert must be persisted")
	assert.Len(t, bc.created, 1)

	got, ok := m.Get(event.ID)
	require.True(t, ok)
	assert.Equal(t, StatusActive, got.Status)

	// Tracked alerts follow the normal lifecycle
	_, err := m.Acknowledge(context.Background(), event.ID)
	assert.NoError(t, err)
}
