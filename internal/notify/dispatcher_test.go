package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/helioworks/sunwatch-backend-go/internal/core/alerts"
	"github.com/helioworks/sunwatch-backend-go/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeChannel struct {
	name     string
	mu       sync.Mutex
	sent     []string
	failures int // fail this many sends before succeeding
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(ctx context.Context, message string, severity alerts.AlertSeverity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.failures--
		return errors.New("gateway timeout")
	}
	c.sent = append(c.sent, message)
	return nil
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type recordingStore struct {
	mu      sync.Mutex
	records []*alerts.DeliveryRecord
}

func (s *recordingStore) CreateDeliveryRecord(ctx context.Context, record *alerts.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *recordingStore) byStatus(status string) []*alerts.DeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*alerts.DeliveryRecord
	for _, r := range s.records {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

func testAlert() *alerts.AlertEvent {
	return &alerts.AlertEvent{
		ID:       "alert-1",
		Type:     alerts.TypeEnergyDeficit,
		Severity: alerts.SeverityHigh,
		Status:   alerts.StatusActive,
		Message:  "Energy deficit during daylight",
	}
}

func newTestDispatcher(channels map[string]Channel, store DeliveryStore, opts Options) *Dispatcher {
	return NewDispatcher(channels, store, metrics.New(prometheus.NewRegistry()), opts, testLogger())
}

func TestDispatchDeliversToEveryChannel(t *testing.T) {
	push := &fakeChannel{name: "push"}
	email := &fakeChannel{name: "email"}
	store := &recordingStore{}

	d := newTestDispatcher(map[string]Channel{"push": push, "email": email}, store, Options{
		Workers: 2, MaxAttempts: 1, BackoffBase: time.Millisecond, DrainTimeout: time.Second,
	})
	d.Start(context.Background())

	d.Enqueue(testAlert(), []string{"push", "email"})
	d.Stop(context.Background())

	assert.Equal(t, 1, push.sentCount())
	assert.Equal(t, 1, email.sentCount())
	assert.Len(t, store.byStatus("sent"), 2)
}

func TestDispatchRetriesWithRecordPerAttempt(t *testing.T) {
	push := &fakeChannel{name: "push", failures: 2}
	store := &recordingStore{}

	d := newTestDispatcher(map[string]Channel{"push": push}, store, Options{
		Workers: 1, MaxAttempts: 3, BackoffBase: time.Millisecond, DrainTimeout: time.Second,
	})
	d.Start(context.Background())

	d.Enqueue(testAlert(), []string{"push"})
	d.Stop(context.Background())

	assert.Equal(t, 1, push.sentCount(), "third attempt succeeds")
	assert.Len(t, store.byStatus("retrying"), 2)

	sent := store.byStatus("sent")
	require.Len(t, sent, 1)
	assert.Equal(t, 3, sent[0].Attempt)
	assert.Empty(t, sent[0].LastError)
}

func TestDispatchFailureIsBounded(t *testing.T) {
	push := &fakeChannel{name: "push", failures: 100}
	store := &recordingStore{}

	d := newTestDispatcher(map[string]Channel{"push": push}, store, Options{
		Workers: 1, MaxAttempts: 3, BackoffBase: time.Millisecond, DrainTimeout: time.Second,
	})
	d.Start(context.Background())

	d.Enqueue(testAlert(), []string{"push"})
	d.Stop(context.Background())

	assert.Zero(t, push.sentCount())
	assert.Len(t, store.byStatus("retrying"), 2)

	failed := store.byStatus("failed")
	require.Len(t, failed, 1)
	assert.Equal(t, "gateway timeout", failed[0].LastError)
}

func TestDispatchOneChannelFailureDoesNotAffectOthers(t *testing.T) {
	push := &fakeChannel{name: "push", failures: 100}
	email := &fakeChannel{name: "email"}
	store := &recordingStore{}

	d := newTestDispatcher(map[string]Channel{"push": push, "email": email}, store, Options{
		Workers: 2, MaxAttempts: 2, BackoffBase: time.Millisecond, DrainTimeout: time.Second,
	})
	d.Start(context.Background())

	d.Enqueue(testAlert(), []string{"push", "email"})
	d.Stop(context.Background())

	assert.Equal(t, 1, email.sentCount(), "email delivery proceeds while push fails")
	assert.Zero(t, push.sentCount())
}

func TestDispatchUnknownChannelRecordsFailure(t *testing.T) {
	store := &recordingStore{}

	d := newTestDispatcher(map[string]Channel{}, store, Options{
		Workers: 1, MaxAttempts: 3, BackoffBase: time.Millisecond, DrainTimeout: time.Second,
	})
	d.Start(context.Background())

	d.Enqueue(testAlert(), []string{"carrier_pigeon"})
	d.Stop(context.Background())

	failed := store.byStatus("failed")
	require.Len(t, failed, 1)
	assert.Equal(t, "carrier_pigeon", failed[0].Channel)
	assert.Equal(t, "channel not configured", failed[0].LastError)
}

func TestEnqueueNeverBlocksOnFullQueue(t *testing.T) {
	store := &recordingStore{}

	// No workers started: the queue of 2 fills up immediately
	d := newTestDispatcher(map[string]Channel{"push": &fakeChannel{name: "push"}}, store, Options{
		QueueSize: 2, Workers: 1, MaxAttempts: 1, BackoffBase: time.Millisecond,
		OverflowPolicy: OverflowDropOldest, DrainTimeout: time.Second,
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Enqueue(testAlert(), []string{"push"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}

func TestEnqueueRejectNewPolicy(t *testing.T) {
	store := &recordingStore{}

	d := newTestDispatcher(map[string]Channel{"push": &fakeChannel{name: "push"}}, store, Options{
		QueueSize: 1, Workers: 1, MaxAttempts: 1, BackoffBase: time.Millisecond,
		OverflowPolicy: OverflowRejectNew, DrainTimeout: time.Second,
	})

	first := testAlert()
	second := testAlert()
	second.ID = "alert-2"

	// Workers not started: first fills the queue, second is rejected
	d.Enqueue(first, []string{"push"})
	d.Enqueue(second, []string{"push"})

	d.Start(context.Background())
	d.Stop(context.Background())

	sent := store.byStatus("sent")
	require.Len(t, sent, 1)
	assert.Equal(t, "alert-1", sent[0].AlertID)
}

func TestEnqueueAfterStopIsDropped(t *testing.T) {
	push := &fakeChannel{name: "push"}
	store := &recordingStore{}

	d := newTestDispatcher(map[string]Channel{"push": push}, store, Options{
		Workers: 1, MaxAttempts: 1, BackoffBase: time.Millisecond, DrainTimeout: time.Second,
	})
	d.Start(context.Background())
	d.Stop(context.Background())

	assert.NotPanics(t, func() {
		d.Enqueue(testAlert(), []string{"push"})
	})
	assert.Zero(t, push.sentCount())
}

func TestEnqueueConcurrentWithStopIsSafe(t *testing.T) {
	push := &fakeChannel{name: "push"}
	store := &recordingStore{}

	d := newTestDispatcher(map[string]Channel{"push": push}, store, Options{
		QueueSize: 4, Workers: 2, MaxAttempts: 1, BackoffBase: time.Millisecond,
		DrainTimeout: time.Second,
	})
	d.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.Enqueue(testAlert(), []string{"push"})
			}
		}()
	}

	// Stop races the producers; late Enqueues are dropped, never a panic
	d.Stop(context.Background())
	wg.Wait()
}

func TestBuildChannelsSkipsDisabled(t *testing.T) {
	channels := BuildChannels(configChannels())
	assert.Contains(t, channels, "push")
	assert.Contains(t, channels, "webhook")
	assert.NotContains(t, channels, "email", "disabled channel must be omitted")
	assert.NotContains(t, channels, "sms", "channel without a URL must be omitted")
}
