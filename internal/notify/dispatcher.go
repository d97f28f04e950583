package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/helioworks/sunwatch-backend-go/internal/core/alerts"
	"github.com/helioworks/sunwatch-backend-go/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Overflow policies for the bounded dispatch queue
const (
	OverflowDropOldest = "drop_oldest"
	OverflowRejectNew  = "reject_new"
)

// DeliveryStore persists the append-only delivery audit trail
type DeliveryStore interface {
	CreateDeliveryRecord(ctx context.Context, record *alerts.DeliveryRecord) error
}

// Options configures the dispatcher's queue and retry behavior
type Options struct {
	QueueSize      int
	Workers        int
	MaxAttempts    int
	BackoffBase    time.Duration
	OverflowPolicy string
	DrainTimeout   time.Duration
}

type job struct {
	alert   *alerts.AlertEvent
	channel string
}

// Dispatcher fans notifications out across channel adapters. The monitoring
// loop only enqueues; a worker pool drains the bounded queue so a slow or
// failing channel never stalls sample processing. Each channel retries
// independently, and one channel's failure never cancels the others.
type Dispatcher struct {
	channels map[string]Channel
	store    DeliveryStore
	logger   *logrus.Logger
	metrics  *metrics.EngineMetrics
	opts     Options

	queue  chan job
	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher over the given channel adapters
func NewDispatcher(channels map[string]Channel, store DeliveryStore, m *metrics.EngineMetrics, opts Options, logger *logrus.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.OverflowPolicy == "" {
		opts.OverflowPolicy = OverflowDropOldest
	}

	return &Dispatcher{
		channels: channels,
		store:    store,
		logger:   logger,
		metrics:  m,
		opts:     opts,
		queue:    make(chan job, opts.QueueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the worker pool
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i+1)
	}
	d.logger.WithField("workers", d.opts.Workers).Info("Notification dispatcher started")
}

// Enqueue queues one dispatch job per channel. It never blocks: on a full
// queue the overflow policy decides, and any dropped work is logged.
func (d *Dispatcher) Enqueue(alert *alerts.AlertEvent, channels []string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.WithField("alert_id", alert.ID).Warn("Dispatcher stopped, dropping dispatch request")
		return
	}
	d.mu.Unlock()

	for _, ch := range channels {
		d.enqueueOne(job{alert: alert, channel: ch})
	}
	d.metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
}

func (d *Dispatcher) enqueueOne(j job) {
	select {
	case d.queue <- j:
		return
	default:
	}

	switch d.opts.OverflowPolicy {
	case OverflowRejectNew:
		d.dropJob(j, "queue full, rejecting new work")
	default: // drop_oldest
		select {
		case old := <-d.queue:
			d.dropJob(old, "queue full, dropping oldest work")
		default:
		}
		select {
		case d.queue <- j:
		default:
			d.dropJob(j, "queue full after drop, rejecting work")
		}
	}
}

func (d *Dispatcher) dropJob(j job, reason string) {
	d.metrics.DispatchDropped.Inc()
	d.logger.WithFields(logrus.Fields{
		"alert_id": j.alert.ID,
		"channel":  j.channel,
	}).Warn("Dispatch dropped: " + reason)
}

// Stop drains in-flight work for a bounded grace period. Jobs still queued
// after the deadline are abandoned and logged; delivery is at-most-once per
// attempt and is not retried across restarts. The queue channel stays open
// so an Enqueue racing Stop can never panic; its job is simply abandoned.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.done)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Notification dispatcher drained")
	case <-time.After(d.opts.DrainTimeout):
		d.logger.WithField("abandoned", len(d.queue)).Warn("Drain grace period elapsed, abandoning in-flight dispatches")
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	log := d.logger.WithField("dispatch_worker", id)
	for {
		select {
		case j := <-d.queue:
			d.metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
			d.deliver(ctx, log, j)
		case <-d.done:
			// Drain whatever is already queued, then exit
			for {
				select {
				case j := <-d.queue:
					d.metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
					d.deliver(ctx, log, j)
				default:
					return
				}
			}
		}
	}
}

// deliver runs one channel's bounded-backoff retry loop. Every attempt,
// successful or not, appends a DeliveryRecord for audit.
func (d *Dispatcher) deliver(ctx context.Context, log *logrus.Entry, j job) {
	channel, ok := d.channels[j.channel]
	if !ok {
		d.record(ctx, j, 1, "failed", "channel not configured")
		d.metrics.DispatchAttempts.WithLabelValues(j.channel, "failed").Inc()
		log.WithFields(logrus.Fields{
			"alert_id": j.alert.ID,
			"channel":  j.channel,
		}).Error("No adapter for channel")
		return
	}

	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		err := channel.Send(ctx, j.alert.Message, j.alert.Severity)
		if err == nil {
			d.record(ctx, j, attempt, "sent", "")
			d.metrics.DispatchAttempts.WithLabelValues(j.channel, "sent").Inc()
			log.WithFields(logrus.Fields{
				"alert_id": j.alert.ID,
				"channel":  j.channel,
				"attempt":  attempt,
			}).Info("Notification delivered")
			return
		}

		status := "retrying"
		if attempt == d.opts.MaxAttempts {
			status = "failed"
		}
		d.record(ctx, j, attempt, status, err.Error())
		d.metrics.DispatchAttempts.WithLabelValues(j.channel, status).Inc()
		log.WithError(err).WithFields(logrus.Fields{
			"alert_id": j.alert.ID,
			"channel":  j.channel,
			"attempt":  attempt,
		}).Warn("Notification delivery failed")

		if attempt < d.opts.MaxAttempts {
			backoff := d.opts.BackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				d.record(ctx, j, attempt, "failed", "shutdown during retry backoff")
				return
			}
		}
	}
}

func (d *Dispatcher) record(ctx context.Context, j job, attempt int, status, errMsg string) {
	rec := &alerts.DeliveryRecord{
		ID:        uuid.New().String(),
		AlertID:   j.alert.ID,
		Channel:   j.channel,
		Attempt:   attempt,
		Status:    status,
		LastError: errMsg,
		CreatedAt: time.Now(),
	}
	if err := d.store.CreateDeliveryRecord(ctx, rec); err != nil {
		d.logger.WithError(err).WithField("alert_id", j.alert.ID).Error("Failed to persist delivery record")
	}
}
