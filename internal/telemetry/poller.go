package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helioworks/sunwatch-backend-go/internal/core/alerts"
	"github.com/sirupsen/logrus"
)

// SampleSink receives telemetry samples as they arrive
type SampleSink interface {
	HandleSample(ctx context.Context, sample alerts.TelemetrySample)
}

// Poller fetches telemetry samples from an HTTP endpoint, typically an
// inverter gateway that exposes current readings as JSON.
type Poller struct {
	url    string
	client *http.Client
	sink   SampleSink
	logger *logrus.Logger
}

// NewPoller creates a poller against the given endpoint
func NewPoller(url string, timeout time.Duration, sink SampleSink, logger *logrus.Logger) *Poller {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Poller{
		url:    url,
		client: &http.Client{Timeout: timeout},
		sink:   sink,
		logger: logger,
	}
}

// Poll fetches one sample and feeds it to the engine. Fetch failures are
// logged and skipped; the gap detector handles the missing tick.
func (p *Poller) Poll(ctx context.Context) {
	sample, err := p.fetch(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("Telemetry poll failed, skipping tick")
		return
	}
	p.sink.HandleSample(ctx, sample)
}

func (p *Poller) fetch(ctx context.Context) (alerts.TelemetrySample, error) {
	var sample alerts.TelemetrySample

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return sample, fmt.Errorf("failed to build poll request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return sample, fmt.Errorf("failed to poll telemetry source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return sample, fmt.Errorf("telemetry source returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&sample); err != nil {
		return sample, fmt.Errorf("failed to decode telemetry sample: %w", err)
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	return sample, nil
}
