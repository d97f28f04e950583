package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/helioworks/sunwatch-backend-go/internal/config"
	"github.com/helioworks/sunwatch-backend-go/internal/core/alerts"
)

// Channel is the uniform contract over heterogeneous notification media.
// Credentials and the actual transport are owned externally; an adapter
// only needs an endpoint to hand the message to.
type Channel interface {
	Name() string
	Send(ctx context.Context, message string, severity alerts.AlertSeverity) error
}

// channelPayload is the JSON body posted to a notification gateway
type channelPayload struct {
	Recipient string `json:"recipient,omitempty"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	Source    string `json:"source"`
}

// HTTPChannel delivers notifications by POSTing to a gateway endpoint.
// Push, email, SMS and voice gateways all speak this shape; only the
// endpoint and credentials differ per medium.
type HTTPChannel struct {
	name     string
	endpoint config.ChannelEndpoint
	client   *http.Client
}

// NewHTTPChannel creates a channel adapter for one notification medium
func NewHTTPChannel(name string, endpoint config.ChannelEndpoint) *HTTPChannel {
	return &HTTPChannel{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: endpoint.TimeoutDuration()},
	}
}

// Name returns the channel identifier used in configs and delivery records
func (c *HTTPChannel) Name() string {
	return c.name
}

// Send posts the notification to the gateway. Any non-2xx response is a
// DispatchError and subject to the dispatcher's retry policy.
func (c *HTTPChannel) Send(ctx context.Context, message string, severity alerts.AlertSeverity) error {
	body, err := json.Marshal(channelPayload{
		Recipient: c.endpoint.Recipient,
		Message:   message,
		Severity:  string(severity),
		Source:    "sunwatch",
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.endpoint.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.endpoint.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s gateway unreachable: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s gateway returned status %d", c.name, resp.StatusCode)
	}
	return nil
}

// BuildChannels constructs the adapter set from configuration. Disabled
// channels are omitted; dispatch requests naming them are recorded as
// failed deliveries.
func BuildChannels(cfg config.ChannelsConfig) map[string]Channel {
	channels := make(map[string]Channel)
	add := func(name string, endpoint config.ChannelEndpoint) {
		if endpoint.Enabled && endpoint.URL != "" {
			channels[name] = NewHTTPChannel(name, endpoint)
		}
	}
	add("webhook", cfg.Webhook)
	add("push", cfg.Push)
	add("email", cfg.Email)
	add("sms", cfg.SMS)
	add("voice", cfg.Voice)
	return channels
}
