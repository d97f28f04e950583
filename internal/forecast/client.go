package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helioworks/sunwatch-backend-go/internal/core/alerts"
	"github.com/helioworks/sunwatch-backend-go/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	breakerMaxFailures = 3
	breakerCooldown    = 2 * time.Minute
)

// Client queries an external forecast service for deficit probabilities.
// The service runs the actual production model; this client only asks
// "how likely is a deficit within the next N hours". A circuit breaker
// keeps a down forecast service from being hammered on every sample.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *errors.Breaker
	logger  *logrus.Logger
}

// NewClient creates a forecast client
func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: errors.NewBreaker(breakerMaxFailures, breakerCooldown),
		logger:  logger,
	}
}

// PredictedDeficit implements alerts.ForecastProvider
func (c *Client) PredictedDeficit(ctx context.Context, horizonHours int) (alerts.ForecastPrediction, error) {
	var prediction alerts.ForecastPrediction
	err := c.breaker.Do(func() error {
		var err error
		prediction, err = c.fetch(ctx, horizonHours)
		return err
	})
	return prediction, err
}

func (c *Client) fetch(ctx context.Context, horizonHours int) (alerts.ForecastPrediction, error) {
	var prediction alerts.ForecastPrediction

	url := fmt.Sprintf("%s/predict?horizon_hours=%d", c.baseURL, horizonHours)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return prediction, fmt.Errorf("failed to build forecast request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return prediction, fmt.Errorf("forecast service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return prediction, fmt.Errorf("forecast service returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return prediction, fmt.Errorf("failed to decode forecast response: %w", err)
	}
	if prediction.PredictedDeficitProbability < 0 || prediction.PredictedDeficitProbability > 1 {
		return prediction, fmt.Errorf("forecast probability %f out of range", prediction.PredictedDeficitProbability)
	}

	prediction.HorizonHours = horizonHours
	return prediction, nil
}
