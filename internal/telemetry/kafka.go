package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/helioworks/sunwatch-backend-go/internal/config"
	"github.com/helioworks/sunwatch-backend-go/internal/core/alerts"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaSource consumes telemetry samples from a Kafka topic. Used when
// the home gateway publishes readings to a broker instead of exposing
// an HTTP endpoint.
type KafkaSource struct {
	reader *kafka.Reader
	sink   SampleSink
	logger *logrus.Logger
}

// NewKafkaSource creates a consumer for the configured topic
func NewKafkaSource(cfg config.KafkaConfig, sink SampleSink, logger *logrus.Logger) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: time.Second,
	})
	return &KafkaSource{
		reader: reader,
		sink:   sink,
		logger: logger,
	}
}

// Run consumes until the context is cancelled. Malformed messages are
// logged and dropped; a poisoned message must not stall the stream.
func (s *KafkaSource) Run(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"topic": s.reader.Config().Topic,
		"group": s.reader.Config().GroupID,
	}).Info("Kafka telemetry source started")

	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var sample alerts.TelemetrySample
		if err := json.Unmarshal(msg.Value, &sample); err != nil {
			s.logger.WithError(err).WithField("offset", msg.Offset).Warn("Dropping malformed telemetry message")
			continue
		}
		if sample.Timestamp.IsZero() {
			sample.Timestamp = msg.Time
		}

		s.sink.HandleSample(ctx, sample)
	}
}

// Close releases the consumer group connection
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
