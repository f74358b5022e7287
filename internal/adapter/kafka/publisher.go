// Package kafka publishes high-risk farm alerts to a Kafka topic. Alerting
// is optional: it activates only when brokers are configured, and a publish
// failure never fails the run.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/fieldwatch/farm-risk-etl/internal/config"
	"github.com/fieldwatch/farm-risk-etl/internal/domain"
)

// Publisher produces alert messages to the configured topic.
// It implements pipeline.AlertPublisher.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the alert topic.
func NewPublisher(cfg config.KafkaConfig, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.AlertTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish serializes and produces all alerts in a single WriteMessages call.
// Messages are keyed by farm ID so per-farm ordering holds across runs.
func (p *Publisher) Publish(ctx context.Context, rows []domain.FarmRiskHourly) error {
	if len(rows) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(rows))
	for i := range rows {
		msg, err := serializeToMessage(rows[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a risk row into a Kafka message.
func serializeToMessage(row domain.FarmRiskHourly) (kafkago.Message, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize risk alert: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(row.FarmID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "risk_level", Value: []byte(row.RiskLevel)},
			{Key: "hour_utc", Value: []byte(row.HourUTC.Format(time.RFC3339))},
		},
	}, nil
}
