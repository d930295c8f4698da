package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/tornado-season/internal/config"
	"github.com/couchcryptid/tornado-season/internal/domain"
)

// Writer publishes season summaries to a Kafka topic.
// It implements pipeline.SummaryPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes every summary in a single
// WriteMessages call. Summaries of one model and year share a key, so
// reruns land on the same partition.
func (w *Writer) LoadBatch(ctx context.Context, summaries []domain.SeasonSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(summaries))
	for i := range summaries {
		msg, err := serializeToMessage(summaries[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish season summaries: %w", err)
	}
	w.logger.Info("season summaries published", "topic", w.writer.Topic, "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// MessageKey is "model|year"; pooled fits use year 0.
func MessageKey(s domain.SeasonSummary) string {
	return s.Model + "|" + strconv.Itoa(s.Year)
}

// serializeToMessage marshals a SeasonSummary into a Kafka message.
func serializeToMessage(s domain.SeasonSummary) (kafkago.Message, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize season summary: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(MessageKey(s)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "model", Value: []byte(s.Model)},
			{Key: "run_id", Value: []byte(s.RunID)},
			{Key: "generated_at", Value: []byte(s.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
