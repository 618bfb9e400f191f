package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/storm-grid-sampler/internal/config"
	"github.com/couchcryptid/storm-grid-sampler/internal/domain"
)

// Writer produces feature vectors to the sink topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes multiple feature vectors to the sink
// topic in a single WriteMessages call for efficiency.
func (w *Writer) LoadBatch(ctx context.Context, features []domain.FeatureVector) error {
	if len(features) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(features))
	for i := range features {
		msg, err := serializeToMessage(features[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a FeatureVector into a Kafka message keyed by
// the report ID, so a reprocessed report overwrites its earlier features in
// a compacted sink topic.
func serializeToMessage(fv domain.FeatureVector) (kafkago.Message, error) {
	data, err := json.Marshal(fv)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize feature vector: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(fv.ReportID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(fv.EventType)},
			{Key: "processed_at", Value: []byte(fv.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
