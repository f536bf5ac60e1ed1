package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes fern events. It is an events.Sink.
type Producer struct {
	writer writer
	logger ectologger.Logger
	topic  string
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: w, logger: logger, topic: cfg.Topic}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Publish writes the events in one call, keyed by batch so a batch's events stay ordered on one partition.
func (p *Producer) Publish(ctx context.Context, evs ...events.Event) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.Publish")
	defer span.End()

	if len(evs) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(evs))
	for i, event := range evs {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode %s event: %w", event.Type, err)
		}

		messages[i] = kafka.Message{
			Key:   []byte(event.Key()),
			Value: data,
			Headers: []kafka.Header{
				{Key: HeaderEventType, Value: []byte(event.Type)},
				{Key: HeaderBatchID, Value: []byte(event.BatchID)},
				{Key: HeaderSourceID, Value: []byte(event.SourceID)},
				{Key: HeaderSchemaVersion, Value: []byte(event.SchemaVersion)},
			},
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		metrics.RecordKafkaPublish(p.topic, "error", len(messages))
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"topic":      p.topic,
			"batch_size": len(messages),
		}).Error("Failed to publish events")
		return err
	}

	metrics.RecordKafkaPublish(p.topic, "success", len(messages))
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":      p.topic,
		"batch_size": len(messages),
	}).Debug("Published events")

	return nil
}
