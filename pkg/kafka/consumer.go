package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// MessageHandler processes one decoded batch message
type MessageHandler func(ctx context.Context, msg *IncomingMessage) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads prepared batches
type Consumer struct {
	reader  reader
	topic   string
	logger  ectologger.Logger
	handler MessageHandler
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       50e6, // batches can carry thousands of rows
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})

	return &Consumer{
		reader:  r,
		topic:   cfg.Topic,
		logger:  logger,
		handler: handler,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithField("topic", c.topic).Info("Kafka consumer started")
	return nil
}

// Stop waits for the batch in flight, then closes the reader
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			c.logger.WithContext(ctx).Info("Consumer loop stopping")
			return
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					return
				}
				c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
				continue
			}

			c.processMessage(ctx, msg)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processMessage")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	incoming := &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Topic:     msg.Topic,
	}

	if err := incoming.ParseBatch(); err != nil {
		log.WithError(err).Error("Failed to parse batch, skipping")
		c.commit(ctx, msg)
		return
	}

	if err := c.handler(ctx, incoming); err != nil {
		// Retrying a batch that failed validation or consistency checks gives the same result.
		if !fernerrors.Retryable(err) {
			log.WithError(err).WithField("batch_id", incoming.Batch.ID).Error("Batch rejected, committing")
			c.commit(ctx, msg)
			return
		}
		log.WithError(err).WithField("batch_id", incoming.Batch.ID).Error("Failed to process batch (not committing)")
		return
	}

	c.commit(ctx, msg)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.WithContext(ctx).WithError(err).Error("Failed to commit message")
	}
}

// Health reports whether the reader is set up
func (c *Consumer) Health() bool {
	return c.reader != nil
}
