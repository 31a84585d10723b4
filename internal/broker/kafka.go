package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order-lifecycle/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of kafka.Writer the producer uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer. Topic is left unset on the
// writer so one producer serves every topic.
func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer)
}

// NewProducerWithWriter wraps an existing writer
func NewProducerWithWriter(writer MessageWriter) *Producer {
	return &Producer{writer: writer, logger: util.GetLogger()}
}

// PublishEvent publishes an event to a Kafka topic. Messages sharing a key
// land on the same partition, so events of one order stay ordered.
func (p *Producer) PublishEvent(ctx context.Context, topic, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: eventBytes,
		Time:  time.Now(),
	}

	err = p.writer.WriteMessages(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published event",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.String("type", fmt.Sprintf("%T", event)))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// MessageReader is the subset of kafka.Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer represents a Kafka consumer
type Consumer struct {
	reader       MessageReader
	topic        string
	retryBackoff time.Duration
	maxBackoff   time.Duration
	logger       *zap.Logger
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	return NewConsumerWithReader(reader, topic)
}

// NewConsumerWithReader wraps an existing reader
func NewConsumerWithReader(reader MessageReader, topic string) *Consumer {
	return &Consumer{
		reader:       reader,
		topic:        topic,
		retryBackoff: time.Second,
		maxBackoff:   30 * time.Second,
		logger:       util.GetLogger(),
	}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming starts consuming messages with a handler. A message whose
// handler fails is retried in place with backoff until it succeeds or ctx
// ends. Later messages wait behind it, so no offset is committed past a
// failure. Malformed payloads are logged and committed.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting Kafka consumer", zap.String("topic", c.topic))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("Consumer context cancelled, stopping", zap.String("topic", c.topic))
				return ctx.Err()
			}
			c.logger.Error("Error fetching message", zap.String("topic", c.topic), zap.Error(err))
			if err := sleepContext(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		if err := c.handleUntilDone(ctx, handler, msg); err != nil {
			c.logger.Info("Consumer context cancelled, stopping", zap.String("topic", c.topic))
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Error committing message", zap.String("topic", c.topic), zap.Error(err))
		}
	}
}

// handleUntilDone runs handler on msg until it succeeds or reports a
// malformed payload. It only returns an error when ctx ends first.
func (c *Consumer) handleUntilDone(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	backoff := c.retryBackoff
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrMalformedMessage) {
			c.logger.Error("Skipping malformed message",
				zap.String("topic", c.topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Error("Error handling message, retrying",
			zap.String("topic", c.topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		if err := sleepContext(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
