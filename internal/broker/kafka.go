package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/codes"

	"devpulse/internal/config"
	"devpulse/internal/constants"
	"devpulse/internal/logger"
	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/logging"
	"devpulse/pkg/metrics"
	"devpulse/pkg/models"
	"devpulse/pkg/retry"
	"devpulse/pkg/tracing"
)

// KafkaProducer writes envelopes keyed by StreamEnvelope.Key. The hash
// balancer keeps one key on one partition, so per-entity order survives.
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(cfg config.KafkaConfig) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &KafkaProducer{writer: w}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg models.StreamEnvelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := msg.Key
	if key == "" {
		key = msg.ID
	}

	ctx, span, headers := tracing.StartPublishSpan(ctx, topic, key)
	defer span.End()

	start := time.Now()
	err = p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     []byte(key),
			Value:   body,
			Headers: headers,
			Time:    time.Now(),
		},
	)
	metrics.ObserveKafkaWriteDuration(constants.ServiceName, topic, time.Since(start))

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(constants.ServiceName, topic)
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads stream envelopes for the control-plane topics (rule
// updates). Each Consume call owns one reader; Close stops all of them.
type KafkaConsumer struct {
	cfg         config.KafkaConfig
	logger      logger.Logger
	dlqProducer Producer

	mu      sync.Mutex
	readers []*kafka.Reader
	closed  bool
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	consumer := &KafkaConsumer{cfg: cfg, logger: log}
	if cfg.DLQTopic != "" {
		consumer.dlqProducer = NewKafkaProducer(cfg)
	}
	return consumer
}

// Consume blocks until ctx is done or the consumer is closed, handing every
// message on topic to handler. Messages that still fail after the retry
// policy go to the DLQ topic when one is configured; they are committed
// either way so one bad message cannot stall the partition.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	reader, err := c.openReader(topic)
	if err != nil {
		return err
	}

	consumeCtx := logging.WithServiceName(ctx, constants.ServiceName)
	c.logger.InfowCtx(consumeCtx, "Started consuming",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.InfowCtx(consumeCtx, "Stopped consuming", "topic", topic)
				return ctx.Err()
			}
			c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
				"error", err,
				"topic", topic,
			)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}

		metrics.IncKafkaMessagesRead(constants.ServiceName, topic)
		c.handleMessage(consumeCtx, m, handler)

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.ErrorwCtx(consumeCtx, "Failed to commit message",
				"error", err,
				"topic", topic,
				"offset", m.Offset,
			)
		}
	}
}

func (c *KafkaConsumer) openReader(topic string) (*kafka.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("kafka consumer is closed")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	c.readers = append(c.readers, reader)
	return reader, nil
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, m kafka.Message, handler HandlerFunc) {
	msgCtx, span := tracing.StartConsumeSpan(ctx, m)
	defer span.End()

	var envelope models.StreamEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err != nil {
		span.SetStatus(codes.Error, "undecodable")
		c.logger.ErrorwCtx(msgCtx, "Failed to unmarshal message",
			"error", err,
			"topic", m.Topic,
			"offset", m.Offset,
		)
		c.deadLetter(msgCtx, undecodableEnvelope(m), "undecodable", err, m.Topic)
		return
	}

	if envelope.Metadata.TraceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, envelope.Metadata.TraceID)
	}
	if envelope.Key != "" {
		msgCtx = logging.WithEntityKey(msgCtx, envelope.Key)
	}

	err := c.processMessageWithRetry(msgCtx, envelope, handler, m.Topic)
	if err == nil {
		return
	}

	span.SetStatus(codes.Error, err.Error())
	c.logger.ErrorwCtx(msgCtx, "Failed to process message",
		"error", err,
		"topic", m.Topic,
		"envelope_id", envelope.ID,
	)
	c.deadLetter(msgCtx, envelope, failureReason(err), err, m.Topic)
}

func (c *KafkaConsumer) processMessageWithRetry(ctx context.Context, envelope models.StreamEnvelope, handler HandlerFunc, topic string) error {
	policy := retry.PolicyFromConfig(c.cfg.Retry)

	return retry.Do(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = apperrors.RecoverPanic("stream handler "+topic, r)
			}
		}()
		return handler(ctx, envelope)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(constants.ServiceName, topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
}

func (c *KafkaConsumer) deadLetter(ctx context.Context, envelope models.StreamEnvelope, reason string, cause error, sourceTopic string) {
	if c.dlqProducer == nil {
		c.logger.WarnwCtx(ctx, "No DLQ configured, committing message to avoid blocking",
			"topic", sourceTopic,
			"reason", reason,
		)
		return
	}

	envelope.Metadata.Reason = cause.Error()
	envelope.Metadata.SourceTopic = sourceTopic
	if err := c.dlqProducer.Publish(ctx, c.cfg.DLQTopic, envelope); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to send message to DLQ",
			"error", err,
			"topic", sourceTopic,
		)
		return
	}

	metrics.DLQMessagesTotal.WithLabelValues(constants.ServiceName, sourceTopic, reason).Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", sourceTopic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", reason,
	)
}

// failureReason labels a handler failure for the DLQ metric.
func failureReason(err error) string {
	switch {
	case apperrors.IsPanic(err):
		return "panic"
	case retry.IsFatal(err):
		return "fatal"
	default:
		return "max_retries_exceeded"
	}
}

// undecodableEnvelope preserves a message that is not an envelope, carrying
// its raw value as a JSON string.
func undecodableEnvelope(m kafka.Message) models.StreamEnvelope {
	data, _ := json.Marshal(string(m.Value))
	return models.StreamEnvelope{
		ID:        fmt.Sprintf("%s-%d-%d", m.Topic, m.Partition, m.Offset),
		Key:       string(m.Key),
		Timestamp: m.Time,
		Data:      data,
	}
}

func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	readers := c.readers
	c.readers = nil
	c.closed = true
	c.mu.Unlock()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.dlqProducer != nil {
		if err := c.dlqProducer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
