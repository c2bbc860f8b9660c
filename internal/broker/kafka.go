// Package broker implements the publisher/consumer contract of §4.6 on top
// of Kafka: partition-keyed topics, an idempotent acks=all producer,
// manual offset commits, bounded retry with a dead-letter topic on
// exhaustion, and trace-context propagation through message headers.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/vectorcommerce/platform/internal/errs"
	"github.com/vectorcommerce/platform/internal/events"
	"github.com/vectorcommerce/platform/internal/telemetry"
)

const retryCountHeader = "x-retry-count"

// Publisher publishes an envelope to the topic matching its event type,
// partitioned on aggregateId per §4.5's ordering guarantee.
type Publisher interface {
	Publish(ctx context.Context, topic string, env events.Envelope) error
	Close() error
}

// Handler processes one delivered envelope. A BusinessRule error routes the
// message straight to the dead-letter topic; any other error is retried
// against the consumer's retry budget before also going to the DLQ.
type Handler func(ctx context.Context, env events.Envelope) error

// ProcessedLog is the consumer-side idempotence check of §4.6 step 2:
// before running a handler, a consumer looks up the envelope's
// (eventId, aggregateId) pair and skips straight to a commit if it is
// already there. internal/processed.Log implements it.
type ProcessedLog interface {
	IsProcessed(ctx context.Context, env events.Envelope) (bool, error)
	MarkProcessed(ctx context.Context, env events.Envelope, processedAt time.Time) error
}

// DeadLetterArchive durably records a dead-lettered envelope alongside the
// failure that sent it there, in addition to the DLQ topic publish every
// consumer always performs. internal/processed.DeadLetterArchive
// implements it.
type DeadLetterArchive interface {
	Archive(ctx context.Context, topic string, env events.Envelope, cause error, archivedAt time.Time) error
}

// KafkaPublisher is the sarama-backed Publisher.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	logger   *slog.Logger
}

// NewKafkaPublisher dials brokers with a producer configured for §6's
// guarantees: acks=all, idempotent, snappy-compressed.
func NewKafkaPublisher(brokers []string, logger *slog.Logger) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Retry.Max = 5
	cfg.Net.MaxOpenRequests = 1 // required by the broker when Idempotent is set

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("broker: create producer: %w", err)
	}
	return &KafkaPublisher{producer: producer, logger: logger}, nil
}

// Publish sends env to topic, keyed by env.AggregateID so every event for
// the same aggregate lands on the same partition and is delivered in order.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, env events.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return errs.Wrap(errs.Fatal, "", "broker: marshal envelope", err)
	}

	headers := telemetry.HeaderCarrier{}
	telemetry.Inject(ctx, headers)

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(env.AggregateID.String()),
		Value: sarama.ByteEncoder(body),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("publish failed", "topic", topic, "event_id", env.EventID.String(), "error", err)
		return errs.Wrap(errs.Transient, "", "broker: send message", err)
	}

	p.logger.Info("published", "topic", topic, "partition", partition, "offset", offset,
		"event_type", string(env.EventType), "event_id", env.EventID.String())
	return nil
}

// Close flushes and closes the underlying producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// DLQTopic returns the dead-letter topic name for a given source topic.
func DLQTopic(topic string) string {
	return topic + ".dlq"
}

// KafkaConsumer is the sarama-backed, consumer-group based Consumer. Each
// partition is handled single-threaded, per §4.6's ordering requirement.
type KafkaConsumer struct {
	group      sarama.ConsumerGroup
	publisher    Publisher
	processedLog ProcessedLog
	archive      DeadLetterArchive
	retryMax     int
	logger       *slog.Logger
}

// NewKafkaConsumer joins groupID against brokers with manual offset commit:
// offsets are marked only after the handler transaction (including the
// processed-event write) has committed. processedLog and archive may both
// be nil, in which case every delivered message is treated as unseen (no
// idempotence check) and dead letters are only published to the DLQ topic,
// never archived - useful for tests that do not stand up Mongo.
func NewKafkaConsumer(brokers []string, groupID string, publisher Publisher, processedLog ProcessedLog, archive DeadLetterArchive, retryMax int, logger *slog.Logger) (*KafkaConsumer, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.AutoCommit.Enable = false

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("broker: create consumer group: %w", err)
	}
	return &KafkaConsumer{group: group, publisher: publisher, processedLog: processedLog, archive: archive, retryMax: retryMax, logger: logger}, nil
}

// Subscribe starts consuming topics in the background, dispatching each
// delivered message to handler.
func (c *KafkaConsumer) Subscribe(ctx context.Context, topics []string, handler Handler) error {
	h := &groupHandler{consumer: c, handler: handler}
	go func() {
		for {
			if err := c.group.Consume(ctx, topics, h); err != nil {
				c.logger.Error("consumer group error", "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return nil
}

func (c *KafkaConsumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	consumer *KafkaConsumer
	handler  Handler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.process(session, msg)
	}
	return nil
}

func (h *groupHandler) process(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) {
	var env events.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		h.consumer.logger.Error("malformed envelope, routing to DLQ", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		h.deadLetter(session.Context(), msg, err)
		session.MarkMessage(msg, "")
		return
	}

	headers := telemetry.HeaderCarrier{}
	for _, rh := range msg.Headers {
		headers[string(rh.Key)] = string(rh.Value)
	}
	ctx := telemetry.Extract(session.Context(), headers)

	if h.consumer.processedLog != nil {
		seen, err := h.consumer.processedLog.IsProcessed(ctx, env)
		if err != nil {
			h.consumer.logger.Error("processed-log check failed, will retry", "event_id", env.EventID.String(), "error", err)
			time.Sleep(time.Second)
			return
		}
		if seen {
			session.MarkMessage(msg, "")
			return
		}
	}

	retryCount := headerRetryCount(msg.Headers)
	err := h.handler(ctx, env)
	for err != nil && !errs.IsBusinessError(err) && retryCount < h.consumer.retryMax {
		backoff := time.Duration(1<<retryCount) * time.Second
		h.consumer.logger.Warn("handler failed, will retry", "event_type", string(env.EventType), "retry_count", retryCount, "backoff", backoff, "error", err)
		time.Sleep(backoff)
		retryCount++
		err = h.handler(ctx, env)
	}
	switch {
	case err == nil:
		if h.consumer.processedLog != nil {
			if markErr := h.consumer.processedLog.MarkProcessed(ctx, env, time.Now()); markErr != nil {
				h.consumer.logger.Error("mark processed failed", "event_id", env.EventID.String(), "error", markErr)
			}
		}
		session.MarkMessage(msg, "")
	case errs.IsBusinessError(err):
		h.consumer.logger.Warn("business rule violation, routing to DLQ", "event_type", string(env.EventType), "error", err)
		h.deadLetter(ctx, msg, err)
		session.MarkMessage(msg, "")
	default:
		// The retry loop above only exits with a non-business error once
		// retryCount has reached retryMax.
		h.consumer.logger.Error("retry budget exhausted, routing to DLQ", "event_type", string(env.EventType), "retry_count", retryCount, "error", err)
		h.deadLetter(ctx, msg, err)
		session.MarkMessage(msg, "")
	}
}

func headerRetryCount(headers []*sarama.RecordHeader) int {
	for _, h := range headers {
		if string(h.Key) == retryCountHeader {
			var n int
			fmt.Sscanf(string(h.Value), "%d", &n)
			return n
		}
	}
	return 0
}

func (h *groupHandler) deadLetter(ctx context.Context, msg *sarama.ConsumerMessage, cause error) {
	var env events.Envelope
	_ = json.Unmarshal(msg.Value, &env)
	if pubErr := h.consumer.publisher.Publish(ctx, DLQTopic(msg.Topic), env); pubErr != nil {
		h.consumer.logger.Error("failed to publish to DLQ", "topic", msg.Topic, "error", pubErr, "original_error", cause)
	}
	if h.consumer.archive != nil {
		if archErr := h.consumer.archive.Archive(ctx, msg.Topic, env, cause, time.Now()); archErr != nil {
			h.consumer.logger.Error("failed to archive dead letter", "topic", msg.Topic, "error", archErr)
		}
	}
}
