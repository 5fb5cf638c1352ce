// Package kafka provides a Kafka-based implementation of the event bus used to
// fan post lifecycle events out to downstream consumers (analytics, digests,
// webhooks).
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/internal/domain/events"
	"github.com/ahrav/postflow/internal/infra/eventbus/reliability"
	"github.com/ahrav/postflow/internal/infra/eventbus/serialization"
	"github.com/ahrav/postflow/pkg/common/logger"
)

// Config contains settings for connecting to and interacting with Kafka brokers.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string

	// PostEventsTopic is the topic name for post lifecycle events. Messages
	// are keyed by post ID so one post's events stay ordered.
	PostEventsTopic string

	// GroupID identifies the consumer group for this bus instance.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements the events.EventBus interface using Kafka as the
// underlying message broker.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup

	// Maps domain event types to Kafka topic names.
	topics map[events.EventType]string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewEventBusFromConfig creates a Kafka-based event bus from the provided
// configuration, establishing both producer and consumer group connections.
func NewEventBusFromConfig(cfg *Config, logger *logger.Logger, tracer trace.Tracer) (*EventBus, error) {
	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Partitioner = sarama.NewHashPartitioner
	producerConfig.ClientID = cfg.ClientID

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = cfg.ClientID
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Consumer.Group.Session.Timeout = 20 * time.Second
	consumerConfig.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	consumerConfig.Consumer.Offsets.AutoCommit.Enable = true
	consumerConfig.Consumer.Offsets.AutoCommit.Interval = 1 * time.Second
	consumerConfig.Version = sarama.V2_8_0_0

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	topicsMap := map[events.EventType]string{
		content.EventTypePostScheduled:      cfg.PostEventsTopic,
		content.EventTypePostScheduleCancel: cfg.PostEventsTopic,
		content.EventTypePostPublished:      cfg.PostEventsTopic,
		content.EventTypePostPublishFailed:  cfg.PostEventsTopic,
		content.EventTypePostScoreUpdated:   cfg.PostEventsTopic,
	}

	return &EventBus{
		producer:      producer,
		consumerGroup: consumerGroup,
		topics:        topicsMap,
		logger:        logger.With("component", "kafka_event_bus"),
		tracer:        tracer,
	}, nil
}

// Publish sends a domain event to the appropriate Kafka topic. Events are
// informational fan-out; a broker error surfaces to the caller but must never
// be allowed to fail the state change that produced the event.
func (k *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	topic, ok := k.topics[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type '%s', no topic mapped", event.Type)
	}

	ctx, span := startProducerSpan(ctx, topic, k.tracer)
	defer span.End()

	var pParams events.PublishParams
	for _, opt := range opts {
		opt(&pParams)
	}
	if pParams.Key != "" {
		event.Key = pParams.Key
		span.SetAttributes(attribute.String("event.key", event.Key))
	}

	msgBytes, err := serialization.SerializeEventEnvelope(event.Type, event.Payload)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.Key), // Used for partition routing
		Value: sarama.ByteEncoder(msgBytes),
	}
	injectTraceContext(ctx, kafkaMsg)

	partition, offset, sendErr := k.producer.SendMessage(kafkaMsg)
	if sendErr != nil {
		span.RecordError(sendErr)
		if !reliability.IsCriticalEvent(event.Type) {
			// Advisory events are self-healing downstream; dropping one beats
			// failing the state change that produced it.
			k.logger.Warn(ctx, "Dropping non-critical event after send failure",
				"topic", topic, "event_type", event.Type, "error", sendErr)
			return nil
		}
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, sendErr)
	}

	k.logger.Debug(ctx, "Published message to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"event_type", event.Type,
		"key", event.Key,
	)
	return nil
}

// Subscribe registers a handler function to process domain events of the
// specified types. Consumption runs in a separate goroutine until the context
// is cancelled.
func (k *EventBus) Subscribe(
	ctx context.Context,
	eventTypes []events.EventType,
	handler events.HandlerFunc,
) error {
	ctx, span := k.tracer.Start(ctx, "kafka_event_bus.subscribe",
		trace.WithAttributes(attribute.String("component", "kafka_event_bus")))
	defer span.End()

	topicSet := make(map[string]struct{})
	for _, et := range eventTypes {
		topic, ok := k.topics[et]
		if !ok {
			span.RecordError(fmt.Errorf("subscribe: unknown event type %s", et))
			span.SetStatus(codes.Error, "unknown event type")
			return fmt.Errorf("subscribe: unknown event type %s", et)
		}
		topicSet[topic] = struct{}{}
	}

	var topics []string
	for t := range topicSet {
		topics = append(topics, t)
	}
	span.AddEvent("topics_collected", trace.WithAttributes(attribute.StringSlice("topics", topics)))

	go k.consumeLoop(ctx, topics, handler)
	k.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes)
	return nil
}

func (k *EventBus) consumeLoop(ctx context.Context, topics []string, handler events.HandlerFunc) {
	cgHandler := &consumerGroupHandler{
		userHandler: handler,
		logger:      k.logger,
		tracer:      k.tracer,
	}

	for {
		if err := k.consumerGroup.Consume(ctx, topics, cgHandler); err != nil {
			k.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler to convert Kafka
// messages back into domain event envelopes.
type consumerGroupHandler struct {
	userHandler events.HandlerFunc

	logger *logger.Logger
	tracer trace.Tracer
}

func (h *consumerGroupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(context.Background(), "Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *consumerGroupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(context.Background(), "Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim processes messages from an assigned partition. Undecodable
// messages are marked and skipped so one bad message cannot wedge a partition.
func (h *consumerGroupHandler) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for msg := range claim.Messages() {
		msgCtx := extractTraceContext(sess.Context(), msg)
		msgCtx, span := startConsumerSpan(msgCtx, msg, h.tracer)

		evtType, payloadBytes, err := serialization.UnmarshalUniversalEnvelope(msg.Value)
		if err != nil {
			sess.MarkMessage(msg, "")
			span.RecordError(err)
			span.End()
			continue
		}

		payload, err := serialization.DeserializePayload(evtType, payloadBytes)
		if err != nil {
			sess.MarkMessage(msg, "")
			span.RecordError(err)
			span.End()
			continue
		}

		envelope := events.EventEnvelope{
			Type:      evtType,
			Key:       string(msg.Key),
			Timestamp: msg.Timestamp,
			Payload:   payload,
		}

		if err := h.userHandler(msgCtx, envelope); err != nil {
			h.logger.Error(msgCtx, "Failed to handle message",
				"topic", msg.Topic, "event_type", evtType, "error", err)
			span.RecordError(err)
		}

		sess.MarkMessage(msg, "")
		span.End()
	}
	return nil
}

// Close gracefully shuts down the event bus by closing both producer and
// consumer connections.
func (k *EventBus) Close() error {
	if err := k.producer.Close(); err != nil {
		return err
	}
	return k.consumerGroup.Close()
}
