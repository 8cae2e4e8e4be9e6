package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
)

const (
	BackendGoChannel = "gochannel"
	BackendKafka     = "kafka"

	consumerGroup = "exam-engine-audit"
)

// Config selects and configures the message broker.
type Config struct {
	Backend      string
	KafkaBrokers []string
	Topic        string
}

// NewPubSub creates the publisher/subscriber pair for the configured backend.
// The in-process GoChannel backend is used unless Kafka is requested.
func NewPubSub(cfg Config, log zerolog.Logger) (message.Publisher, message.Subscriber, error) {
	wlog := NewLoggerAdapter(log.With().Str("component", "watermill").Logger())

	switch cfg.Backend {
	case BackendKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, nil, fmt.Errorf("kafka backend requires at least one broker")
		}
		pub, err := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers:   cfg.KafkaBrokers,
			Marshaler: kafka.DefaultMarshaler{},
		}, wlog)
		if err != nil {
			return nil, nil, fmt.Errorf("create kafka publisher: %w", err)
		}
		sub, err := kafka.NewSubscriber(kafka.SubscriberConfig{
			Brokers:       cfg.KafkaBrokers,
			Unmarshaler:   kafka.DefaultMarshaler{},
			ConsumerGroup: consumerGroup,
		}, wlog)
		if err != nil {
			pub.Close()
			return nil, nil, fmt.Errorf("create kafka subscriber: %w", err)
		}
		return pub, sub, nil
	case BackendGoChannel, "":
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024}, wlog)
		return ch, ch, nil
	default:
		return nil, nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

// Publisher publishes attempt events to a single topic.
type Publisher struct {
	pub   message.Publisher
	topic string
	log   zerolog.Logger
}

// NewPublisher creates a new Publisher.
func NewPublisher(pub message.Publisher, topic string, log zerolog.Logger) *Publisher {
	return &Publisher{
		pub:   pub,
		topic: topic,
		log:   log.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish sends an event. Metadata carries the event type so consumers can
// filter without decoding the payload.
func (p *Publisher) Publish(ctx context.Context, e *AttemptEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal attempt event: %w", err)
	}

	msg := message.NewMessage(e.ID, body)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", string(e.Type))
	msg.Metadata.Set("attempt_id", e.AttemptID.String())
	msg.Metadata.Set("timestamp", e.OccurredAt.Format(time.RFC3339Nano))

	if err := p.pub.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}

	p.log.Debug().
		Str("event_id", e.ID).
		Str("event_type", string(e.Type)).
		Str("topic", p.topic).
		Msg("Published attempt event")
	return nil
}

// Decode parses an attempt event from a message payload.
func Decode(msg *message.Message) (*AttemptEvent, error) {
	var e AttemptEvent
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return nil, fmt.Errorf("decode attempt event %s: %w", msg.UUID, err)
	}
	return &e, nil
}
