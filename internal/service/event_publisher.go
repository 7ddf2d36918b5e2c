package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/pkg/kafka"
	"github.com/prohmpiriya/facility-rental/pkg/retry"
)

// EventPublisher defines the interface for publishing reservation lifecycle events
type EventPublisher interface {
	// PublishReservationCreated publishes a reservation created event
	PublishReservationCreated(ctx context.Context, reservation *domain.Reservation) error

	// PublishReservationConfirmed publishes a reservation confirmed event
	PublishReservationConfirmed(ctx context.Context, reservation *domain.Reservation) error

	// PublishReservationCancelled publishes a reservation cancelled event
	PublishReservationCancelled(ctx context.Context, reservation *domain.Reservation) error

	// PublishReservationExpired publishes a hold expired event
	PublishReservationExpired(ctx context.Context, reservation *domain.Reservation) error

	// PublishReservationCompleted publishes a reservation completed event
	PublishReservationCompleted(ctx context.Context, reservation *domain.Reservation) error

	// PublishPaymentEvent publishes a payment failure, refund or compensation alert
	PublishPaymentEvent(ctx context.Context, eventType domain.ReservationEventType, reservation *domain.Reservation, metadata map[string]string) error

	// Close closes the event publisher
	Close() error
}

// KafkaEventPublisher implements EventPublisher using Kafka
type KafkaEventPublisher struct {
	producer    *kafka.Producer
	topic       string
	serviceName string
	retry       *retry.Config
}

// EventPublisherConfig contains configuration for the event publisher
type EventPublisherConfig struct {
	Brokers     []string
	Topic       string
	ServiceName string
	ClientID    string
}

// NewKafkaEventPublisher creates a new Kafka event publisher
func NewKafkaEventPublisher(ctx context.Context, cfg *EventPublisherConfig) (*KafkaEventPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("event publisher config is required")
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "reservation-events"
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "facility-rental"
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "facility-rental-producer"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Brokers,
		ClientID:      clientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		BatchSize:     100,
		LingerMs:      10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaEventPublisher{
		producer:    producer,
		topic:       topic,
		serviceName: serviceName,
		retry: &retry.Config{
			MaxRetries:      2,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     time.Second,
			JitterFactor:    0.1,
		},
	}, nil
}

// PublishReservationCreated publishes a reservation created event
func (p *KafkaEventPublisher) PublishReservationCreated(ctx context.Context, reservation *domain.Reservation) error {
	return p.publishEvent(ctx, domain.EventReservationCreated, reservation, nil)
}

// PublishReservationConfirmed publishes a reservation confirmed event
func (p *KafkaEventPublisher) PublishReservationConfirmed(ctx context.Context, reservation *domain.Reservation) error {
	return p.publishEvent(ctx, domain.EventReservationConfirmed, reservation, nil)
}

// PublishReservationCancelled publishes a reservation cancelled event
func (p *KafkaEventPublisher) PublishReservationCancelled(ctx context.Context, reservation *domain.Reservation) error {
	return p.publishEvent(ctx, domain.EventReservationCancelled, reservation, nil)
}

// PublishReservationExpired publishes a hold expired event
func (p *KafkaEventPublisher) PublishReservationExpired(ctx context.Context, reservation *domain.Reservation) error {
	return p.publishEvent(ctx, domain.EventReservationExpired, reservation, nil)
}

// PublishReservationCompleted publishes a reservation completed event
func (p *KafkaEventPublisher) PublishReservationCompleted(ctx context.Context, reservation *domain.Reservation) error {
	return p.publishEvent(ctx, domain.EventReservationCompleted, reservation, nil)
}

// PublishPaymentEvent publishes a payment related event
func (p *KafkaEventPublisher) PublishPaymentEvent(ctx context.Context, eventType domain.ReservationEventType, reservation *domain.Reservation, metadata map[string]string) error {
	return p.publishEvent(ctx, eventType, reservation, metadata)
}

// Close closes the event publisher
func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		p.producer.Close()
	}
	return nil
}

// publishEvent publishes a reservation event to Kafka
func (p *KafkaEventPublisher) publishEvent(ctx context.Context, eventType domain.ReservationEventType, reservation *domain.Reservation, metadata map[string]string) error {
	eventID := uuid.New().String()
	event := domain.NewReservationEvent(eventType, reservation, eventID)
	event.Metadata = metadata

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := map[string]string{
		"event_type":   string(eventType),
		"event_id":     eventID,
		"source":       p.serviceName,
		"content_type": "application/json",
	}

	msg := &kafka.Message{
		Topic:     p.topic,
		Key:       []byte(event.Key()),
		Value:     value,
		Headers:   headers,
		Timestamp: time.Now(),
	}

	if err := retry.Do(ctx, p.retry, func(ctx context.Context) error {
		return p.producer.Produce(ctx, msg)
	}); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}

	return nil
}

// NoOpEventPublisher is a no-op implementation of EventPublisher for testing
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a new no-op event publisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

// PublishReservationCreated is a no-op
func (p *NoOpEventPublisher) PublishReservationCreated(ctx context.Context, reservation *domain.Reservation) error {
	return nil
}

// PublishReservationConfirmed is a no-op
func (p *NoOpEventPublisher) PublishReservationConfirmed(ctx context.Context, reservation *domain.Reservation) error {
	return nil
}

// PublishReservationCancelled is a no-op
func (p *NoOpEventPublisher) PublishReservationCancelled(ctx context.Context, reservation *domain.Reservation) error {
	return nil
}

// PublishReservationExpired is a no-op
func (p *NoOpEventPublisher) PublishReservationExpired(ctx context.Context, reservation *domain.Reservation) error {
	return nil
}

// PublishReservationCompleted is a no-op
func (p *NoOpEventPublisher) PublishReservationCompleted(ctx context.Context, reservation *domain.Reservation) error {
	return nil
}

// PublishPaymentEvent is a no-op
func (p *NoOpEventPublisher) PublishPaymentEvent(ctx context.Context, eventType domain.ReservationEventType, reservation *domain.Reservation, metadata map[string]string) error {
	return nil
}

// Close is a no-op
func (p *NoOpEventPublisher) Close() error {
	return nil
}
