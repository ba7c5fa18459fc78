package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jia-app/offhireservice/internal/rental/domain"
)

// EventTypeEarlyReturned is published once per processed early return.
const EventTypeEarlyReturned = "rental.early_returned"

// EarlyReturned is the payload of a rental.early_returned event
type EarlyReturned struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	RentalID      string          `json:"rental_id"`
	CustomerID    string          `json:"customer_id"`
	ActualEndDate domain.Date     `json:"actual_end_date"`
	CreditNoteID  string          `json:"credit_note_id"`
	CreditAmount  decimal.Decimal `json:"credit_amount"`
	Currency      string          `json:"currency"`
	RefundID      string          `json:"refund_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Version       int             `json:"version"`
}

// NewEarlyReturned builds the event for a completed early return
func NewEarlyReturned(snapshot domain.RentalSnapshot, result domain.EarlyReturnResult) EarlyReturned {
	event := EarlyReturned{
		ID:            uuid.NewString(),
		Type:          EventTypeEarlyReturned,
		RentalID:      snapshot.RentalID,
		CustomerID:    snapshot.CustomerID,
		ActualEndDate: snapshot.ActualEndDate,
		CreditNoteID:  result.CreditNote.ID,
		CreditAmount:  result.CreditAmount,
		Currency:      result.CreditNote.Currency,
		OccurredAt:    time.Now().UTC(),
		Version:       1,
	}
	if result.Refund != nil {
		event.RefundID = result.Refund.ExternalRefundID
	}
	return event
}

// Publisher publishes rental lifecycle events
type Publisher interface {
	PublishEarlyReturned(ctx context.Context, snapshot domain.RentalSnapshot, result domain.EarlyReturnResult) error
	Close() error
}

// NoopPublisher is a no-operation publisher for testing and development
type NoopPublisher struct{}

// PublishEarlyReturned implements Publisher for NoopPublisher
func (NoopPublisher) PublishEarlyReturned(context.Context, domain.RentalSnapshot, domain.EarlyReturnResult) error {
	return nil
}

// Close implements Publisher for NoopPublisher
func (NoopPublisher) Close() error { return nil }

// NewSaramaConfig returns the producer configuration used by KafkaPublisher
func NewSaramaConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = false
	return cfg
}

// KafkaPublisher publishes events to a Kafka topic, keyed by rental ID
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaPublisher connects a synchronous producer to the given brokers
func NewKafkaPublisher(brokers []string, topic, clientID string, logger *zap.Logger) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic, logger), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// PublishEarlyReturned implements Publisher for KafkaPublisher
func (p *KafkaPublisher) PublishEarlyReturned(ctx context.Context, snapshot domain.RentalSnapshot, result domain.EarlyReturnResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	event := NewEarlyReturned(snapshot, result)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.RentalID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
			{Key: []byte("event_id"), Value: []byte(event.ID)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	p.logger.Info("Published early return event",
		zap.String("topic", p.topic),
		zap.String("event_id", event.ID),
		zap.String("rental_id", event.RentalID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close closes the underlying producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
