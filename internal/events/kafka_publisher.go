package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"paygate/internal/models"
	"paygate/pkg/logger"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// PaymentEvent is published whenever a payment changes status.
type PaymentEvent struct {
	EventID       string    `json:"eventId"`
	PaymentID     string    `json:"paymentId"`
	OrderID       uint      `json:"orderId"`
	UserID        uint      `json:"userId"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Method        string    `json:"paymentMethod"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transactionId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer       messageWriter
	topic        string
	writeTimeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string, writeTimeout time.Duration) *KafkaPublisher {
	return newKafkaPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, topic, writeTimeout)
}

func newKafkaPublisher(w messageWriter, topic string, writeTimeout time.Duration) *KafkaPublisher {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &KafkaPublisher{writer: w, topic: topic, writeTimeout: writeTimeout}
}

// PaymentStatusChanged publishes p's current state keyed by its correlation
// key, so all events of one payment land on the same partition.
func (k *KafkaPublisher) PaymentStatusChanged(ctx context.Context, p *models.Payment) error {
	event := PaymentEvent{
		EventID:       uuid.NewString(),
		PaymentID:     p.PaymentID,
		OrderID:       p.OrderID,
		UserID:        p.UserID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Method:        p.PaymentMethod,
		Status:        p.Status,
		TransactionID: p.TxnID(),
		OccurredAt:    time.Now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, k.writeTimeout)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(p.PaymentID),
		Value: value,
		Time:  event.OccurredAt,
	}); err != nil {
		return fmt.Errorf("events: publish %s to %s: %w", p.PaymentID, k.topic, err)
	}
	logger.SW("payment_id", p.PaymentID, "status", p.Status, "event_id", event.EventID).Debugw("payment_event_published")
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
