package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event names pushed to a recipient's live connections. The "message_*"
// events belong to the system-message view, the "notification_*" events to
// the bell dropdown.
const (
	EventMessageCreated      = "message_created"
	EventMessageRead         = "message_read"
	EventMessageDeleted      = "message_deleted"
	EventNotificationRead    = "notification_read"
	EventNotificationRemoved = "notification_removed"
	EventUnreadCountUpdate   = "unread_count_update"
)

// envelope is the wire format consumed by the websocket gateway. Messages are
// keyed by recipient id so one recipient's events stay on one partition, in
// order.
type envelope struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher pushes typed events to recipients over Kafka
type Publisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewPublisher creates a publisher writing to the given realtime topic
func NewPublisher(brokers []string, topic, clientID string, logger *zap.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		Transport: &kafka.Transport{
			ClientID: clientID,
		},
	}

	return &Publisher{
		writer: writer,
		logger: logger,
	}
}

// Publish sends one event to one recipient's channel
func (p *Publisher) Publish(ctx context.Context, recipientID, event string, payload interface{}) error {
	value, err := json.Marshal(envelope{
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		p.logger.Error("Failed to marshal realtime event",
			zap.String("event", event),
			zap.Error(err))
		return err
	}

	msg := kafka.Message{
		Key:   []byte(recipientID),
		Value: value,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish realtime event",
			zap.String("event", event),
			zap.String("recipient_id", recipientID),
			zap.Error(err))
		return err
	}

	p.logger.Debug("Realtime event published",
		zap.String("event", event),
		zap.String("recipient_id", recipientID))

	return nil
}

// Close flushes and closes the underlying writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}
