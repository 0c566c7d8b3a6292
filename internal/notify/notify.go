// ABOUTME: Fire-and-forget event publishing to RabbitMQ for downstream consumers
// ABOUTME: Routing failures never propagate; a disabled notifier is a no-op

package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Routing keys for conversation lifecycle events
const (
	KeyConversationQueued    = "conversation.queued"
	KeyConversationAssigned  = "conversation.assigned"
	KeyConversationClosed    = "conversation.closed"
	KeyConversationAbandoned = "conversation.abandoned"
)

// Event is the payload published for every lifecycle change
type Event struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	AgentID        string    `json:"agent_id,omitempty"`
	Method         string    `json:"method,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Notifier publishes lifecycle events
type Notifier interface {
	Publish(ctx context.Context, key string, event Event)
	Close() error
}

// NoopNotifier drops every event. Used when event publishing is
// disabled in config.
type NoopNotifier struct{}

func (NoopNotifier) Publish(context.Context, string, Event) {}
func (NoopNotifier) Close() error                           { return nil }

// AMQPNotifier publishes events to a topic exchange
type AMQPNotifier struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger
}

// NewAMQP connects to RabbitMQ and declares the topic exchange
func NewAMQP(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPNotifier{
		conn:     conn,
		exchange: exchange,
		logger:   slog.Default().With("component", "notify"),
	}, nil
}

// Publish sends one event. Conversations route fine without consumers,
// so failures are logged and swallowed.
func (n *AMQPNotifier) Publish(ctx context.Context, key string, event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	ch, err := n.conn.Channel()
	if err != nil {
		n.logger.Warn("channel open failed", "key", key, "error", err)
		return
	}
	defer ch.Close()

	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("event marshal failed", "key", key, "error", err)
		return
	}

	err = ch.PublishWithContext(ctx, n.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
	if err != nil {
		n.logger.Warn("event publish failed", "key", key, "error", err)
		return
	}
	n.logger.Debug("event published", "key", key, "conversation_id", event.ConversationID)
}

// Close closes the connection
func (n *AMQPNotifier) Close() error {
	return n.conn.Close()
}
