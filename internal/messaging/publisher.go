package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"restaurant-system/internal/logger"
	"restaurant-system/internal/models"
)

const headerRequestID = "request_id"

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn    *Connection
	logger  *logger.Logger
	timeout time.Duration
}

// NewPublisher creates a new message publisher
func NewPublisher(conn *Connection, log *logger.Logger) *Publisher {
	return &Publisher{
		conn:    conn,
		logger:  log,
		timeout: 10 * time.Second,
	}
}

// PublishOrderEvent publishes a committed order change to the order events exchange
func (p *Publisher) PublishOrderEvent(ctx context.Context, event *models.OrderEventMessage) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.publishMessage(ctx, ExchangeOrderEvents, string(event.Type), newPublishing(body, event.OrderID, logger.RequestIDFromContext(ctx)))
}

// newPublishing builds a persistent JSON message carrying the request id of the change
func newPublishing(body []byte, orderID, requestID string) amqp091.Publishing {
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    orderID,
	}
	if requestID != "" {
		publishing.Headers = amqp091.Table{headerRequestID: requestID}
	}
	return publishing
}

func (p *Publisher) publishMessage(ctx context.Context, exchange, routingKey string, publishing amqp091.Publishing) error {
	requestID := logger.RequestIDFromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	channel, err := p.conn.Channel(ctx)
	if err != nil {
		return err
	}

	err = channel.PublishWithContext(
		ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		publishing,
	)
	if err != nil {
		p.logger.Error("message_publish_failed",
			fmt.Sprintf("Failed to publish message to exchange %s", exchange),
			requestID, err, map[string]interface{}{
				"exchange":    exchange,
				"routing_key": routingKey,
			})
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("message_published",
		fmt.Sprintf("Published message to exchange %s", exchange),
		requestID, map[string]interface{}{
			"exchange":     exchange,
			"routing_key":  routingKey,
			"message_size": len(publishing.Body),
		})

	return nil
}
