// Package rabbitmq carries task triggers over an AMQP 0-9-1 broker. The
// consumer side bridges deliveries into the same push handling path the HTTP
// route uses.
package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/naka0519/TownReady/internal/config"
	"github.com/naka0519/TownReady/internal/envelope"
	"github.com/naka0519/TownReady/internal/logger"
	"github.com/naka0519/TownReady/internal/transport"
)

// Broker publishes to and consumes from one exchange/queue binding
type Broker struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queue      string
	exchange   string
	routingKey string
}

// NewBroker dials the broker and declares the exchange, queue and binding
func NewBroker(cfg config.RabbitMQConfig) (*Broker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	b := &Broker{
		conn:       conn,
		channel:    ch,
		queue:      cfg.Queue,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
	}
	if err := b.declare(); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) declare() error {
	if err := b.channel.ExchangeDeclare(b.exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", b.exchange, err)
	}
	if _, err := b.channel.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", b.queue, err)
	}
	if err := b.channel.QueueBind(b.queue, b.routingKey, b.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", b.queue, err)
	}
	return nil
}

// Publish implements transport.Publisher
func (b *Broker) Publish(ctx context.Context, msg transport.Message) error {
	pub, err := toPublishing(msg)
	if err != nil {
		return err
	}
	if err := b.channel.PublishWithContext(ctx, b.exchange, b.routingKey, false, false, pub); err != nil {
		return fmt.Errorf("failed to publish %s for job %s: %w", msg.Task, msg.JobID, err)
	}
	return nil
}

// Consume delivers queue messages to deliver until ctx is done. Messages are
// acked after deliver returns, since the push path never fails a delivery.
func (b *Broker) Consume(ctx context.Context, deliver transport.DeliverFunc) error {
	msgs, err := b.channel.ConsumeWithContext(ctx, b.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", b.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("rabbitmq delivery channel closed")
			}
			go func(d amqp.Delivery) {
				deliver(ctx, fromDelivery(d))
				if err := d.Ack(false); err != nil {
					logger.Warnf("failed to ack delivery %s: %v", d.MessageId, err)
				}
			}(d)
		}
	}
}

// Close closes the channel and the connection
func (b *Broker) Close() error {
	if err := b.channel.Close(); err != nil {
		_ = b.conn.Close()
		return err
	}
	return b.conn.Close()
}

func toPublishing(msg transport.Message) (amqp.Publishing, error) {
	body, attrs, err := transport.Encode(msg)
	if err != nil {
		return amqp.Publishing{}, err
	}

	headers := amqp.Table{}
	for k, v := range attrs {
		headers[k] = v
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         msg.Task.String(),
		Headers:      headers,
		Body:         body,
	}, nil
}

func fromDelivery(d amqp.Delivery) envelope.Message {
	attrs := make(map[string]string, len(d.Headers)+1)
	for k, v := range d.Headers {
		attrs[k] = fmt.Sprint(v)
	}
	if _, ok := attrs[envelope.AttrType]; !ok && d.Type != "" {
		attrs[envelope.AttrType] = d.Type
	}

	msg := envelope.NewMessage(d.Body, attrs)
	msg.MessageID = d.MessageId
	return msg
}
