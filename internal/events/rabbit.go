package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Channel is the subset of *amqp091.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

type RabbitPublisher struct {
	ch       Channel
	exchange string
}

// NewRabbitPublisher declares the durable fanout exchange and returns a
// publisher bound to it.
func NewRabbitPublisher(ch Channel, exchange string) (*RabbitPublisher, error) {
	if err := ch.ExchangeDeclare(
		exchange,
		amqp091.ExchangeFanout,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &RabbitPublisher{ch: ch, exchange: exchange}, nil
}

func (p *RabbitPublisher) PublishStatusChanged(ctx context.Context, evt OrderStatusChanged) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		"", // fanout ignores the routing key
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    evt.OrderID.String() + ":" + string(evt.To),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s for %s: %w", evt.To, evt.OrderNumber, err)
	}
	return nil
}

// ConsumerChannel is the subset of *amqp091.Channel a subscriber needs.
type ConsumerChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
}

// Subscribe binds queue to the fanout exchange and runs h for every delivery
// until the delivery channel closes or ctx is done. Messages that fail to
// decode are dropped; handler errors requeue once.
func Subscribe(ctx context.Context, ch ConsumerChannel, exchange, queue string, h Handler) error {
	if err := ch.ExchangeDeclare(exchange, amqp091.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	q, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", q.Name, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					log.Warn().Str("queue", q.Name).Msg("delivery channel closed")
					return
				}
				handleDelivery(ctx, m, h)
			}
		}
	}()

	log.Info().Str("exchange", exchange).Str("queue", q.Name).Msg("subscribed to order status events")
	return nil
}

// Acknowledger is implemented by amqp091.Delivery.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func handleDelivery(ctx context.Context, m amqp091.Delivery, h Handler) {
	process(ctx, m.Body, m.Redelivered, &m, h)
}

func process(ctx context.Context, body []byte, redelivered bool, ack Acknowledger, h Handler) {
	var evt OrderStatusChanged
	if err := json.Unmarshal(body, &evt); err != nil {
		log.Error().Err(err).Msg("drop malformed order status event")
		ack.Nack(false, false)
		return
	}

	if err := h(ctx, evt); err != nil {
		log.Error().Err(err).
			Str("order_number", evt.OrderNumber).
			Bool("redelivered", redelivered).
			Msg("order status event handler failed")
		ack.Nack(false, !redelivered)
		return
	}
	ack.Ack(false)
}
