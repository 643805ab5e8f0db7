package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	declared    []string
	kind        string
	published   []amqp091.Publishing
	bound       [][2]string
	deliveries  chan amqp091.Delivery
	failPublish error
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error {
	f.declared = append(f.declared, name)
	f.kind = kind
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if f.failPublish != nil {
		return f.failPublish
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error {
	f.bound = append(f.bound, [2]string{name, exchange})
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error) {
	return f.deliveries, nil
}

type fakeAck struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAck) Ack(bool) error { a.acked = true; return nil }

func (a *fakeAck) Nack(_ bool, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func sampleEvent() OrderStatusChanged {
	return OrderStatusChanged{
		OrderID:     uuid.New(),
		OrderNumber: "DLX1",
		From:        domain.OrderPending,
		To:          domain.OrderConfirmed,
		Provider:    domain.ProviderHostedSession,
		OccurredAt:  time.Now().UTC(),
	}
}

func TestRabbitPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewRabbitPublisher(ch, ExchangeOrderStatus)
	require.NoError(t, err)
	assert.Equal(t, []string{ExchangeOrderStatus}, ch.declared)
	assert.Equal(t, amqp091.ExchangeFanout, ch.kind)

	evt := sampleEvent()
	require.NoError(t, p.PublishStatusChanged(context.Background(), evt))
	require.Len(t, ch.published, 1)

	msg := ch.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, evt.OrderID.String()+":confirmed", msg.MessageId)

	var got OrderStatusChanged
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, evt.OrderID, got.OrderID)
	assert.Equal(t, domain.OrderConfirmed, got.To)

	ch.failPublish = errors.New("channel closed")
	assert.ErrorContains(t, p.PublishStatusChanged(context.Background(), evt), "channel closed")
}

func TestProcessAcks(t *testing.T) {
	body, err := json.Marshal(sampleEvent())
	require.NoError(t, err)

	ack := &fakeAck{}
	var seen OrderStatusChanged
	process(context.Background(), body, false, ack, func(_ context.Context, evt OrderStatusChanged) error {
		seen = evt
		return nil
	})
	assert.True(t, ack.acked)
	assert.Equal(t, "DLX1", seen.OrderNumber)

	ack = &fakeAck{}
	process(context.Background(), []byte("{"), false, ack, func(context.Context, OrderStatusChanged) error { return nil })
	assert.True(t, ack.nacked)
	assert.False(t, ack.requeue)

	failing := func(context.Context, OrderStatusChanged) error { return errors.New("boom") }
	ack = &fakeAck{}
	process(context.Background(), body, false, ack, failing)
	assert.True(t, ack.requeue)

	ack = &fakeAck{}
	process(context.Background(), body, true, ack, failing)
	assert.True(t, ack.nacked)
	assert.False(t, ack.requeue)
}

func TestSubscribeBindsFanout(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp091.Delivery)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, Subscribe(ctx, ch, ExchangeOrderStatus, "cart_cleanup", func(context.Context, OrderStatusChanged) error { return nil }))
	assert.Equal(t, [][2]string{{"cart_cleanup", ExchangeOrderStatus}}, ch.bound)
	close(ch.deliveries)
}

func TestLocalPublisher(t *testing.T) {
	p := NewLocalPublisher()
	var calls int
	p.Subscribe(func(context.Context, OrderStatusChanged) error { calls++; return errors.New("ignored") })
	p.Subscribe(func(context.Context, OrderStatusChanged) error { calls++; return nil })

	require.NoError(t, p.PublishStatusChanged(context.Background(), sampleEvent()))
	assert.Equal(t, 2, calls)

	assert.NoError(t, NopPublisher{}.PublishStatusChanged(context.Background(), sampleEvent()))
}
