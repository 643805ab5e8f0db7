package events

import (
	"context"
	"sync"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ExchangeOrderStatus is the fanout exchange order transitions are published on.
const ExchangeOrderStatus = "order_status_changed"

type OrderStatusChanged struct {
	OrderID       uuid.UUID          `json:"orderId"`
	OrderNumber   string             `json:"orderNumber"`
	From          domain.OrderStatus `json:"from"`
	To            domain.OrderStatus `json:"to"`
	Provider      domain.Provider    `json:"provider,omitempty"`
	TransactionID string             `json:"transactionId,omitempty"`
	OccurredAt    time.Time          `json:"occurredAt"`
}

type Publisher interface {
	PublishStatusChanged(ctx context.Context, evt OrderStatusChanged) error
}

type Handler func(ctx context.Context, evt OrderStatusChanged) error

type NopPublisher struct{}

func (NopPublisher) PublishStatusChanged(context.Context, OrderStatusChanged) error { return nil }

// LocalPublisher delivers events synchronously to in-process subscribers.
// It is used when no broker is configured.
type LocalPublisher struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewLocalPublisher() *LocalPublisher {
	return &LocalPublisher{}
}

func (p *LocalPublisher) Subscribe(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

func (p *LocalPublisher) PublishStatusChanged(ctx context.Context, evt OrderStatusChanged) error {
	p.mu.RLock()
	handlers := append([]Handler(nil), p.handlers...)
	p.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			log.Error().Err(err).Str("order_number", evt.OrderNumber).Msg("order status handler failed")
		}
	}
	return nil
}
