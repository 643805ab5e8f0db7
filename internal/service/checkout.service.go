package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/checkout"
	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/dejidee0/Dimplesluxe/internal/repo"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// RateSource locks the exchange rate an order is priced with.
type RateSource interface {
	GetRate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

type CheckoutRequest struct {
	UserID   uuid.NullUUID
	Lines    []domain.CartLine
	Form     checkout.Form
	Currency string
	// Rate is the base->Currency rate the customer was shown. Zero uses the
	// current one.
	Rate decimal.Decimal
}

// OrderDetails is an order with its items and payment attempts.
type OrderDetails struct {
	Order    *domain.Order    `json:"order"`
	Payments []domain.Payment `json:"payments"`
	// WhatsAppLink opens a delivery confirmation chat with the shop. Empty
	// when no shop number is configured or the order failed.
	WhatsAppLink string `json:"whatsappLink,omitempty"`
}

type CheckoutService interface {
	PlaceOrder(ctx context.Context, req CheckoutRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, filter repo.OrderFilter) (*OrderDetails, error)
}

type checkoutService struct {
	db          *sql.DB
	orderRepo   repo.OrderRepo
	paymentRepo repo.PaymentRepo
	rates       RateSource
	whatsapp    string
	now         func() time.Time
}

func NewCheckoutService(
	db *sql.DB,
	orderRepo repo.OrderRepo,
	paymentRepo repo.PaymentRepo,
	rates RateSource,
	whatsappNumber string,
) CheckoutService {
	return &checkoutService{
		db:          db,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		rates:       rates,
		whatsapp:    whatsappNumber,
		now:         time.Now,
	}
}

// NewOrderNumber returns DLX followed by the unix milliseconds and four
// random digits.
func NewOrderNumber(at time.Time) string {
	return fmt.Sprintf("DLX%d%04d", at.UnixMilli(), rand.IntN(10000))
}

// maxRateDrift bounds how far a rate shown to the customer may be from the
// current rate before the order is refused.
var maxRateDrift = decimal.RequireFromString("0.02")

// lockRate keeps the rate the customer was shown while it stays within
// maxRateDrift of the current rate.
func (s *checkoutService) lockRate(ctx context.Context, currency string, shown decimal.Decimal) (decimal.Decimal, error) {
	if currency == checkout.BaseCurrency {
		return decimal.NewFromInt(1), nil
	}
	current, err := s.rates.GetRate(ctx, checkout.BaseCurrency, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock exchange rate %s->%s: %w", checkout.BaseCurrency, currency, err)
	}
	if !current.IsPositive() {
		return decimal.Zero, fmt.Errorf("lock exchange rate %s->%s: non-positive rate %s", checkout.BaseCurrency, currency, current)
	}
	if !shown.IsPositive() {
		return current, nil
	}
	if shown.Sub(current).Abs().Div(current).GreaterThan(maxRateDrift) {
		return decimal.Zero, fmt.Errorf("%w: shown %s, current %s for %s", ErrStaleRate, shown, current, currency)
	}
	return shown, nil
}

func (s *checkoutService) PlaceOrder(ctx context.Context, req CheckoutRequest) (*domain.Order, error) {
	if len(req.Lines) == 0 {
		return nil, checkout.ErrEmptyCart
	}
	for _, l := range req.Lines {
		if l.Quantity < 1 {
			return nil, fmt.Errorf("%s: %w", l.Product.ID, domain.ErrInvalidQuantity)
		}
	}

	form := req.Form
	if form.ShippingMethod == "" {
		form.ShippingMethod = domain.ShippingStandard
	}
	if err := form.Validate(); err != nil {
		return nil, err
	}

	currency := checkout.NormalizeCurrency(req.Currency)
	if currency == "" {
		currency = checkout.BaseCurrency
	}
	rate, err := s.lockRate(ctx, currency, req.Rate)
	if err != nil {
		return nil, err
	}

	totals := checkout.ComputeTotals(req.Lines, form.ShippingMethod, rate)
	if !totals.Total.IsPositive() {
		return nil, checkout.ErrInvalidTotal
	}

	billing := form.Billing
	billing.Country = checkout.NormalizeCountry(billing.Country)
	shipping := form.ShippingAddress()
	shipping.Country = checkout.NormalizeCountry(shipping.Country)

	now := s.now().UTC()
	order := &domain.Order{
		ID:             uuid.New(),
		Number:         NewOrderNumber(now),
		UserID:         req.UserID,
		Status:         domain.OrderPending,
		Subtotal:       totals.Subtotal,
		ShippingCost:   totals.Shipping,
		Total:          totals.Total,
		Currency:       currency,
		ExchangeRate:   rate,
		Customer:       form.Customer,
		Billing:        billing,
		Shipping:       shipping,
		ShippingMethod: form.ShippingMethod,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	items := totals.Items
	for i := range items {
		items[i].ID = uuid.New()
		items[i].OrderID = order.ID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.orderRepo.CreateOrder(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	// Items share the transaction: a failed insert leaves no item-less order.
	if err := s.orderRepo.CreateOrderItems(ctx, tx, order.ID, items); err != nil {
		return nil, fmt.Errorf("create order items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	order.Items = items
	log.Info().
		Str("order_number", order.Number).
		Str("currency", order.Currency).
		Str("total", checkout.FormatMajor(order.Total)).
		Int("items", len(items)).
		Msg("order placed")
	return order, nil
}

func (s *checkoutService) GetOrder(ctx context.Context, filter repo.OrderFilter) (*OrderDetails, error) {
	order, err := s.orderRepo.FindOne(ctx, nil, filter)
	if err != nil {
		if errors.Is(err, repo.ErrEmptyFilter) {
			return nil, fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		}
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	if order.Items, err = s.orderRepo.FindItems(ctx, nil, order.ID); err != nil {
		return nil, err
	}
	payments, err := s.paymentRepo.FindByOrder(ctx, nil, order.ID)
	if err != nil {
		return nil, err
	}
	d := &OrderDetails{Order: order, Payments: payments}
	if order.Status == domain.OrderPending || order.Status == domain.OrderConfirmed {
		d.WhatsAppLink = checkout.WhatsAppLink(s.whatsapp, order)
	}
	return d, nil
}
