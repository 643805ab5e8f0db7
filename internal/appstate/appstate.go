// Package appstate holds the per-visitor checkout context: the cart, the
// display currency and its locked rate, the billing country, whether the
// device offers a wallet, and the selected payment method.
package appstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/checkout"
	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/dejidee0/Dimplesluxe/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const DefaultCountry = "GB"

var ErrInvalidCurrency = errors.New("currency must be a three letter code")

type State struct {
	ID             string                `json:"id"`
	Cart           *domain.Cart          `json:"cart"`
	Currency       string                `json:"currency"`
	ExchangeRate   decimal.Decimal       `json:"exchangeRate"`
	BillingCountry string                `json:"billingCountry"`
	DeviceWallet   bool                  `json:"deviceWallet"`
	PaymentMethod  domain.Provider       `json:"paymentMethod,omitempty"`
	ShippingMethod domain.ShippingMethod `json:"shippingMethod"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

// Totals prices the cart in the session currency.
func (s *State) Totals() checkout.Totals {
	return checkout.ComputeTotals(s.Cart.Items(), s.ShippingMethod, s.ExchangeRate)
}

// Methods lists what the session may pay with. The selection is empty when
// nothing is available.
func (s *State) Methods() checkout.MethodSelection {
	sel, _ := checkout.SelectMethod(s.PaymentMethod, s.Currency, s.BillingCountry, s.DeviceWallet)
	return sel
}

// reselect keeps the chosen method valid after a context change.
func (s *State) reselect() {
	sel, err := checkout.SelectMethod(s.PaymentMethod, s.Currency, s.BillingCountry, s.DeviceWallet)
	if err != nil {
		s.PaymentMethod = ""
		return
	}
	s.PaymentMethod = sel.Selected
}

type RateSource interface {
	GetRate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

type Manager struct {
	store Store
	rates RateSource
	locks *keyedMutex
	now   func() time.Time
}

func NewManager(store Store, rates RateSource) *Manager {
	return &Manager{
		store: store,
		rates: rates,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
}

func (m *Manager) Create(ctx context.Context) (*State, error) {
	st := &State{
		ID:             uuid.NewString(),
		Cart:           domain.NewCart(),
		Currency:       checkout.BaseCurrency,
		ExchangeRate:   decimal.NewFromInt(1),
		BillingCountry: DefaultCountry,
		ShippingMethod: domain.ShippingStandard,
		UpdatedAt:      m.now().UTC(),
	}
	st.reselect()
	if err := m.store.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*State, error) {
	st, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Cart == nil {
		st.Cart = domain.NewCart()
	}
	return st, nil
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

func (m *Manager) update(ctx context.Context, id string, fn func(st *State) error) (*State, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	st, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(st); err != nil {
		return nil, err
	}
	st.UpdatedAt = m.now().UTC()
	if err := m.store.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (m *Manager) AddItem(ctx context.Context, id string, p domain.ProductSnapshot, qty int, length, color string) (*State, error) {
	return m.update(ctx, id, func(st *State) error {
		return st.Cart.Add(p, qty, length, color)
	})
}

// UpdateItem sets a line's quantity; zero removes the line.
func (m *Manager) UpdateItem(ctx context.Context, id, productID string, qty int) (*State, error) {
	return m.update(ctx, id, func(st *State) error {
		st.Cart.UpdateQuantity(productID, qty)
		return nil
	})
}

func (m *Manager) RemoveItem(ctx context.Context, id, productID string) (*State, error) {
	return m.update(ctx, id, func(st *State) error {
		st.Cart.Remove(productID)
		return nil
	})
}

func (m *Manager) ClearCart(ctx context.Context, id string) (*State, error) {
	return m.update(ctx, id, func(st *State) error {
		st.Cart.Clear()
		return nil
	})
}

func (m *Manager) rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	if currency == checkout.BaseCurrency {
		return decimal.NewFromInt(1), nil
	}
	rate, err := m.rates.GetRate(ctx, checkout.BaseCurrency, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate %s->%s: %w", checkout.BaseCurrency, currency, err)
	}
	return rate, nil
}

// SetBillingCountry moves a Nigerian billing address to naira and anything
// else off naira back to the base currency, then reselects the method.
func (m *Manager) SetBillingCountry(ctx context.Context, id, country string) (*State, error) {
	country = checkout.NormalizeCountry(country)
	if country == "" {
		country = DefaultCountry
	}

	var regionalRate decimal.Decimal
	if country == checkout.Region {
		r, err := m.rate(ctx, checkout.RegionalCurrency)
		if err != nil {
			return nil, err
		}
		regionalRate = r
	}

	return m.update(ctx, id, func(st *State) error {
		st.BillingCountry = country
		switch {
		case country == checkout.Region:
			st.Currency = checkout.RegionalCurrency
			st.ExchangeRate = regionalRate
		case st.Currency == checkout.RegionalCurrency:
			st.Currency = checkout.BaseCurrency
			st.ExchangeRate = decimal.NewFromInt(1)
		}
		st.reselect()
		return nil
	})
}

// SetCurrency locks a fresh rate for currency and reselects the method.
func (m *Manager) SetCurrency(ctx context.Context, id, currency string) (*State, error) {
	currency = checkout.NormalizeCurrency(currency)
	if len(currency) != 3 {
		return nil, ErrInvalidCurrency
	}
	rate, err := m.rate(ctx, currency)
	if err != nil {
		return nil, err
	}

	return m.update(ctx, id, func(st *State) error {
		st.Currency = currency
		st.ExchangeRate = rate
		st.reselect()
		return nil
	})
}

func (m *Manager) SetDeviceWallet(ctx context.Context, id string, available bool) (*State, error) {
	return m.update(ctx, id, func(st *State) error {
		st.DeviceWallet = available
		st.reselect()
		return nil
	})
}

func (m *Manager) SetShippingMethod(ctx context.Context, id string, method domain.ShippingMethod) (*State, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("unknown shipping method %q", method)
	}
	return m.update(ctx, id, func(st *State) error {
		st.ShippingMethod = method
		return nil
	})
}

// SelectMethod records an explicit choice. It fails with
// checkout.ErrMethodUnavailable when the method does not apply.
func (m *Manager) SelectMethod(ctx context.Context, id string, provider domain.Provider) (*State, error) {
	return m.update(ctx, id, func(st *State) error {
		if !checkout.IsAvailable(provider, st.Currency, st.BillingCountry, st.DeviceWallet) {
			return fmt.Errorf("%w: %s", checkout.ErrMethodUnavailable, provider)
		}
		st.PaymentMethod = provider
		return nil
	})
}

// TrackOrder remembers which session placed an order.
func (m *Manager) TrackOrder(ctx context.Context, sessionID string, orderID uuid.UUID) error {
	return m.store.LinkOrder(ctx, orderID, sessionID)
}

// OnStatusChanged clears the cart of the session that placed a confirmed
// order. Orders placed without a session are skipped.
func (m *Manager) OnStatusChanged(ctx context.Context, evt events.OrderStatusChanged) error {
	if evt.To != domain.OrderConfirmed {
		return nil
	}

	sessionID, err := m.store.SessionForOrder(ctx, evt.OrderID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = m.ClearCart(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	log.Info().Str("order_number", evt.OrderNumber).Str("session_id", sessionID).Msg("cart cleared after confirmation")
	return nil
}
