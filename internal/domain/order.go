package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderFailed    OrderStatus = "failed"
	OrderCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderFailed, OrderCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderConfirmed, OrderFailed, OrderCancelled:
		return true
	}
	return false
}

// CanTransitionTo allows pending -> any terminal state and nothing else.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == OrderPending && next.IsTerminal()
}

type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "standard"
	ShippingExpress  ShippingMethod = "express"
)

func (m ShippingMethod) Valid() bool {
	return m == ShippingStandard || m == ShippingExpress
}

type Customer struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

func (c Customer) Name() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

type Address struct {
	Line1    string `json:"line1"`
	Line2    string `json:"line2"`
	City     string `json:"city"`
	Postcode string `json:"postcode"`
	Country  string `json:"country"`
}

type Order struct {
	ID             uuid.UUID       `json:"id"`
	Number         string          `json:"orderNumber"`
	UserID         uuid.NullUUID   `json:"userId"`
	Status         OrderStatus     `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	ShippingCost   decimal.Decimal `json:"shippingCost"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	ExchangeRate   decimal.Decimal `json:"exchangeRate"`
	Customer       Customer        `json:"customer"`
	Billing        Address         `json:"billingAddress"`
	Shipping       Address         `json:"shippingAddress"`
	ShippingMethod ShippingMethod  `json:"shippingMethod"`

	// Latest provider session started for this order.
	PaymentProvider     Provider `json:"paymentProvider,omitempty"`
	PaymentReference    string   `json:"paymentReference,omitempty"`
	ProviderAmountMinor int64    `json:"providerAmountMinor,omitempty"`
	ProviderCurrency    string   `json:"providerCurrency,omitempty"`

	Items     []OrderItem `json:"items,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// OrderItem is a price snapshot taken when the order was placed.
type OrderItem struct {
	ID             uuid.UUID       `json:"id"`
	OrderID        uuid.UUID       `json:"orderId"`
	ProductID      string          `json:"productId"`
	ProductName    string          `json:"productName"`
	ProductSlug    string          `json:"productSlug"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	TotalPrice     decimal.Decimal `json:"totalPrice"`
	SelectedLength string          `json:"selectedLength,omitempty"`
	SelectedColor  string          `json:"selectedColor,omitempty"`
}
