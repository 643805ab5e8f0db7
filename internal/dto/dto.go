package dto

import (
	"encoding/json"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/appstate"
	"github.com/dejidee0/Dimplesluxe/internal/checkout"
	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/shopspring/decimal"
)

type ProductDTO struct {
	ID          string          `json:"id" binding:"required"`
	Name        string          `json:"name" binding:"required"`
	Slug        string          `json:"slug"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

func (p ProductDTO) Snapshot() domain.ProductSnapshot {
	return domain.ProductSnapshot{
		ID:          p.ID,
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		Price:       p.Price,
	}
}

type CartLineDTO struct {
	Product  ProductDTO `json:"product" binding:"required"`
	Quantity int        `json:"quantity" binding:"required,min=1"`
	Length   string     `json:"selectedLength"`
	Color    string     `json:"selectedColor"`
}

func (l CartLineDTO) Line() domain.CartLine {
	return domain.CartLine{
		Product:  l.Product.Snapshot(),
		Quantity: l.Quantity,
		Length:   l.Length,
		Color:    l.Color,
	}
}

// AddItemRequest is the body of POST /sessions/:sessionId/cart.
type AddItemRequest = CartLineDTO

type UpdateItemRequest struct {
	Quantity int `json:"quantity" binding:"min=0"`
}

// SessionContextRequest changes only the fields that are present.
type SessionContextRequest struct {
	Currency       *string                `json:"currency"`
	BillingCountry *string                `json:"billingCountry"`
	DeviceWallet   *bool                  `json:"deviceWallet"`
	PaymentMethod  *domain.Provider       `json:"paymentMethod"`
	ShippingMethod *domain.ShippingMethod `json:"shippingMethod"`
}

type TotalsResponse struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

type SessionResponse struct {
	ID             string                   `json:"id"`
	Items          []domain.CartLine        `json:"items"`
	ItemCount      int                      `json:"itemCount"`
	Currency       string                   `json:"currency"`
	ExchangeRate   decimal.Decimal          `json:"exchangeRate"`
	BillingCountry string                   `json:"billingCountry"`
	DeviceWallet   bool                     `json:"deviceWallet"`
	ShippingMethod domain.ShippingMethod    `json:"shippingMethod"`
	Payment        checkout.MethodSelection `json:"payment"`
	Totals         TotalsResponse           `json:"totals"`
	UpdatedAt      time.Time                `json:"updatedAt"`
}

func NewSessionResponse(st *appstate.State) SessionResponse {
	totals := st.Totals()
	return SessionResponse{
		ID:             st.ID,
		Items:          st.Cart.Items(),
		ItemCount:      st.Cart.ItemCount(),
		Currency:       st.Currency,
		ExchangeRate:   st.ExchangeRate,
		BillingCountry: st.BillingCountry,
		DeviceWallet:   st.DeviceWallet,
		ShippingMethod: st.ShippingMethod,
		Payment:        st.Methods(),
		Totals: TotalsResponse{
			Subtotal: totals.Subtotal,
			Shipping: totals.Shipping,
			Total:    totals.Total,
		},
		UpdatedAt: st.UpdatedAt,
	}
}

// PlaceOrderRequest takes its cart from SessionID when set and from Items
// otherwise.
type PlaceOrderRequest struct {
	SessionID      string                `json:"sessionId"`
	Items          []CartLineDTO         `json:"items" binding:"omitempty,dive"`
	Currency       string                `json:"currency"`
	ExchangeRate   decimal.Decimal       `json:"exchangeRate"`
	Customer       domain.Customer       `json:"customer"`
	Billing        domain.Address        `json:"billingAddress"`
	Shipping       domain.Address        `json:"shippingAddress"`
	SameAsBilling  bool                  `json:"sameAsBilling"`
	ShippingMethod domain.ShippingMethod `json:"shippingMethod"`
}

func (r PlaceOrderRequest) Form() checkout.Form {
	return checkout.Form{
		Customer:       r.Customer,
		Billing:        r.Billing,
		Shipping:       r.Shipping,
		SameAsBilling:  r.SameAsBilling,
		ShippingMethod: r.ShippingMethod,
	}
}

func (r PlaceOrderRequest) Lines() []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(r.Items))
	for _, it := range r.Items {
		lines = append(lines, it.Line())
	}
	return lines
}

type InitializePaymentRequest struct {
	OrderID      string          `json:"orderId" binding:"required,uuid"`
	Provider     domain.Provider `json:"provider" binding:"required"`
	DeviceWallet bool            `json:"deviceWallet"`
}

type WalletSessionRequest struct {
	OrderID string `json:"orderId" binding:"required,uuid"`
}

type WalletValidateRequest struct {
	ValidationURL string `json:"validationURL" binding:"required"`
}

type WalletAuthorizeRequest struct {
	Token json.RawMessage `json:"token" binding:"required"`
}

type ReturnQuery struct {
	OrderID     string `form:"orderId"`
	OrderNumber string `form:"orderNumber"`
	Success     bool   `form:"success"`
	Cancelled   bool   `form:"cancelled"`
	// token is appended by the approve-capture account server.
	Token string `form:"token"`
}

type WebhookResponse struct {
	Received bool   `json:"received"`
	Result   string `json:"result"`
}
