package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/checkout"
	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrProvider            = errors.New("payment provider error")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrUnsupportedCurrency = errors.New("currency not supported by provider")
)

type Kind string

const (
	KindRedirect Kind = "redirect"
	KindOnDevice Kind = "on_device"
)

type DraftItem struct {
	Name        string
	Description string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// Draft is what an adapter needs to open a provider session. Amounts are in
// the order currency.
type Draft struct {
	OrderID        uuid.UUID
	OrderNumber    string
	CustomerName   string
	CustomerEmail  string
	Currency       string
	Subtotal       decimal.Decimal
	Shipping       decimal.Decimal
	Total          decimal.Decimal
	ShippingMethod domain.ShippingMethod
	Items          []DraftItem
	Return         ReturnURLs
}

type ReturnURLs struct {
	Success string
	Cancel  string
}

// BuildReturnURLs points back at the storefront checkout page. Both URLs carry
// the order id and number so the return can be resolved and resumed.
func BuildReturnURLs(baseURL string, orderID uuid.UUID, orderNumber string) ReturnURLs {
	q := func(flag string) string {
		v := url.Values{}
		v.Set(flag, "true")
		v.Set("orderId", orderID.String())
		v.Set("orderNumber", orderNumber)
		return baseURL + "/checkout?" + v.Encode()
	}
	return ReturnURLs{Success: q("success"), Cancel: q("cancelled")}
}

// NewDraft builds a Draft from a stored order.
func NewDraft(o *domain.Order, baseURL string) Draft {
	d := Draft{
		OrderID:        o.ID,
		OrderNumber:    o.Number,
		CustomerName:   o.Customer.Name(),
		CustomerEmail:  o.Customer.Email,
		Currency:       checkout.NormalizeCurrency(o.Currency),
		Subtotal:       o.Subtotal,
		Shipping:       o.ShippingCost,
		Total:          o.Total,
		ShippingMethod: o.ShippingMethod,
		Return:         BuildReturnURLs(baseURL, o.ID, o.Number),
	}
	for _, it := range o.Items {
		d.Items = append(d.Items, DraftItem{
			Name:      it.ProductName,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		})
	}
	return d
}

func shippingLabel(m domain.ShippingMethod) string {
	if m == domain.ShippingExpress {
		return "Express Delivery"
	}
	return "Standard Delivery"
}

// Initiation tells the client how to continue: follow RedirectURL, or open
// the device payment sheet with PaymentRequest.
type Initiation struct {
	Kind           Kind                  `json:"kind"`
	Provider       domain.Provider       `json:"provider"`
	RedirectURL    string                `json:"redirectUrl,omitempty"`
	SessionID      string                `json:"sessionId,omitempty"`
	Reference      string                `json:"reference,omitempty"`
	AmountMinor    int64                 `json:"amountMinor,omitempty"`
	Currency       string                `json:"currency"`
	PaymentRequest *WalletPaymentRequest `json:"paymentRequest,omitempty"`
}

type Adapter interface {
	Provider() domain.Provider
	Initialize(ctx context.Context, draft Draft) (*Initiation, error)
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// doJSON sends in as JSON and decodes the response into out. Transport
// failures and non-2xx answers are wrapped in ErrProvider.
func doJSON(ctx context.Context, client *http.Client, method, endpoint string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return send(client, req, out)
}

// send performs req and decodes a 2xx JSON answer into out.
func send(client *http.Client, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrProvider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, providerMessage(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}
	return nil
}

func providerMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error.Message != "" {
			return body.Error.Message
		}
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
