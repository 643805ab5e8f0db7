package payment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/checkout"
	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// RequestIDHeader makes order creation and capture idempotent.
	RequestIDHeader = "PayPal-Request-Id"
	// tokenLeeway renews the access token before the account server expires it.
	tokenLeeway = time.Minute
)

var approveCurrencies = []string{"GBP", "USD", "EUR", "CAD", "AUD"}

type ApproveCaptureConfig struct {
	APIBase   string
	ClientID  string
	Secret    string
	BrandName string
	Client    *http.Client
}

// ApproveCapture sends the customer to approve the payment in their account,
// then captures it when they return. A failed capture leaves the order
// pending so the customer can approve again.
type ApproveCapture struct {
	cfg ApproveCaptureConfig
	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewApproveCapture(cfg ApproveCaptureConfig) *ApproveCapture {
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	cfg.Client = defaultClient(cfg.Client)
	return &ApproveCapture{cfg: cfg, now: time.Now}
}

func (a *ApproveCapture) Provider() domain.Provider {
	return domain.ProviderApproveCapture
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// accessToken returns a cached client-credentials token, fetching a new one
// when it is missing or about to expire.
func (a *ApproveCapture) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && a.now().Before(a.expires) {
		return a.token, nil
	}
	if a.cfg.ClientID == "" || a.cfg.Secret == "" {
		return "", fmt.Errorf("%w: approve-capture credentials not configured", ErrProvider)
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIBase+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.cfg.ClientID, a.cfg.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp accessTokenResponse
	if err := send(a.cfg.Client, req, &resp); err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrProvider)
	}
	a.token = resp.AccessToken
	a.expires = a.now().Add(time.Duration(resp.ExpiresIn)*time.Second - tokenLeeway)
	return a.token, nil
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type amountBreakdown struct {
	ItemTotal money `json:"item_total"`
	Shipping  money `json:"shipping"`
}

type unitAmount struct {
	CurrencyCode string           `json:"currency_code"`
	Value        string           `json:"value"`
	Breakdown    *amountBreakdown `json:"breakdown,omitempty"`
}

type unitItem struct {
	Name       string `json:"name"`
	UnitAmount money  `json:"unit_amount"`
	Quantity   string `json:"quantity"`
}

type purchaseUnit struct {
	ReferenceID string     `json:"reference_id"`
	CustomID    string     `json:"custom_id"`
	Amount      unitAmount `json:"amount"`
	Items       []unitItem `json:"items,omitempty"`
}

type applicationContext struct {
	BrandName          string `json:"brand_name,omitempty"`
	ShippingPreference string `json:"shipping_preference"`
	UserAction         string `json:"user_action"`
	ReturnURL          string `json:"return_url"`
	CancelURL          string `json:"cancel_url"`
}

type createOrderRequest struct {
	Intent             string             `json:"intent"`
	PurchaseUnits      []purchaseUnit     `json:"purchase_units"`
	ApplicationContext applicationContext `json:"application_context"`
}

type link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

type createOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []link `json:"links"`
}

// purchaseUnitFor itemizes the draft when the rounded lines add up to the
// total; otherwise only the total is sent, since the account server rejects
// a breakdown that does not add up.
func purchaseUnitFor(d Draft, currency string) purchaseUnit {
	total := d.Total.Round(2)
	unit := purchaseUnit{
		ReferenceID: d.OrderNumber,
		CustomID:    d.OrderID.String(),
		Amount:      unitAmount{CurrencyCode: currency, Value: checkout.FormatMajor(total)},
	}

	itemTotal := decimal.Zero
	items := make([]unitItem, 0, len(d.Items))
	for _, it := range d.Items {
		price := it.UnitPrice.Round(2)
		itemTotal = itemTotal.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		items = append(items, unitItem{
			Name:       it.Name,
			UnitAmount: money{CurrencyCode: currency, Value: checkout.FormatMajor(price)},
			Quantity:   fmt.Sprint(it.Quantity),
		})
	}
	shipping := d.Shipping.Round(2)
	if len(items) == 0 || !itemTotal.Add(shipping).Equal(total) {
		return unit
	}
	unit.Items = items
	unit.Amount.Breakdown = &amountBreakdown{
		ItemTotal: money{CurrencyCode: currency, Value: checkout.FormatMajor(itemTotal)},
		Shipping:  money{CurrencyCode: currency, Value: checkout.FormatMajor(shipping)},
	}
	return unit
}

func (a *ApproveCapture) Initialize(ctx context.Context, d Draft) (*Initiation, error) {
	currency := checkout.NormalizeCurrency(d.Currency)
	if !slices.Contains(approveCurrencies, currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	body := createOrderRequest{
		Intent:        "CAPTURE",
		PurchaseUnits: []purchaseUnit{purchaseUnitFor(d, currency)},
		ApplicationContext: applicationContext{
			BrandName:          a.cfg.BrandName,
			ShippingPreference: "NO_SHIPPING",
			UserAction:         "PAY_NOW",
			ReturnURL:          d.Return.Success,
			CancelURL:          d.Return.Cancel,
		},
	}
	header := bearer(token)
	// A fresh id per attempt: a re-initialized order gets a new approval.
	header.Set(RequestIDHeader, d.OrderID.String()+":"+uuid.NewString())

	var resp createOrderResponse
	if err := doJSON(ctx, a.cfg.Client, http.MethodPost, a.cfg.APIBase+"/v2/checkout/orders", header, body, &resp); err != nil {
		return nil, fmt.Errorf("create approval order: %w", err)
	}
	approve := approveLink(resp.Links)
	if resp.ID == "" || approve == "" {
		return nil, fmt.Errorf("%w: approval order %q has no approve link", ErrProvider, resp.ID)
	}

	return &Initiation{
		Kind:        KindRedirect,
		Provider:    domain.ProviderApproveCapture,
		RedirectURL: approve,
		Reference:   resp.ID,
		AmountMinor: checkout.MinorUnits(d.Total),
		Currency:    currency,
	}, nil
}

func approveLink(links []link) string {
	for _, l := range links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

type capture struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   money  `json:"amount"`
	CustomID string `json:"custom_id"`
}

type capturedUnit struct {
	ReferenceID string `json:"reference_id"`
	CustomID    string `json:"custom_id"`
	Payments    struct {
		Captures []capture `json:"captures"`
	} `json:"payments"`
}

type captureResponse struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []capturedUnit `json:"purchase_units"`
}

// Capture settles an approved order. The request id is derived from the
// reference, so a repeated return replays the first capture's answer.
func (a *ApproveCapture) Capture(ctx context.Context, reference string) (*domain.PaymentOutcome, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: empty approval reference", ErrProvider)
	}
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	header := bearer(token)
	header.Set(RequestIDHeader, "capture:"+reference)

	endpoint := a.cfg.APIBase + "/v2/checkout/orders/" + url.PathEscape(reference) + "/capture"
	var resp captureResponse
	if err := doJSON(ctx, a.cfg.Client, http.MethodPost, endpoint, header, struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("capture approval %s: %w", reference, err)
	}
	return captureOutcome(reference, &resp)
}

func captureOutcome(reference string, resp *captureResponse) (*domain.PaymentOutcome, error) {
	if len(resp.PurchaseUnits) == 0 || len(resp.PurchaseUnits[0].Payments.Captures) == 0 {
		return nil, fmt.Errorf("%w: approval %s has no capture", ErrProvider, reference)
	}
	unit := resp.PurchaseUnits[0]
	c := unit.Payments.Captures[0]

	customID := c.CustomID
	if customID == "" {
		customID = unit.CustomID
	}
	orderID, err := uuid.Parse(customID)
	if err != nil {
		return nil, fmt.Errorf("%w: approval %s carries no order id", ErrProvider, reference)
	}
	amount, err := decimal.NewFromString(c.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: capture %s amount %q", ErrProvider, c.ID, c.Amount.Value)
	}

	out := &domain.PaymentOutcome{
		OrderID:       orderID,
		OrderNumber:   unit.ReferenceID,
		Provider:      domain.ProviderApproveCapture,
		Method:        "paypal",
		TransactionID: c.ID,
		Amount:        amount,
		AmountMinor:   checkout.MinorUnits(amount),
		Currency:      checkout.NormalizeCurrency(c.Amount.CurrencyCode),
	}
	switch c.Status {
	case "COMPLETED":
		out.Status = domain.OutcomeSucceeded
	case "DECLINED", "FAILED":
		out.Status = domain.OutcomeFailed
		out.Reason = "capture " + strings.ToLower(c.Status)
	default:
		// PENDING settles later on the account server.
		out.Status = domain.OutcomePending
	}
	return out, nil
}
