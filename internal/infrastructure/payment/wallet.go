package payment

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/checkout"
	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/shopspring/decimal"
)

var ErrInvalidValidationURL = errors.New("merchant validation url is not allowed")

var walletCurrencies = []string{"GBP", "USD", "EUR", "CAD", "AUD"}

type WalletConfig struct {
	MerchantID  string
	DisplayName string
	// InitiativeContext is the storefront domain registered with the wallet operator.
	InitiativeContext string
	CountryCode       string
	ProcessorURL      string
	ProcessorKey      string
	AllowedHosts      []string
	Client            *http.Client
}

// Wallet drives the on-device payment sheet. The server validates the
// merchant and charges the authorized token; failures leave the order
// pending so another attempt can be made.
type Wallet struct {
	cfg WalletConfig
}

func NewWallet(cfg WalletConfig) *Wallet {
	if cfg.CountryCode == "" {
		cfg.CountryCode = "GB"
	}
	cfg.Client = defaultClient(cfg.Client)
	return &Wallet{cfg: cfg}
}

// NewMerchantClient returns an HTTP client presenting the merchant identity
// certificate, as the wallet operator requires for validation.
func NewMerchantClient(certFile, keyFile string) (*http.Client, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load merchant certificate: %w", err)
	}
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			},
		},
	}, nil
}

func (w *Wallet) Provider() domain.Provider {
	return domain.ProviderOnDeviceWallet
}

type WalletLineItem struct {
	Label  string `json:"label"`
	Amount string `json:"amount"`
	Type   string `json:"type,omitempty"`
}

type WalletPaymentRequest struct {
	CountryCode          string           `json:"countryCode"`
	CurrencyCode         string           `json:"currencyCode"`
	SupportedNetworks    []string         `json:"supportedNetworks"`
	MerchantCapabilities []string         `json:"merchantCapabilities"`
	Total                WalletLineItem   `json:"total"`
	LineItems            []WalletLineItem `json:"lineItems"`
}

// PaymentRequest builds the sheet shown on the device.
func (w *Wallet) PaymentRequest(d Draft) (*WalletPaymentRequest, error) {
	currency := checkout.NormalizeCurrency(d.Currency)
	if !slices.Contains(walletCurrencies, currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}

	req := &WalletPaymentRequest{
		CountryCode:          w.cfg.CountryCode,
		CurrencyCode:         currency,
		SupportedNetworks:    []string{"visa", "masterCard", "amex"},
		MerchantCapabilities: []string{"supports3DS"},
		Total: WalletLineItem{
			Label:  w.cfg.DisplayName,
			Amount: checkout.FormatMajor(d.Total),
			Type:   "final",
		},
	}
	for _, it := range d.Items {
		req.LineItems = append(req.LineItems, WalletLineItem{
			Label:  it.Name,
			Amount: checkout.FormatMajor(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))),
			Type:   "final",
		})
	}
	if d.Shipping.IsPositive() {
		req.LineItems = append(req.LineItems, WalletLineItem{
			Label:  shippingLabel(d.ShippingMethod),
			Amount: checkout.FormatMajor(d.Shipping),
			Type:   "final",
		})
	}
	return req, nil
}

func (w *Wallet) Initialize(_ context.Context, d Draft) (*Initiation, error) {
	pr, err := w.PaymentRequest(d)
	if err != nil {
		return nil, err
	}
	return &Initiation{
		Kind:           KindOnDevice,
		Provider:       domain.ProviderOnDeviceWallet,
		Currency:       pr.CurrencyCode,
		PaymentRequest: pr,
	}, nil
}

func (w *Wallet) checkValidationURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValidationURL, err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidValidationURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range w.cfg.AllowedHosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: host %q", ErrInvalidValidationURL, host)
}

type merchantValidationRequest struct {
	MerchantIdentifier string `json:"merchantIdentifier"`
	DisplayName        string `json:"displayName"`
	Initiative         string `json:"initiative"`
	InitiativeContext  string `json:"initiativeContext"`
}

// ValidateMerchant forwards the device's one-time validation URL to the
// wallet operator and returns the opaque merchant session.
func (w *Wallet) ValidateMerchant(ctx context.Context, validationURL string) (json.RawMessage, error) {
	u, err := w.checkValidationURL(validationURL)
	if err != nil {
		return nil, err
	}

	req := merchantValidationRequest{
		MerchantIdentifier: w.cfg.MerchantID,
		DisplayName:        w.cfg.DisplayName,
		Initiative:         "web",
		InitiativeContext:  w.cfg.InitiativeContext,
	}
	var session json.RawMessage
	if err := doJSON(ctx, w.cfg.Client, http.MethodPost, u.String(), nil, req, &session); err != nil {
		return nil, fmt.Errorf("validate merchant: %w", err)
	}
	return session, nil
}

type walletChargeRequest struct {
	Amount      string          `json:"amount"`
	Currency    string          `json:"currency"`
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	Token       json.RawMessage `json:"token"`
}

type walletChargeResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Amount         string `json:"amount,omitempty"`
	Currency       string `json:"currency,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// Charge sends the authorized payment token to the processor. A declined
// charge is a failed outcome, not an error.
func (w *Wallet) Charge(ctx context.Context, d Draft, token json.RawMessage) (*domain.PaymentOutcome, error) {
	if w.cfg.ProcessorURL == "" {
		return nil, fmt.Errorf("%w: wallet processor not configured", ErrProvider)
	}
	if len(token) == 0 {
		return nil, fmt.Errorf("%w: empty payment token", ErrProvider)
	}

	currency := checkout.NormalizeCurrency(d.Currency)
	req := walletChargeRequest{
		Amount:      checkout.FormatMajor(d.Total),
		Currency:    currency,
		OrderID:     d.OrderID.String(),
		OrderNumber: d.OrderNumber,
		Token:       token,
	}
	header := bearer(w.cfg.ProcessorKey)
	header.Set("Idempotency-Key", d.OrderID.String()+":"+tokenFingerprint(token))

	var resp walletChargeResponse
	if err := doJSON(ctx, w.cfg.Client, http.MethodPost, w.cfg.ProcessorURL, header, req, &resp); err != nil {
		return nil, fmt.Errorf("charge wallet token: %w", err)
	}

	out := &domain.PaymentOutcome{
		OrderID:       d.OrderID,
		OrderNumber:   d.OrderNumber,
		Provider:      domain.ProviderOnDeviceWallet,
		Method:        "apple_pay",
		TransactionID: resp.ID,
		Amount:        d.Total.Round(2),
		Currency:      currency,
	}
	switch resp.Status {
	case "succeeded":
		// The order is confirmed on what the processor captured.
		amount, err := decimal.NewFromString(resp.Amount)
		if err != nil || resp.Currency == "" {
			return nil, fmt.Errorf("%w: charge %s reply carries no amount", ErrProvider, resp.ID)
		}
		out.Amount = amount
		out.Currency = checkout.NormalizeCurrency(resp.Currency)
		out.Status = domain.OutcomeSucceeded
	case "failed", "declined":
		out.Status = domain.OutcomeFailed
		out.Reason = resp.FailureMessage
	default:
		return nil, fmt.Errorf("%w: unexpected charge status %q", ErrProvider, resp.Status)
	}
	return out, nil
}
