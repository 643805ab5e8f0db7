package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/checkout"
	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const BankSignatureHeader = "X-Bank-Signature"

var bankChannels = []string{"card", "bank", "ussd", "qr", "mobile_money", "bank_transfer"}

// Converter expresses order amounts in the settlement currency.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, base, quote string) (decimal.Decimal, error)
}

type BankTransferConfig struct {
	APIBase   string
	SecretKey string
	Client    *http.Client
	Rates     Converter
}

// BankTransfer settles in NGN minor units. Only a declined transaction fails
// the order; an abandoned one is still open to the customer.
type BankTransfer struct {
	cfg BankTransferConfig
	now func() time.Time
}

func NewBankTransfer(cfg BankTransferConfig) *BankTransfer {
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	cfg.Client = defaultClient(cfg.Client)
	return &BankTransfer{cfg: cfg, now: time.Now}
}

func (b *BankTransfer) Provider() domain.Provider {
	return domain.ProviderBankTransfer
}

// Reference formats the provider transaction reference for an order.
func Reference(orderNumber string, at time.Time) string {
	return fmt.Sprintf("DLX_%s_%d", orderNumber, at.UnixMilli())
}

type bankMetadata struct {
	OrderID      string         `json:"orderId"`
	OrderNumber  string         `json:"orderNumber"`
	CustomerName string         `json:"customerName,omitempty"`
	Items        []bankMetaItem `json:"items,omitempty"`
}

type bankMetaItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

type bankInitRequest struct {
	Email       string       `json:"email"`
	Amount      int64        `json:"amount"`
	Currency    string       `json:"currency"`
	Reference   string       `json:"reference"`
	CallbackURL string       `json:"callback_url"`
	Metadata    bankMetadata `json:"metadata"`
	Channels    []string     `json:"channels"`
}

type bankInitResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

func (b *BankTransfer) Initialize(ctx context.Context, d Draft) (*Initiation, error) {
	currency := checkout.NormalizeCurrency(d.Currency)
	settled := d.Total
	if currency != checkout.RegionalCurrency {
		if b.cfg.Rates == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
		}
		converted, err := b.cfg.Rates.Convert(ctx, d.Total, currency, checkout.RegionalCurrency)
		if err != nil {
			return nil, fmt.Errorf("convert %s to %s: %w", currency, checkout.RegionalCurrency, err)
		}
		settled = converted
	}

	// kobo, half-up on the unrounded conversion
	amount := checkout.MinorUnits(settled)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount", ErrProvider)
	}

	req := bankInitRequest{
		Email:       d.CustomerEmail,
		Amount:      amount,
		Currency:    checkout.RegionalCurrency,
		Reference:   Reference(d.OrderNumber, b.now()),
		CallbackURL: d.Return.Success,
		Metadata: bankMetadata{
			OrderID:      d.OrderID.String(),
			OrderNumber:  d.OrderNumber,
			CustomerName: d.CustomerName,
		},
		Channels: bankChannels,
	}
	for _, it := range d.Items {
		req.Metadata.Items = append(req.Metadata.Items, bankMetaItem{
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    checkout.FormatMajor(it.UnitPrice),
		})
	}

	var resp bankInitResponse
	if err := doJSON(ctx, b.cfg.Client, http.MethodPost, b.cfg.APIBase+"/transaction/initialize", bearer(b.cfg.SecretKey), req, &resp); err != nil {
		return nil, fmt.Errorf("initialize bank transfer: %w", err)
	}
	if !resp.Status || resp.Data.AuthorizationURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrProvider, resp.Message)
	}

	ref := resp.Data.Reference
	if ref == "" {
		ref = req.Reference
	}
	return &Initiation{
		Kind:        KindRedirect,
		Provider:    domain.ProviderBankTransfer,
		RedirectURL: resp.Data.AuthorizationURL,
		SessionID:   resp.Data.AccessCode,
		Reference:   ref,
		AmountMinor: amount,
		Currency:    checkout.RegionalCurrency,
	}, nil
}

type bankTransaction struct {
	Status          string          `json:"status"`
	Reference       string          `json:"reference"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	Channel         string          `json:"channel"`
	GatewayResponse string          `json:"gateway_response"`
	Metadata        json.RawMessage `json:"metadata"`
}

type bankVerifyResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    bankTransaction `json:"data"`
}

// Verify asks the processor for the current state of a transaction.
func (b *BankTransfer) Verify(ctx context.Context, reference string) (*domain.PaymentOutcome, error) {
	var resp bankVerifyResponse
	endpoint := b.cfg.APIBase + "/transaction/verify/" + url.PathEscape(reference)
	if err := doJSON(ctx, b.cfg.Client, http.MethodGet, endpoint, bearer(b.cfg.SecretKey), nil, &resp); err != nil {
		return nil, fmt.Errorf("verify bank transfer %s: %w", reference, err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("%w: %s", ErrProvider, resp.Message)
	}
	return bankOutcome(resp.Data)
}

// VerifyWebhook checks the hex HMAC-SHA512 of the raw body.
func (b *BankTransfer) VerifyWebhook(signature string, body []byte) error {
	if signature == "" || b.cfg.SecretKey == "" {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(SignBankPayload(b.cfg.SecretKey, body))) {
		return ErrInvalidSignature
	}
	return nil
}

func SignBankPayload(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type bankEvent struct {
	Event string          `json:"event"`
	Data  bankTransaction `json:"data"`
}

// ParseWebhook returns nil, nil for events that carry no charge result.
func (b *BankTransfer) ParseWebhook(body []byte) (*domain.PaymentOutcome, error) {
	var ev bankEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode bank event: %w", err)
	}
	switch ev.Event {
	case "charge.success", "charge.failed":
		return bankOutcome(ev.Data)
	}
	return nil, nil
}

func bankOutcome(tx bankTransaction) (*domain.PaymentOutcome, error) {
	var meta bankMetadata
	if len(tx.Metadata) > 0 && string(tx.Metadata) != "null" && string(tx.Metadata) != `""` {
		if err := json.Unmarshal(tx.Metadata, &meta); err != nil {
			return nil, fmt.Errorf("decode transaction metadata: %w", err)
		}
	}

	out := &domain.PaymentOutcome{
		OrderNumber:   meta.OrderNumber,
		Provider:      domain.ProviderBankTransfer,
		Method:        tx.Channel,
		TransactionID: tx.Reference,
		AmountMinor:   tx.Amount,
		Amount:        decimal.New(tx.Amount, -2),
		Currency:      checkout.NormalizeCurrency(tx.Currency),
	}
	if meta.OrderID != "" {
		id, err := uuid.Parse(meta.OrderID)
		if err != nil {
			return nil, fmt.Errorf("transaction metadata orderId: %w", err)
		}
		out.OrderID = id
	}
	if out.Method == "" {
		out.Method = "bank_transfer"
	}

	// "abandoned" is a checkout page the customer opened but has not paid
	// on yet. Like "ongoing" it may still succeed.
	switch tx.Status {
	case "success":
		out.Status = domain.OutcomeSucceeded
	case "failed":
		out.Status = domain.OutcomeFailed
		out.Reason = tx.GatewayResponse
		if out.Reason == "" {
			out.Reason = tx.Status
		}
	default:
		out.Status = domain.OutcomePending
	}
	return out, nil
}
