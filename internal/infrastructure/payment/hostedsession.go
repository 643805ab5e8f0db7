package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/checkout"
	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	HostedSignatureHeader = "Hosted-Signature"
	signatureTolerance    = 5 * time.Minute
)

var hostedCurrencies = []string{"GBP", "USD", "EUR", "CAD", "AUD"}

type HostedSessionConfig struct {
	APIBase       string
	SecretKey     string
	WebhookSecret string
	Client        *http.Client
}

// HostedSession creates checkout sessions on a processor-hosted payment page.
// A failed payment leaves the order pending so the customer can retry.
type HostedSession struct {
	cfg HostedSessionConfig
	now func() time.Time
}

func NewHostedSession(cfg HostedSessionConfig) *HostedSession {
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	cfg.Client = defaultClient(cfg.Client)
	return &HostedSession{cfg: cfg, now: time.Now}
}

func (h *HostedSession) Provider() domain.Provider {
	return domain.ProviderHostedSession
}

type hostedLineItem struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	UnitAmount  string `json:"unit_amount"`
	Quantity    int    `json:"quantity"`
}

type hostedSessionRequest struct {
	Mode              string            `json:"mode"`
	Currency          string            `json:"currency"`
	LineItems         []hostedLineItem  `json:"line_items"`
	AmountTotal       string            `json:"amount_total"`
	SuccessURL        string            `json:"success_url"`
	CancelURL         string            `json:"cancel_url"`
	CustomerEmail     string            `json:"customer_email"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	PaymentIntentData struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"payment_intent_data"`
}

type hostedSessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (h *HostedSession) Initialize(ctx context.Context, d Draft) (*Initiation, error) {
	currency := checkout.NormalizeCurrency(d.Currency)
	if !slices.Contains(hostedCurrencies, currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}

	meta := map[string]string{
		"orderId":     d.OrderID.String(),
		"orderNumber": d.OrderNumber,
	}
	body := hostedSessionRequest{
		Mode:              "payment",
		Currency:          currency,
		AmountTotal:       checkout.FormatMajor(d.Total),
		SuccessURL:        d.Return.Success,
		CancelURL:         d.Return.Cancel,
		CustomerEmail:     d.CustomerEmail,
		ClientReferenceID: d.OrderNumber,
		Metadata:          meta,
	}
	body.PaymentIntentData.Metadata = meta

	for _, it := range d.Items {
		body.LineItems = append(body.LineItems, hostedLineItem{
			Name:        it.Name,
			Description: it.Description,
			UnitAmount:  checkout.FormatMajor(it.UnitPrice),
			Quantity:    it.Quantity,
		})
	}
	if d.Shipping.IsPositive() {
		body.LineItems = append(body.LineItems, hostedLineItem{
			Name:       shippingLabel(d.ShippingMethod),
			UnitAmount: checkout.FormatMajor(d.Shipping),
			Quantity:   1,
		})
	}

	header := bearer(h.cfg.SecretKey)
	// Re-initializing the same order must not open a second session.
	header.Set("Idempotency-Key", d.OrderID.String())

	var resp hostedSessionResponse
	if err := doJSON(ctx, h.cfg.Client, http.MethodPost, h.cfg.APIBase+"/v1/checkout/sessions", header, body, &resp); err != nil {
		return nil, fmt.Errorf("create hosted session: %w", err)
	}
	if resp.URL == "" {
		return nil, fmt.Errorf("%w: hosted session %q has no url", ErrProvider, resp.ID)
	}

	return &Initiation{
		Kind:        KindRedirect,
		Provider:    domain.ProviderHostedSession,
		RedirectURL: resp.URL,
		SessionID:   resp.ID,
		Reference:   resp.ID,
		Currency:    currency,
	}, nil
}

// SignHostedPayload produces a Hosted-Signature header value.
func SignHostedPayload(secret string, body []byte, ts time.Time) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + hostedMAC(secret, t, body)
}

func hostedMAC(secret, t string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(t))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks the signature header against the raw body.
func (h *HostedSession) VerifyWebhook(header string, body []byte) error {
	if h.cfg.WebhookSecret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	age := h.now().Sub(time.Unix(unix, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := hostedMAC(h.cfg.WebhookSecret, ts, body)
	for _, s := range sigs {
		if hmac.Equal([]byte(s), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

type hostedEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type hostedCheckoutSession struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

type hostedPaymentIntent struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	PaymentMethod    string            `json:"payment_method_type"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// ParseWebhook turns a verified event into an outcome. Event types that carry
// no payment result return nil, nil.
func (h *HostedSession) ParseWebhook(body []byte) (*domain.PaymentOutcome, error) {
	var ev hostedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode hosted event: %w", err)
	}

	switch ev.Type {
	case "checkout.session.completed":
		var s hostedCheckoutSession
		if err := json.Unmarshal(ev.Data.Object, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		if s.PaymentStatus != "" && s.PaymentStatus != "paid" {
			return nil, nil
		}
		out, err := hostedOutcome(s.Metadata, s.AmountTotal, s.Currency)
		if err != nil {
			return nil, err
		}
		out.Status = domain.OutcomeSucceeded
		out.Method = "card"
		out.TransactionID = s.PaymentIntent
		if out.TransactionID == "" {
			out.TransactionID = s.ID
		}
		return out, nil

	case "payment_intent.payment_failed":
		var pi hostedPaymentIntent
		if err := json.Unmarshal(ev.Data.Object, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		out, err := hostedOutcome(pi.Metadata, pi.Amount, pi.Currency)
		if err != nil {
			return nil, err
		}
		out.Status = domain.OutcomeFailed
		out.Method = pi.PaymentMethod
		if out.Method == "" {
			out.Method = "card"
		}
		out.TransactionID = pi.ID
		if pi.LastPaymentError != nil {
			out.Reason = pi.LastPaymentError.Message
		}
		return out, nil
	}
	return nil, nil
}

func hostedOutcome(meta map[string]string, amountMinor int64, currency string) (*domain.PaymentOutcome, error) {
	id, err := uuid.Parse(meta["orderId"])
	if err != nil {
		return nil, fmt.Errorf("event metadata has no valid orderId: %w", err)
	}
	return &domain.PaymentOutcome{
		OrderID:     id,
		OrderNumber: meta["orderNumber"],
		Provider:    domain.ProviderHostedSession,
		Amount:      decimal.New(amountMinor, -2),
		Currency:    checkout.NormalizeCurrency(currency),
	}, nil
}
