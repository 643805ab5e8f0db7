package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWallet(t *testing.T, outcome SandboxOutcome) (*Wallet, *httptest.Server) {
	t.Helper()
	sb := NewSandbox("whsec", "sk_bank")
	sb.SetOutcome(func() SandboxOutcome { return outcome })
	srv := httptest.NewTLSServer(sb)
	t.Cleanup(srv.Close)

	w := NewWallet(WalletConfig{
		MerchantID:        "merchant.com.dimplesluxe",
		DisplayName:       "Dimplesluxe",
		InitiativeContext: "shop.example",
		ProcessorURL:      srv.URL + "/wallet/charge",
		ProcessorKey:      "pk",
		AllowedHosts:      []string{"127.0.0.1"},
		Client:            srv.Client(),
	})
	return w, srv
}

func TestWalletPaymentRequest(t *testing.T) {
	w := NewWallet(WalletConfig{DisplayName: "Dimplesluxe"})

	res, err := w.Initialize(context.Background(), testDraft("gbp"))
	require.NoError(t, err)
	assert.Equal(t, KindOnDevice, res.Kind)

	pr := res.PaymentRequest
	require.NotNil(t, pr)
	assert.Equal(t, "GBP", pr.CurrencyCode)
	assert.Equal(t, "GB", pr.CountryCode)
	assert.Equal(t, "60.00", pr.Total.Amount)
	assert.Equal(t, "Dimplesluxe", pr.Total.Label)
	require.Len(t, pr.LineItems, 3)
	assert.Equal(t, "40.01", pr.LineItems[0].Amount)
	assert.Equal(t, "4.99", pr.LineItems[2].Amount)

	_, err = w.Initialize(context.Background(), testDraft("NGN"))
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestWalletValidationURLRules(t *testing.T) {
	w := NewWallet(WalletConfig{AllowedHosts: []string{"apple-pay-gateway.apple.com"}})
	ctx := context.Background()

	for _, raw := range []string{
		"http://apple-pay-gateway.apple.com/paymentservices/startSession",
		"https://evil.example/paymentservices/startSession",
		"https://apple-pay-gateway.apple.com.evil.example/x",
		"::not a url",
	} {
		_, err := w.ValidateMerchant(ctx, raw)
		assert.ErrorIs(t, err, ErrInvalidValidationURL, raw)
	}

	_, err := w.checkValidationURL("https://cn-apple-pay-gateway.apple-pay-gateway.apple.com/x")
	assert.NoError(t, err)
}

func TestOnDeviceSessionSuccess(t *testing.T) {
	w, srv := newTestWallet(t, SandboxSucceeds)
	ctx := context.Background()
	sess := w.Begin(testDraft("GBP"))
	assert.Equal(t, AwaitingValidation, sess.State())

	_, err := sess.Authorize(ctx, json.RawMessage(`{"paymentData":"x"}`))
	assert.ErrorIs(t, err, ErrSessionState)

	merchant, err := sess.Validate(ctx, srv.URL+"/wallet/validate")
	require.NoError(t, err)
	assert.Contains(t, string(merchant), "merchantSessionIdentifier")
	assert.Equal(t, AwaitingAuthorization, sess.State())

	out, err := sess.Authorize(ctx, json.RawMessage(`{"paymentData":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSucceeded, out.Status)
	assert.Equal(t, "60.00", out.Amount.StringFixed(2))
	assert.Equal(t, "GBP", out.Currency)
	assert.NotEmpty(t, out.TransactionID)
	assert.Equal(t, Resolved, sess.State())

	res := <-sess.Done()
	assert.Equal(t, domain.OutcomeSucceeded, res.Status)
	assert.False(t, sess.Cancel())
}

func TestOnDeviceSessionDecline(t *testing.T) {
	w, srv := newTestWallet(t, SandboxDeclines)
	ctx := context.Background()
	sess := w.Begin(testDraft("GBP"))

	_, err := sess.Validate(ctx, srv.URL+"/wallet/validate")
	require.NoError(t, err)
	out, err := sess.Authorize(ctx, json.RawMessage(`{"paymentData":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, out.Status)
	assert.Equal(t, "Card declined", out.Reason)

	res := <-sess.Done()
	assert.Equal(t, domain.OutcomeFailed, res.Status)
	assert.NoError(t, res.Err)
}

func TestOnDeviceSessionCancel(t *testing.T) {
	w, srv := newTestWallet(t, SandboxSucceeds)
	sess := w.Begin(testDraft("GBP"))

	_, err := sess.Validate(context.Background(), srv.URL+"/wallet/validate")
	require.NoError(t, err)

	assert.True(t, sess.Cancel())
	assert.False(t, sess.Cancel())

	res := <-sess.Done()
	assert.Equal(t, domain.OutcomeCancelled, res.Status)
	assert.NoError(t, res.Err)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, domain.OutcomeCancelled, res.Outcome.Status)

	_, err = sess.Authorize(context.Background(), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrSessionState)
}

func TestOnDeviceSessionValidationFailureResolves(t *testing.T) {
	w, _ := newTestWallet(t, SandboxSucceeds)
	sess := w.Begin(testDraft("GBP"))

	_, err := sess.Validate(context.Background(), "https://evil.example/validate")
	assert.ErrorIs(t, err, ErrInvalidValidationURL)
	assert.Equal(t, Resolved, sess.State())

	res := <-sess.Done()
	assert.Equal(t, domain.OutcomeFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrInvalidValidationURL)
}

func TestWalletChargeRequiresProcessor(t *testing.T) {
	w := NewWallet(WalletConfig{})
	_, err := w.Charge(context.Background(), testDraft("GBP"), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrProvider)
}

func TestWalletChargeTakesAmountFromProcessor(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		amount   string
		currency string
		err      error
	}{
		{"captured less", `{"id":"ch_1","status":"succeeded","amount":"1.00","currency":"gbp"}`, "1.00", "GBP", nil},
		{"captured in full", `{"id":"ch_2","status":"succeeded","amount":"60.00","currency":"GBP"}`, "60.00", "GBP", nil},
		{"no amount", `{"id":"ch_3","status":"succeeded"}`, "", "", ErrProvider},
		{"declined keeps draft", `{"id":"ch_4","status":"declined","failure_message":"Do not honour"}`, "60.00", "GBP", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.reply))
			}))
			defer srv.Close()

			w := NewWallet(WalletConfig{ProcessorURL: srv.URL, ProcessorKey: "pk"})
			out, err := w.Charge(context.Background(), testDraft("GBP"), json.RawMessage(`{"paymentData":"x"}`))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.amount, out.Amount.StringFixed(2))
			assert.Equal(t, tt.currency, out.Currency)
		})
	}
}
