package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApproval(t *testing.T, outcome SandboxOutcome) (*ApproveCapture, *Sandbox, *atomic.Int32) {
	t.Helper()
	sb := NewSandbox("whsec", "sk_bank")
	sb.SetOutcome(func() SandboxOutcome { return outcome })

	var tokens atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth2/token" {
			tokens.Add(1)
		}
		sb.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	sb.BaseURL = srv.URL

	a := NewApproveCapture(ApproveCaptureConfig{
		APIBase:   srv.URL + "/",
		ClientID:  "client",
		Secret:    "secret",
		BrandName: "Dimplesluxe",
		Client:    srv.Client(),
	})
	return a, sb, &tokens
}

func TestApprovalCaptureFlow(t *testing.T) {
	a, sb, tokens := newTestApproval(t, SandboxSucceeds)
	ctx := context.Background()
	d := testDraft("gbp")

	started, err := a.Initialize(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, KindRedirect, started.Kind)
	assert.Equal(t, domain.ProviderApproveCapture, started.Provider)
	assert.Equal(t, "GBP", started.Currency)
	assert.Equal(t, int64(6000), started.AmountMinor)
	assert.True(t, strings.HasSuffix(started.RedirectURL, "/checkoutnow?token="+started.Reference), started.RedirectURL)

	_, err = a.Capture(ctx, started.Reference)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Contains(t, err.Error(), "ORDER_NOT_APPROVED")

	_, err = sb.ApproveOrder(started.Reference)
	require.NoError(t, err)

	out, err := a.Capture(ctx, started.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSucceeded, out.Status)
	assert.Equal(t, d.OrderID, out.OrderID)
	assert.Equal(t, d.OrderNumber, out.OrderNumber)
	assert.Equal(t, "60.00", out.Amount.StringFixed(2))
	assert.Equal(t, int64(6000), out.AmountMinor)
	assert.Equal(t, "GBP", out.Currency)
	assert.NotEmpty(t, out.TransactionID)

	again, err := a.Capture(ctx, started.Reference)
	require.NoError(t, err)
	assert.Equal(t, out.TransactionID, again.TransactionID)

	assert.Equal(t, int32(1), tokens.Load(), "access token is reused")
}

func TestApprovalAccessTokenRenewsAfterExpiry(t *testing.T) {
	a, _, tokens := newTestApproval(t, SandboxSucceeds)
	ctx := context.Background()

	_, err := a.Initialize(ctx, testDraft("GBP"))
	require.NoError(t, err)
	a.now = func() time.Time { return time.Now().Add(9 * time.Hour) }
	_, err = a.Initialize(ctx, testDraft("GBP"))
	require.NoError(t, err)

	assert.Equal(t, int32(2), tokens.Load())
}

func TestApprovalRejects(t *testing.T) {
	a, _, _ := newTestApproval(t, SandboxSucceeds)

	_, err := a.Initialize(context.Background(), testDraft("NGN"))
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)

	_, err = a.Capture(context.Background(), "")
	assert.ErrorIs(t, err, ErrProvider)

	unconfigured := NewApproveCapture(ApproveCaptureConfig{APIBase: "http://unused"})
	_, err = unconfigured.Initialize(context.Background(), testDraft("GBP"))
	assert.ErrorIs(t, err, ErrProvider)
}

func TestPurchaseUnitBreakdown(t *testing.T) {
	// 20.005 rounds to 20.01, so the lines no longer add up to 60.00
	unit := purchaseUnitFor(testDraft("GBP"), "GBP")
	assert.Equal(t, "60.00", unit.Amount.Value)
	assert.Nil(t, unit.Amount.Breakdown)
	assert.Empty(t, unit.Items)

	d := testDraft("GBP")
	d.Items[0].UnitPrice = decimal.RequireFromString("20.00")
	d.Subtotal = decimal.RequireFromString("55.00")
	d.Total = decimal.RequireFromString("59.99")
	unit = purchaseUnitFor(d, "GBP")
	require.NotNil(t, unit.Amount.Breakdown)
	assert.Equal(t, "55.00", unit.Amount.Breakdown.ItemTotal.Value)
	assert.Equal(t, "4.99", unit.Amount.Breakdown.Shipping.Value)
	require.Len(t, unit.Items, 2)
	assert.Equal(t, "2", unit.Items[0].Quantity)
	assert.Equal(t, d.OrderNumber, unit.ReferenceID)
	assert.Equal(t, d.OrderID.String(), unit.CustomID)
}

func TestCaptureOutcomeStatuses(t *testing.T) {
	d := testDraft("GBP")
	tests := []struct {
		status string
		want   domain.OutcomeStatus
	}{
		{"COMPLETED", domain.OutcomeSucceeded},
		{"DECLINED", domain.OutcomeFailed},
		{"FAILED", domain.OutcomeFailed},
		{"PENDING", domain.OutcomePending},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			unit := capturedUnit{ReferenceID: d.OrderNumber}
			unit.Payments.Captures = []capture{{
				ID:       "CAP1",
				Status:   tt.status,
				Amount:   money{CurrencyCode: "gbp", Value: "59.50"},
				CustomID: d.OrderID.String(),
			}}
			out, err := captureOutcome("ORDER1", &captureResponse{ID: "ORDER1", PurchaseUnits: []capturedUnit{unit}})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status)
			assert.Equal(t, "59.50", out.Amount.StringFixed(2))
			assert.Equal(t, "GBP", out.Currency)
		})
	}

	_, err := captureOutcome("ORDER1", &captureResponse{ID: "ORDER1"})
	assert.ErrorIs(t, err, ErrProvider)
}

func TestApprovalDeclinedCapture(t *testing.T) {
	a, sb, _ := newTestApproval(t, SandboxDeclines)
	ctx := context.Background()

	started, err := a.Initialize(ctx, testDraft("USD"))
	require.NoError(t, err)
	_, err = sb.ApproveOrder(started.Reference)
	require.NoError(t, err)

	out, err := a.Capture(ctx, started.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, out.Status)
	assert.Equal(t, "capture declined", out.Reason)
	assert.Equal(t, "USD", out.Currency)
}
