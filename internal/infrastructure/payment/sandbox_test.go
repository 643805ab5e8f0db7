package payment

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxHostedSessionRoundTrip(t *testing.T) {
	sb := NewSandbox("whsec", "sk_bank")
	srv := httptest.NewServer(sb)
	defer srv.Close()
	sb.BaseURL = srv.URL

	h := NewHostedSession(HostedSessionConfig{APIBase: srv.URL, SecretKey: "sk", WebhookSecret: "whsec"})
	d := testDraft("GBP")

	first, err := h.Initialize(context.Background(), d)
	require.NoError(t, err)
	again, err := h.Initialize(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, again.SessionID)
	assert.True(t, strings.HasPrefix(first.RedirectURL, srv.URL+"/pay/"))

	for _, outcome := range []SandboxOutcome{SandboxSucceeds, SandboxDeclines} {
		sb.SetOutcome(func() SandboxOutcome { return outcome })
		body, sig, got, err := sb.CompleteHostedSession(first.SessionID)
		require.NoError(t, err)
		assert.Equal(t, outcome, got)

		require.NoError(t, h.VerifyWebhook(sig, body))
		out, err := h.ParseWebhook(body)
		require.NoError(t, err)
		require.NotNil(t, out)
		assert.Equal(t, d.OrderID, out.OrderID)
		assert.True(t, out.Amount.Equal(decimal.RequireFromString("60.00")))
		if outcome == SandboxSucceeds {
			assert.Equal(t, domain.OutcomeSucceeded, out.Status)
		} else {
			assert.Equal(t, domain.OutcomeFailed, out.Status)
		}
	}

	_, _, _, err = sb.CompleteHostedSession("cs_missing")
	assert.Error(t, err)
}

func TestSandboxBankTransferDelayedSettles(t *testing.T) {
	sb := NewSandbox("whsec", "sk_bank")
	srv := httptest.NewServer(sb)
	defer srv.Close()
	sb.BaseURL = srv.URL
	sb.SetOutcome(func() SandboxOutcome { return SandboxDelayed })

	b := NewBankTransfer(BankTransferConfig{APIBase: srv.URL, SecretKey: "sk_bank"})
	res, err := b.Initialize(context.Background(), testDraft("NGN"))
	require.NoError(t, err)

	out, err := b.Verify(context.Background(), res.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePending, out.Status)

	_, err = sb.CompleteBankTransfer(res.Reference)
	require.NoError(t, err)

	out, err = b.Verify(context.Background(), res.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePending, out.Status)

	out, err = b.Verify(context.Background(), res.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSucceeded, out.Status)
	assert.Equal(t, res.AmountMinor, out.AmountMinor)

	body, sig, err := sb.BankWebhook(res.Reference)
	require.NoError(t, err)
	require.NoError(t, b.VerifyWebhook(sig, body))
	hook, err := b.ParseWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSucceeded, hook.Status)

	_, err = b.Verify(context.Background(), "DLX_unknown")
	assert.ErrorIs(t, err, ErrProvider)
}

func TestSandboxBankTransferDecline(t *testing.T) {
	sb := NewSandbox("whsec", "sk_bank")
	srv := httptest.NewServer(sb)
	defer srv.Close()
	sb.SetOutcome(func() SandboxOutcome { return SandboxDeclines })

	b := NewBankTransfer(BankTransferConfig{APIBase: srv.URL, SecretKey: "sk_bank"})
	res, err := b.Initialize(context.Background(), testDraft("NGN"))
	require.NoError(t, err)
	_, err = sb.CompleteBankTransfer(res.Reference)
	require.NoError(t, err)

	body, sig, err := sb.BankWebhook(res.Reference)
	require.NoError(t, err)
	require.NoError(t, b.VerifyWebhook(sig, body))
	out, err := b.ParseWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, out.Status)
	assert.Equal(t, "Declined", out.Reason)
}

func TestRandomOutcomeRange(t *testing.T) {
	seen := map[SandboxOutcome]bool{}
	for i := 0; i < 2000; i++ {
		seen[RandomOutcome()] = true
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, "delayed", SandboxDelayed.String())
}
