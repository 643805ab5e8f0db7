package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Provider string

const (
	ProviderHostedSession  Provider = "hosted-session"
	ProviderApproveCapture Provider = "approve-capture"
	ProviderBankTransfer   Provider = "bank-transfer"
	ProviderOnDeviceWallet Provider = "on-device-wallet"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderHostedSession, ProviderApproveCapture, ProviderBankTransfer, ProviderOnDeviceWallet:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

type Payment struct {
	ID            uuid.UUID       `json:"id"`
	OrderID       uuid.UUID       `json:"orderId"`
	Provider      Provider        `json:"provider"`
	Method        string          `json:"method"`
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        PaymentStatus   `json:"status"`
	FailureReason string          `json:"failureReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeCancelled OutcomeStatus = "cancelled"
	// OutcomePending is a provider answer that is not final yet.
	OutcomePending OutcomeStatus = "pending"
)

// PaymentOutcome is a provider result normalised for the reconciler.
// Amount is in major units of Currency; AmountMinor is only set by providers
// that settle in minor units.
type PaymentOutcome struct {
	OrderID       uuid.UUID
	OrderNumber   string
	Provider      Provider
	Method        string
	TransactionID string
	Amount        decimal.Decimal
	AmountMinor   int64
	Currency      string
	Status        OutcomeStatus
	Reason        string
}
