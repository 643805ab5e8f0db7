package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrSessionState  = errors.New("wallet session is not in the expected state")
	ErrUserCancelled = errors.New("payment cancelled by user")
)

type SessionState string

const (
	AwaitingValidation    SessionState = "awaiting_validation"
	AwaitingAuthorization SessionState = "awaiting_authorization"
	Resolved              SessionState = "resolved"
)

// WalletResult is the single terminal result of a device session.
type WalletResult struct {
	Status  domain.OutcomeStatus
	Outcome *domain.PaymentOutcome
	Err     error
}

// OnDeviceSession models the device payment sheet as
// awaiting-validation -> awaiting-authorization -> resolved. Exactly one
// result is delivered on Done.
type OnDeviceSession struct {
	ID    string
	Draft Draft

	wallet *Wallet
	mu     sync.Mutex
	state  SessionState
	done   chan WalletResult
}

// Begin opens a session for the draft.
func (w *Wallet) Begin(d Draft) *OnDeviceSession {
	return &OnDeviceSession{
		ID:     uuid.NewString(),
		Draft:  d,
		wallet: w,
		state:  AwaitingValidation,
		done:   make(chan WalletResult, 1),
	}
}

func (s *OnDeviceSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done delivers the session result once it is resolved.
func (s *OnDeviceSession) Done() <-chan WalletResult {
	return s.done
}

// resolve must be called with mu held.
func (s *OnDeviceSession) resolve(r WalletResult) {
	s.state = Resolved
	s.done <- r
	close(s.done)
}

// Validate performs merchant validation. A failure aborts the session.
func (s *OnDeviceSession) Validate(ctx context.Context, validationURL string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != AwaitingValidation {
		return nil, fmt.Errorf("%w: %s", ErrSessionState, s.state)
	}

	session, err := s.wallet.ValidateMerchant(ctx, validationURL)
	if err != nil {
		s.resolve(WalletResult{Status: domain.OutcomeFailed, Err: err})
		return nil, err
	}
	s.state = AwaitingAuthorization
	return session, nil
}

// Authorize charges the token produced by the device. Declines resolve the
// session with a failed outcome and no error.
func (s *OnDeviceSession) Authorize(ctx context.Context, token json.RawMessage) (*domain.PaymentOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != AwaitingAuthorization {
		return nil, fmt.Errorf("%w: %s", ErrSessionState, s.state)
	}

	out, err := s.wallet.Charge(ctx, s.Draft, token)
	if err != nil {
		s.resolve(WalletResult{Status: domain.OutcomeFailed, Err: err})
		return nil, err
	}
	s.resolve(WalletResult{Status: out.Status, Outcome: out})
	return out, nil
}

// Cancel records a user cancellation. It reports false when the session was
// already resolved.
func (s *OnDeviceSession) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Resolved {
		return false
	}
	s.resolve(WalletResult{
		Status: domain.OutcomeCancelled,
		Outcome: &domain.PaymentOutcome{
			OrderID:     s.Draft.OrderID,
			OrderNumber: s.Draft.OrderNumber,
			Provider:    domain.ProviderOnDeviceWallet,
			Status:      domain.OutcomeCancelled,
			Reason:      ErrUserCancelled.Error(),
		},
	})
	return true
}

func tokenFingerprint(token json.RawMessage) string {
	sum := sha256.Sum256(token)
	return hex.EncodeToString(sum[:8])
}
