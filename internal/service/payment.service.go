package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/checkout"
	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/dejidee0/Dimplesluxe/internal/infrastructure/payment"
	"github.com/dejidee0/Dimplesluxe/internal/repo"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// walletSessionTTL bounds how long an abandoned device sheet is remembered.
const walletSessionTTL = 30 * time.Minute

type InitializeRequest struct {
	OrderID      uuid.UUID
	Provider     domain.Provider
	DeviceWallet bool
}

// PaymentResult is what a confirmation path observed and what it did.
type PaymentResult struct {
	Outcome *domain.PaymentOutcome `json:"outcome"`
	Result  ReconcileResult        `json:"result"`
	Order   *domain.Order          `json:"order"`
}

// ReturnQuery is the query string of a provider success or cancel return.
type ReturnQuery struct {
	OrderID     uuid.UUID
	OrderNumber string
	Success     bool
	Cancelled   bool
	// Token is the approval the customer returned from, when the account
	// server appended one.
	Token string
}

type ReturnStatus struct {
	Order *domain.Order `json:"order"`
	// Cancelled returns leave the order pending so checkout can resume.
	Cancelled bool           `json:"cancelled"`
	Verified  *PaymentResult `json:"verified,omitempty"`
}

type PaymentService interface {
	Initialize(ctx context.Context, req InitializeRequest) (*payment.Initiation, error)
	VerifyBankTransfer(ctx context.Context, reference string) (*PaymentResult, error)
	HandleHostedEvent(ctx context.Context, body []byte) (ReconcileResult, error)
	HandleBankEvent(ctx context.Context, body []byte) (ReconcileResult, error)
	ValidateWallet(ctx context.Context, sessionID, validationURL string) (json.RawMessage, error)
	AuthorizeWallet(ctx context.Context, sessionID string, token json.RawMessage) (*PaymentResult, error)
	CancelWallet(ctx context.Context, sessionID string) error
	ResolveReturn(ctx context.Context, q ReturnQuery) (*ReturnStatus, error)
}

type walletEntry struct {
	session *payment.OnDeviceSession
	created time.Time
}

type paymentService struct {
	orderRepo  repo.OrderRepo
	reconciler *Reconciler
	baseURL    string

	hosted   *payment.HostedSession
	approve  *payment.ApproveCapture
	bank     *payment.BankTransfer
	wallet   *payment.Wallet
	adapters map[domain.Provider]payment.Adapter

	mu       sync.Mutex
	sessions map[string]walletEntry
	now      func() time.Time
}

func NewPaymentService(
	orderRepo repo.OrderRepo,
	reconciler *Reconciler,
	baseURL string,
	hosted *payment.HostedSession,
	approve *payment.ApproveCapture,
	bank *payment.BankTransfer,
	wallet *payment.Wallet,
) PaymentService {
	s := &paymentService{
		orderRepo:  orderRepo,
		reconciler: reconciler,
		baseURL:    baseURL,
		hosted:     hosted,
		approve:    approve,
		bank:       bank,
		wallet:     wallet,
		adapters:   make(map[domain.Provider]payment.Adapter),
		sessions:   make(map[string]walletEntry),
		now:        time.Now,
	}
	if hosted != nil {
		s.adapters[hosted.Provider()] = hosted
	}
	if approve != nil {
		s.adapters[approve.Provider()] = approve
	}
	if bank != nil {
		s.adapters[bank.Provider()] = bank
	}
	if wallet != nil {
		s.adapters[wallet.Provider()] = wallet
	}
	return s
}

func (s *paymentService) loadOrder(ctx context.Context, filter repo.OrderFilter) (*domain.Order, error) {
	order, err := s.orderRepo.FindOne(ctx, nil, filter)
	if err != nil {
		if errors.Is(err, repo.ErrEmptyFilter) {
			return nil, fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		}
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *paymentService) Initialize(ctx context.Context, req InitializeRequest) (*payment.Initiation, error) {
	order, err := s.loadOrder(ctx, repo.OrderFilter{ID: req.OrderID})
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderNotPending, order.Number, order.Status)
	}

	adapter, ok := s.adapters[req.Provider]
	if !ok || !checkout.IsAvailable(req.Provider, order.Currency, order.Billing.Country, req.DeviceWallet) {
		return nil, fmt.Errorf("%w: %s for %s/%s", checkout.ErrMethodUnavailable, req.Provider, order.Currency, order.Billing.Country)
	}

	if order.Items, err = s.orderRepo.FindItems(ctx, nil, order.ID); err != nil {
		return nil, err
	}
	draft := payment.NewDraft(order, s.baseURL)

	started, err := adapter.Initialize(ctx, draft)
	if err != nil {
		log.Error().Err(err).
			Str("provider", string(req.Provider)).
			Str("order_number", order.Number).
			Msg("payment initialization failed, order stays pending")
		return nil, fmt.Errorf("initialize %s: %w", req.Provider, err)
	}

	session := repo.PaymentSession{
		Provider:    req.Provider,
		Reference:   started.Reference,
		AmountMinor: started.AmountMinor,
		Currency:    started.Currency,
	}
	if started.Kind == payment.KindOnDevice {
		sess := s.wallet.Begin(draft)
		s.registerWallet(sess)
		started.SessionID = sess.ID
		started.Reference = sess.ID
		session.Reference = sess.ID
	}
	if session.AmountMinor == 0 {
		session.AmountMinor = checkout.MinorUnits(order.Total)
	}

	attached, err := s.orderRepo.AttachPaymentSession(ctx, nil, order.ID, session)
	if err != nil {
		return nil, fmt.Errorf("record payment session: %w", err)
	}
	if !attached {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotPending, order.Number)
	}

	log.Info().
		Str("provider", string(req.Provider)).
		Str("order_number", order.Number).
		Str("reference", session.Reference).
		Msg("payment initialized")
	return started, nil
}

func (s *paymentService) result(ctx context.Context, out *domain.PaymentOutcome, res ReconcileResult) (*PaymentResult, error) {
	order, err := s.loadOrder(ctx, repo.OrderFilter{ID: out.OrderID, Number: out.OrderNumber})
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Outcome: out, Result: res, Order: order}, nil
}

// VerifyBankTransfer asks the processor for the transaction's state and feeds
// the answer to the reconciler.
func (s *paymentService) VerifyBankTransfer(ctx context.Context, reference string) (*PaymentResult, error) {
	if s.bank == nil {
		return nil, fmt.Errorf("%w: %s", checkout.ErrMethodUnavailable, domain.ProviderBankTransfer)
	}
	out, err := s.bank.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}
	res, err := s.reconciler.Apply(ctx, *out)
	if err != nil {
		return nil, err
	}
	return s.result(ctx, out, res)
}

// EventParser turns a verified webhook body into an outcome.
type EventParser interface {
	ParseWebhook(body []byte) (*domain.PaymentOutcome, error)
}

func (s *paymentService) handleEvent(ctx context.Context, p EventParser, body []byte) (ReconcileResult, error) {
	out, err := p.ParseWebhook(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if out == nil {
		return ResultIgnored, nil
	}
	return s.reconciler.Apply(ctx, *out)
}

// HandleHostedEvent expects a body whose signature was already verified.
func (s *paymentService) HandleHostedEvent(ctx context.Context, body []byte) (ReconcileResult, error) {
	return s.handleEvent(ctx, s.hosted, body)
}

// HandleBankEvent expects a body whose signature was already verified.
func (s *paymentService) HandleBankEvent(ctx context.Context, body []byte) (ReconcileResult, error) {
	return s.handleEvent(ctx, s.bank, body)
}

func (s *paymentService) registerWallet(sess *payment.OnDeviceSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, e := range s.sessions {
		if now.Sub(e.created) > walletSessionTTL {
			e.session.Cancel()
			delete(s.sessions, id)
		}
	}
	s.sessions[sess.ID] = walletEntry{session: sess, created: now}
}

func (s *paymentService) walletSession(id string) (*payment.OnDeviceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrWalletSessionNotFound
	}
	return e.session, nil
}

func (s *paymentService) forgetWallet(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *paymentService) ValidateWallet(ctx context.Context, sessionID, validationURL string) (json.RawMessage, error) {
	sess, err := s.walletSession(sessionID)
	if err != nil {
		return nil, err
	}
	merchant, err := sess.Validate(ctx, validationURL)
	if err != nil {
		if sess.State() == payment.Resolved {
			s.forgetWallet(sessionID)
		}
		return nil, err
	}
	return merchant, nil
}

// AuthorizeWallet charges the device token and confirms the order directly.
// A decline is recorded and leaves the order pending.
func (s *paymentService) AuthorizeWallet(ctx context.Context, sessionID string, token json.RawMessage) (*PaymentResult, error) {
	sess, err := s.walletSession(sessionID)
	if err != nil {
		return nil, err
	}

	out, err := sess.Authorize(ctx, token)
	if sess.State() == payment.Resolved {
		s.forgetWallet(sessionID)
	}
	if err != nil {
		return nil, err
	}

	res, err := s.reconciler.Apply(ctx, *out)
	if err != nil {
		return nil, err
	}
	return s.result(ctx, out, res)
}

// CancelWallet closes the device sheet. Cancellation is not a failure: the
// order is left pending.
func (s *paymentService) CancelWallet(ctx context.Context, sessionID string) error {
	sess, err := s.walletSession(sessionID)
	if err != nil {
		return err
	}
	if !sess.Cancel() {
		return fmt.Errorf("%w: %s already resolved", payment.ErrSessionState, sessionID)
	}
	s.forgetWallet(sessionID)

	r := <-sess.Done()
	if r.Outcome != nil {
		if _, err := s.reconciler.Apply(ctx, *r.Outcome); err != nil {
			return err
		}
	}
	return nil
}

// ResolveReturn reports the order a customer returned to. A successful bank
// transfer return is verified and an approval is captured immediately;
// hosted-session returns wait for the webhook.
func (s *paymentService) ResolveReturn(ctx context.Context, q ReturnQuery) (*ReturnStatus, error) {
	order, err := s.loadOrder(ctx, repo.OrderFilter{ID: q.OrderID, Number: q.OrderNumber})
	if err != nil {
		return nil, err
	}

	status := &ReturnStatus{Order: order, Cancelled: q.Cancelled}
	if q.Cancelled || !q.Success || order.Status != domain.OrderPending {
		return status, nil
	}

	provider, reference := order.PaymentProvider, order.PaymentReference
	if q.Token != "" {
		provider, reference = domain.ProviderApproveCapture, q.Token
	}
	if reference == "" {
		return status, nil
	}

	var verified *PaymentResult
	switch provider {
	case domain.ProviderBankTransfer:
		verified, err = s.VerifyBankTransfer(ctx, reference)
	case domain.ProviderApproveCapture:
		verified, err = s.captureApproval(ctx, order, reference)
	default:
		return status, nil
	}
	if err != nil {
		// the order stays pending; a webhook, the poller or another return settles it
		log.Warn().Err(err).
			Str("provider", string(provider)).
			Str("order_number", order.Number).
			Str("reference", reference).
			Msg("settle on return failed")
		return status, nil
	}
	status.Verified = verified
	status.Order = verified.Order
	return status, nil
}

// captureApproval captures an approval started for order. The reference may
// come from the return URL, so it must name one of the order's sessions.
func (s *paymentService) captureApproval(ctx context.Context, order *domain.Order, reference string) (*PaymentResult, error) {
	if s.approve == nil {
		return nil, fmt.Errorf("%w: %s", checkout.ErrMethodUnavailable, domain.ProviderApproveCapture)
	}
	session, err := s.orderRepo.FindPaymentSession(ctx, nil, domain.ProviderApproveCapture, reference)
	if err != nil {
		return nil, err
	}
	if session == nil || session.OrderID != order.ID {
		return nil, fmt.Errorf("%w: %s has no approval %s", ErrIntegrity, order.Number, reference)
	}

	out, err := s.approve.Capture(ctx, reference)
	if err != nil {
		return nil, err
	}
	res, err := s.reconciler.Apply(ctx, *out)
	if err != nil {
		return nil, err
	}
	return s.result(ctx, out, res)
}
