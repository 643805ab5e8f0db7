package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/checkout"
	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/dejidee0/Dimplesluxe/internal/events"
	"github.com/dejidee0/Dimplesluxe/internal/repo"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type ReconcileResult string

const (
	ResultConfirmed ReconcileResult = "confirmed"
	// ResultDuplicate means the order was already terminal or the outcome was
	// already recorded. Nothing was written.
	ResultDuplicate       ReconcileResult = "duplicate"
	ResultMarkedFailed    ReconcileResult = "marked_failed"
	ResultRecordedFailure ReconcileResult = "recorded_failure"
	ResultIgnored         ReconcileResult = "ignored"
)

// failureMarksOrder lists providers whose definite failure ends the order.
// Every other provider leaves the order pending so the customer can retry.
var failureMarksOrder = map[domain.Provider]bool{
	domain.ProviderBankTransfer: true,
}

// FailurePolicy returns the status an order takes after a definite failure
// reported by provider.
func FailurePolicy(provider domain.Provider) domain.OrderStatus {
	if failureMarksOrder[provider] {
		return domain.OrderFailed
	}
	return domain.OrderPending
}

// Reconciler applies provider outcomes to orders. Every mutation is guarded
// on the order still being pending, so concurrent or replayed outcomes for the
// same order are safe in any order.
type Reconciler struct {
	db          *sql.DB
	orderRepo   repo.OrderRepo
	paymentRepo repo.PaymentRepo
	publisher   events.Publisher
	now         func() time.Time
}

func NewReconciler(
	db *sql.DB,
	orderRepo repo.OrderRepo,
	paymentRepo repo.PaymentRepo,
	publisher events.Publisher,
) *Reconciler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Reconciler{
		db:          db,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		publisher:   publisher,
		now:         time.Now,
	}
}

func (r *Reconciler) Apply(ctx context.Context, out domain.PaymentOutcome) (ReconcileResult, error) {
	logger := log.With().
		Str("provider", string(out.Provider)).
		Str("order_id", out.OrderID.String()).
		Str("order_number", out.OrderNumber).
		Str("transaction_id", out.TransactionID).
		Str("outcome", string(out.Status)).
		Logger()

	switch out.Status {
	case domain.OutcomeSucceeded:
		res, err := r.confirm(ctx, out)
		if err != nil {
			logger.Error().Err(err).Msg("confirm payment")
			return "", err
		}
		logger.Info().Str("result", string(res)).Msg("payment reconciled")
		return res, nil

	case domain.OutcomeFailed:
		res, err := r.fail(ctx, out)
		if err != nil {
			logger.Error().Err(err).Msg("record failed payment")
			return "", err
		}
		logger.Info().Str("result", string(res)).Str("reason", out.Reason).Msg("payment failure reconciled")
		return res, nil

	case domain.OutcomeCancelled, domain.OutcomePending:
		logger.Info().Msg("outcome is not final, order left unchanged")
		return ResultIgnored, nil
	}
	return "", fmt.Errorf("unknown outcome status %q", out.Status)
}

func outcomeFilter(out domain.PaymentOutcome) (repo.OrderFilter, error) {
	if out.OrderID == uuid.Nil && out.OrderNumber == "" {
		return repo.OrderFilter{}, fmt.Errorf("%w: outcome carries no order reference", ErrOrderNotFound)
	}
	return repo.OrderFilter{ID: out.OrderID, Number: out.OrderNumber}, nil
}

func (r *Reconciler) confirm(ctx context.Context, out domain.PaymentOutcome) (ReconcileResult, error) {
	filter, err := outcomeFilter(out)
	if err != nil {
		return "", err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	order, err := r.orderRepo.FindOne(ctx, tx, filter)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "", ErrOrderNotFound
	}

	if order.Status != domain.OrderPending {
		if order.Status != domain.OrderConfirmed {
			log.Warn().
				Str("order_number", order.Number).
				Str("status", string(order.Status)).
				Msg("payment succeeded for an order that is no longer pending")
		}
		return ResultDuplicate, nil
	}

	if err := r.checkIntegrity(ctx, tx, order, out); err != nil {
		return "", err
	}

	changed, err := r.orderRepo.UpdateOrderStatus(ctx, tx, order.ID, domain.OrderConfirmed, domain.OrderPending)
	if err != nil {
		return "", fmt.Errorf("confirm order %s: %w", order.Number, err)
	}
	if !changed {
		// another confirmation committed first
		return ResultDuplicate, nil
	}

	payment := &domain.Payment{
		ID:            uuid.New(),
		OrderID:       order.ID,
		Provider:      out.Provider,
		Method:        out.Method,
		TransactionID: out.TransactionID,
		Amount:        out.Amount.Round(2),
		Currency:      checkout.NormalizeCurrency(out.Currency),
		Status:        domain.PaymentSucceeded,
		CreatedAt:     r.now(),
	}
	if err := r.paymentRepo.CreatePayment(ctx, tx, payment); err != nil {
		return "", fmt.Errorf("record payment for %s: %w", order.Number, err)
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	r.publish(ctx, order, domain.OrderConfirmed, out)
	return ResultConfirmed, nil
}

func (r *Reconciler) fail(ctx context.Context, out domain.PaymentOutcome) (ReconcileResult, error) {
	filter, err := outcomeFilter(out)
	if err != nil {
		return "", err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	order, err := r.orderRepo.FindOne(ctx, tx, filter)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "", ErrOrderNotFound
	}
	if order.Status != domain.OrderPending {
		return ResultDuplicate, nil
	}

	if out.TransactionID != "" {
		existing, err := r.paymentRepo.FindByTransaction(ctx, tx, out.Provider, out.TransactionID, domain.PaymentFailed)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return ResultDuplicate, nil
		}
	}

	currency := checkout.NormalizeCurrency(out.Currency)
	if currency == "" {
		currency = order.Currency
	}
	payment := &domain.Payment{
		ID:            uuid.New(),
		OrderID:       order.ID,
		Provider:      out.Provider,
		Method:        out.Method,
		TransactionID: out.TransactionID,
		Amount:        out.Amount.Round(2),
		Currency:      currency,
		Status:        domain.PaymentFailed,
		FailureReason: out.Reason,
		CreatedAt:     r.now(),
	}
	if err := r.paymentRepo.CreatePayment(ctx, tx, payment); err != nil {
		return "", fmt.Errorf("record failed payment for %s: %w", order.Number, err)
	}

	result := ResultRecordedFailure
	if FailurePolicy(out.Provider) == domain.OrderFailed {
		changed, err := r.orderRepo.UpdateOrderStatus(ctx, tx, order.ID, domain.OrderFailed, domain.OrderPending)
		if err != nil {
			return "", fmt.Errorf("mark order %s failed: %w", order.Number, err)
		}
		if !changed {
			return ResultDuplicate, nil
		}
		result = ResultMarkedFailed
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	if result == ResultMarkedFailed {
		r.publish(ctx, order, domain.OrderFailed, out)
	}
	return result, nil
}

// Cancel records an explicit user cancellation. It is the only way an order
// becomes cancelled.
func (r *Reconciler) Cancel(ctx context.Context, orderID uuid.UUID, orderNumber string) (*domain.Order, error) {
	order, err := r.orderRepo.FindOne(ctx, nil, repo.OrderFilter{ID: orderID, Number: orderNumber})
	if err != nil {
		if errors.Is(err, repo.ErrEmptyFilter) {
			return nil, fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		}
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	changed, err := r.orderRepo.UpdateOrderStatus(ctx, nil, order.ID, domain.OrderCancelled, domain.OrderPending)
	if err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", order.Number, err)
	}
	if !changed {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderNotPending, order.Number, order.Status)
	}

	log.Info().Str("order_number", order.Number).Msg("order cancelled by customer")
	r.publish(ctx, order, domain.OrderCancelled, domain.PaymentOutcome{})
	order.Status = domain.OrderCancelled
	return order, nil
}

// checkIntegrity compares a success outcome with the order. Bank transfers
// settle in minor units fixed when their session started, so they are checked
// against the session the transaction belongs to, which need not be the
// order's latest one.
func (r *Reconciler) checkIntegrity(ctx context.Context, tx *sql.Tx, order *domain.Order, out domain.PaymentOutcome) error {
	if out.Provider == domain.ProviderBankTransfer {
		if out.TransactionID == "" {
			return fmt.Errorf("%w: bank transfer outcome without reference", ErrIntegrity)
		}
		session, err := r.orderRepo.FindPaymentSession(ctx, tx, domain.ProviderBankTransfer, out.TransactionID)
		if err != nil {
			return err
		}
		if session == nil || session.OrderID != order.ID {
			return fmt.Errorf("%w: %s has no bank transfer session %s", ErrIntegrity, order.Number, out.TransactionID)
		}
		if out.AmountMinor != session.AmountMinor ||
			checkout.NormalizeCurrency(out.Currency) != checkout.NormalizeCurrency(session.Currency) {
			return fmt.Errorf("%w: got %d %s, expected %d %s", ErrIntegrity,
				out.AmountMinor, out.Currency, session.AmountMinor, session.Currency)
		}
		return nil
	}

	if !out.Amount.Round(2).Equal(order.Total.Round(2)) ||
		checkout.NormalizeCurrency(out.Currency) != checkout.NormalizeCurrency(order.Currency) {
		return fmt.Errorf("%w: got %s %s, expected %s %s", ErrIntegrity,
			checkout.FormatMajor(out.Amount), out.Currency, checkout.FormatMajor(order.Total), order.Currency)
	}
	return nil
}

// publish runs after commit; a broker failure does not undo the transition.
func (r *Reconciler) publish(ctx context.Context, order *domain.Order, to domain.OrderStatus, out domain.PaymentOutcome) {
	evt := events.OrderStatusChanged{
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		From:          order.Status,
		To:            to,
		Provider:      out.Provider,
		TransactionID: out.TransactionID,
		OccurredAt:    r.now().UTC(),
	}
	if err := r.publisher.PublishStatusChanged(ctx, evt); err != nil {
		log.Error().Err(err).Str("order_number", order.Number).Msg("publish order status change")
	}
}
