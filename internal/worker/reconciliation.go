package worker

import (
	"context"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/dejidee0/Dimplesluxe/internal/repo"
	"github.com/dejidee0/Dimplesluxe/internal/service"
	"github.com/rs/zerolog/log"
)

const batchSize = 50

// BankTransferVerifier is satisfied by service.PaymentService.
type BankTransferVerifier interface {
	VerifyBankTransfer(ctx context.Context, reference string) (*service.PaymentResult, error)
}

// ReconciliationWorker re-verifies bank transfer sessions of pending orders
// whose webhook never arrived. It only reports what the processor says: an order is never failed
// or cancelled because it is old.
type ReconciliationWorker struct {
	orderRepo repo.OrderRepo
	verifier  BankTransferVerifier
	interval  time.Duration
	after     time.Duration
}

func NewReconciliationWorker(
	orderRepo repo.OrderRepo,
	verifier BankTransferVerifier,
	interval time.Duration,
	after time.Duration,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		orderRepo: orderRepo,
		verifier:  verifier,
		interval:  interval,
		after:     after,
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", rw.interval).Dur("after", rw.after).Msg("bank transfer poller started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("bank transfer poller stopped")
			return
		case <-ticker.C:
			if _, err := rw.Process(ctx); err != nil {
				log.Error().Err(err).Msg("bank transfer poll failed")
			}
		}
	}
}

// Process verifies one batch of stale bank transfer sessions of pending
// orders and returns how many orders left the pending state. Superseded
// sessions are polled too: a customer may still pay on an older one.
func (rw *ReconciliationWorker) Process(ctx context.Context) (int, error) {
	pending, err := rw.orderRepo.FindPendingSessions(ctx, domain.ProviderBankTransfer, rw.after, batchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	log.Info().Int("sessions", len(pending)).Msg("verifying pending bank transfers")

	settled := 0
	for _, session := range pending {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}

		res, err := rw.verifier.VerifyBankTransfer(ctx, session.Reference)
		if err := rw.orderRepo.MarkSessionChecked(ctx, session.Provider, session.Reference); err != nil {
			log.Warn().Err(err).Str("reference", session.Reference).Msg("mark session checked")
		}
		if err != nil {
			// try again on a later round
			log.Warn().Err(err).
				Str("order_id", session.OrderID.String()).
				Str("reference", session.Reference).
				Msg("verify bank transfer")
			continue
		}

		if res.Order != nil && res.Order.Status != domain.OrderPending {
			settled++
		}
		log.Info().
			Str("order_id", session.OrderID.String()).
			Str("reference", session.Reference).
			Str("outcome", string(res.Outcome.Status)).
			Str("result", string(res.Result)).
			Msg("bank transfer verified")
	}
	return settled, nil
}
