package repo

import (
	"context"
	"database/sql"

	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/google/uuid"
)

type PaymentRepo interface {
	// tx *sql.Tx -> transaction control; nil runs on the pool
	CreatePayment(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error
	FindByOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) ([]domain.Payment, error)
	// FindByTransaction returns nil, nil when the provider transaction has no record.
	FindByTransaction(ctx context.Context, tx *sql.Tx, provider domain.Provider, transactionID string, status domain.PaymentStatus) (*domain.Payment, error)
}

type paymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) PaymentRepo {
	return &paymentRepo{db: db}
}

func (r *paymentRepo) exec(tx *sql.Tx) DBTX {
	if tx == nil {
		return r.db
	}
	return tx
}

const paymentColumns = `id, order_id, provider, method, transaction_id, amount, currency, status, failure_reason, created_at`

func scanPayment(row scanner) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.Provider,
		&p.Method,
		&p.TransactionID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.FailureReason,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepo) CreatePayment(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.exec(tx).ExecContext(
		ctx, query, p.ID, p.OrderID, p.Provider, p.Method, p.TransactionID, p.Amount, p.Currency, p.Status, p.FailureReason, p.CreatedAt,
	)
	return err
}

func (r *paymentRepo) FindByOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) ([]domain.Payment, error) {
	rows, err := r.exec(tx).QueryContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 ORDER BY created_at", orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (r *paymentRepo) FindByTransaction(ctx context.Context, tx *sql.Tx, provider domain.Provider, transactionID string, status domain.PaymentStatus) (*domain.Payment, error) {
	row := r.exec(tx).QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE provider = $1 AND transaction_id = $2 AND status = $3 LIMIT 1",
		provider, transactionID, status)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
