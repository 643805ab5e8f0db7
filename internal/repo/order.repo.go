package repo

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/domain"
	"github.com/google/uuid"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OrderFilter selects a single order. Zero fields are ignored; at least one
// of ID or Number must be set.
type OrderFilter struct {
	ID     uuid.UUID
	Number string
	Status domain.OrderStatus
}

// PaymentSession is the provider session recorded when a payment is
// initialized. An order keeps every session it ever opened.
type PaymentSession struct {
	OrderID     uuid.UUID
	Provider    domain.Provider
	Reference   string
	AmountMinor int64
	Currency    string
	CreatedAt   time.Time
}

var ErrEmptyFilter = errors.New("order filter needs an id or an order number")

type OrderRepo interface {
	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	CreateOrderItems(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, items []domain.OrderItem) error
	// FindOne returns nil, nil when nothing matches.
	FindOne(ctx context.Context, tx *sql.Tx, filter OrderFilter) (*domain.Order, error)
	FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindItems(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) ([]domain.OrderItem, error)
	// UpdateOrderStatus only writes when the current status equals guard
	// (an empty guard disables the check) and reports whether a row changed.
	UpdateOrderStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status, guard domain.OrderStatus) (bool, error)
	// AttachPaymentSession records session and makes it the order's current
	// one, only while the order is pending.
	AttachPaymentSession(ctx context.Context, tx *sql.Tx, id uuid.UUID, session PaymentSession) (bool, error)
	// FindPaymentSession returns nil, nil when the reference is unknown.
	FindPaymentSession(ctx context.Context, tx *sql.Tx, provider domain.Provider, reference string) (*PaymentSession, error)
	// FindPendingSessions lists sessions of pending orders not created or
	// checked within olderThan, least recently checked first.
	FindPendingSessions(ctx context.Context, provider domain.Provider, olderThan time.Duration, limit int) ([]PaymentSession, error)
	MarkSessionChecked(ctx context.Context, provider domain.Provider, reference string) error
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

func (r *orderRepo) exec(tx *sql.Tx) DBTX {
	if tx == nil {
		return r.db
	}
	return tx
}

const orderColumns = `id, order_number, user_id, status, subtotal, shipping_cost, total, currency, exchange_rate,
	customer_first_name, customer_last_name, customer_email, customer_phone,
	billing_address_line1, billing_address_line2, billing_city, billing_postcode, billing_country,
	shipping_address_line1, shipping_address_line2, shipping_city, shipping_postcode, shipping_country,
	shipping_method, payment_provider, payment_reference, provider_amount_minor, provider_currency,
	created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.Number,
		&o.UserID,
		&o.Status,
		&o.Subtotal,
		&o.ShippingCost,
		&o.Total,
		&o.Currency,
		&o.ExchangeRate,
		&o.Customer.FirstName,
		&o.Customer.LastName,
		&o.Customer.Email,
		&o.Customer.Phone,
		&o.Billing.Line1,
		&o.Billing.Line2,
		&o.Billing.City,
		&o.Billing.Postcode,
		&o.Billing.Country,
		&o.Shipping.Line1,
		&o.Shipping.Line2,
		&o.Shipping.City,
		&o.Shipping.Postcode,
		&o.Shipping.Country,
		&o.ShippingMethod,
		&o.PaymentProvider,
		&o.PaymentReference,
		&o.ProviderAmountMinor,
		&o.ProviderCurrency,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	_, err := r.exec(tx).ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, user_id, status, subtotal, shipping_cost, total, currency, exchange_rate,
			customer_first_name, customer_last_name, customer_email, customer_phone,
			billing_address_line1, billing_address_line2, billing_city, billing_postcode, billing_country,
			shipping_address_line1, shipping_address_line2, shipping_city, shipping_postcode, shipping_country,
			shipping_method, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26)`,
		o.ID, o.Number, o.UserID, o.Status, o.Subtotal, o.ShippingCost, o.Total, o.Currency, o.ExchangeRate,
		o.Customer.FirstName, o.Customer.LastName, o.Customer.Email, o.Customer.Phone,
		o.Billing.Line1, o.Billing.Line2, o.Billing.City, o.Billing.Postcode, o.Billing.Country,
		o.Shipping.Line1, o.Shipping.Line2, o.Shipping.City, o.Shipping.Postcode, o.Shipping.Country,
		o.ShippingMethod, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (r *orderRepo) CreateOrderItems(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO order_items (id, order_id, product_id, product_name, product_slug,
		quantity, unit_price, total_price, selected_length, selected_color) VALUES `)
	args := make([]any, 0, len(items)*10)
	for i, it := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := 0; j < 10; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("$" + strconv.Itoa(i*10+j+1))
		}
		b.WriteString(")")
		args = append(args, it.ID, orderID, it.ProductID, it.ProductName, it.ProductSlug,
			it.Quantity, it.UnitPrice, it.TotalPrice, it.SelectedLength, it.SelectedColor)
	}

	_, err := r.exec(tx).ExecContext(ctx, b.String(), args...)
	return err
}

func (r *orderRepo) FindOne(ctx context.Context, tx *sql.Tx, filter OrderFilter) (*domain.Order, error) {
	if filter.ID == uuid.Nil && filter.Number == "" {
		return nil, ErrEmptyFilter
	}

	var where []string
	var args []any
	if filter.ID != uuid.Nil {
		args = append(args, filter.ID)
		where = append(where, "id = $"+strconv.Itoa(len(args)))
	}
	if filter.Number != "" {
		args = append(args, filter.Number)
		where = append(where, "order_number = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}

	query := "SELECT " + orderColumns + " FROM orders WHERE " + strings.Join(where, " AND ")
	order, err := scanOrder(r.exec(tx).QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.FindOne(ctx, nil, OrderFilter{ID: id})
}

func (r *orderRepo) FindItems(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := r.exec(tx).QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, product_slug, quantity,
		       unit_price, total_price, selected_length, selected_color
		FROM order_items WHERE order_id = $1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(
			&it.ID,
			&it.OrderID,
			&it.ProductID,
			&it.ProductName,
			&it.ProductSlug,
			&it.Quantity,
			&it.UnitPrice,
			&it.TotalPrice,
			&it.SelectedLength,
			&it.SelectedColor,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *orderRepo) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status, guard domain.OrderStatus) (bool, error) {
	query := "UPDATE orders SET status = $1, updated_at = now() WHERE id = $2"
	args := []any{status, id}
	if guard != "" {
		query += " AND status = $3"
		args = append(args, guard)
	}

	res, err := r.exec(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *orderRepo) AttachPaymentSession(ctx context.Context, tx *sql.Tx, id uuid.UUID, s PaymentSession) (bool, error) {
	res, err := r.exec(tx).ExecContext(ctx, `
		WITH attached AS (
			UPDATE orders
			SET payment_provider = $2,
			    payment_reference = $3,
			    provider_amount_minor = $4,
			    provider_currency = $5,
			    updated_at = now()
			WHERE id = $1 AND status = 'pending'
			RETURNING id
		)
		INSERT INTO payment_sessions (order_id, provider, reference, amount_minor, currency)
		SELECT id, $2, $3, $4, $5 FROM attached
		ON CONFLICT (provider, reference) DO UPDATE
		SET amount_minor = EXCLUDED.amount_minor, currency = EXCLUDED.currency`,
		id, s.Provider, s.Reference, s.AmountMinor, s.Currency,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const sessionColumns = `order_id, provider, reference, amount_minor, currency, created_at`

func scanSession(row scanner) (*PaymentSession, error) {
	var ps PaymentSession
	if err := row.Scan(&ps.OrderID, &ps.Provider, &ps.Reference, &ps.AmountMinor, &ps.Currency, &ps.CreatedAt); err != nil {
		return nil, err
	}
	return &ps, nil
}

func (r *orderRepo) FindPaymentSession(ctx context.Context, tx *sql.Tx, provider domain.Provider, reference string) (*PaymentSession, error) {
	ps, err := scanSession(r.exec(tx).QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM payment_sessions WHERE provider = $1 AND reference = $2",
		provider, reference,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ps, nil
}

func (r *orderRepo) FindPendingSessions(ctx context.Context, provider domain.Provider, olderThan time.Duration, limit int) ([]PaymentSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.order_id, s.provider, s.reference, s.amount_minor, s.currency, s.created_at
		FROM payment_sessions s
		JOIN orders o ON o.id = s.order_id
		WHERE o.status = 'pending' AND s.provider = $1 AND COALESCE(s.checked_at, s.created_at) < $2
		ORDER BY COALESCE(s.checked_at, s.created_at)
		LIMIT $3`,
		provider, time.Now().Add(-olderThan), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []PaymentSession
	for rows.Next() {
		ps, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *ps)
	}
	return sessions, rows.Err()
}

func (r *orderRepo) MarkSessionChecked(ctx context.Context, provider domain.Provider, reference string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE payment_sessions SET checked_at = now() WHERE provider = $1 AND reference = $2",
		provider, reference,
	)
	return err
}
