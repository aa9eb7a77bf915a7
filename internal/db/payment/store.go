package paymentdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Spaces-Place/space-place-payment/internal/payment"
)

// Store persists order records and their audit trail in Postgres.
type Store struct {
	db *sql.DB
}

// NewStore constructs a Store backed by Postgres.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// NewStoreWithSchema initializes the schema then returns the store.
func NewStoreWithSchema(ctx context.Context, db *sql.DB) (*Store, error) {
	store := NewStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the payment tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS payment (
			id BIGSERIAL PRIMARY KEY,
			order_number TEXT UNIQUE NOT NULL,
			space_id TEXT NOT NULL,
			space_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			user_name TEXT NOT NULL,
			tid TEXT NOT NULL,
			status TEXT NOT NULL,
			amount BIGINT NOT NULL,
			payment_method TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS payment_events (
			id BIGSERIAL PRIMARY KEY,
			order_number TEXT NOT NULL,
			event TEXT NOT NULL,
			detail TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

const orderColumns = `id, order_number, space_id, space_name, user_id, user_name, tid, status, amount, payment_method, created_at`

// CreatePending inserts a PENDING record or returns the existing one for
// the order number. The order number is assigned by the reservation service,
// so a retried ready phase lands on the same key.
func (s *Store) CreatePending(ctx context.Context, rec payment.Order) (payment.Order, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payment (order_number, space_id, space_name, user_id, user_name, tid, status, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_number) DO NOTHING`,
		rec.OrderNumber, rec.SpaceID, rec.SpaceName, rec.UserID, rec.UserName,
		rec.TID, payment.StatusPending, rec.Amount,
	)
	if err != nil {
		return payment.Order{}, false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return payment.Order{}, false, err
	}

	stored, err := s.GetByOrderNumber(ctx, rec.OrderNumber)
	if err != nil {
		if errors.Is(err, payment.ErrUnknownOrder) {
			return payment.Order{}, false, fmt.Errorf("order not found after insert")
		}
		return payment.Order{}, false, err
	}

	return stored, affected == 1, nil
}

// GetByOrderNumber returns the record for the order number.
func (s *Store) GetByOrderNumber(ctx context.Context, orderNumber string) (payment.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM payment
		WHERE order_number = $1`,
		orderNumber,
	)
	return scanOrder(row)
}

// Complete transitions a PENDING record to COMPLETED. The authorize callback
// runs while the row is locked, which serializes gateway-authorize calls for
// the same order. A terminal record is returned with ErrAlreadyFinal and no
// callback invocation.
func (s *Store) Complete(ctx context.Context, orderNumber string, authorize func(payment.Order) (payment.Approval, error)) (payment.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return payment.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM payment
		WHERE order_number = $1
		FOR UPDATE`,
		orderNumber,
	)
	rec, err := scanOrder(row)
	if err != nil {
		return payment.Order{}, err
	}
	if rec.Status != payment.StatusPending {
		return rec, payment.ErrAlreadyFinal
	}

	approval, err := authorize(rec)
	if err != nil {
		return payment.Order{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE payment
		SET status = $2, payment_method = $3, amount = $4
		WHERE order_number = $1`,
		orderNumber, payment.StatusCompleted, approval.PaymentMethod, approval.Amount,
	); err != nil {
		return payment.Order{}, err
	}

	if err := tx.Commit(); err != nil {
		return payment.Order{}, err
	}

	rec.Status = payment.StatusCompleted
	rec.PaymentMethod = approval.PaymentMethod
	rec.Amount = approval.Amount
	return rec, nil
}

// MarkFailed transitions a PENDING record to FAILED.
func (s *Store) MarkFailed(ctx context.Context, orderNumber string) (payment.Order, bool, error) {
	return s.mark(ctx, orderNumber, payment.StatusFailed)
}

// MarkCanceled transitions a PENDING record to CANCELED.
func (s *Store) MarkCanceled(ctx context.Context, orderNumber string) (payment.Order, bool, error) {
	return s.mark(ctx, orderNumber, payment.StatusCanceled)
}

func (s *Store) mark(ctx context.Context, orderNumber string, to payment.Status) (payment.Order, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment
		SET status = $2
		WHERE order_number = $1 AND status = $3`,
		orderNumber, to, payment.StatusPending,
	)
	if err != nil {
		return payment.Order{}, false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return payment.Order{}, false, err
	}

	rec, err := s.GetByOrderNumber(ctx, orderNumber)
	if err != nil {
		return payment.Order{}, false, err
	}

	return rec, affected > 0, nil
}

// ListByUser returns the user's records, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, skip, limit int) ([]payment.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM payment
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`,
		userID, skip, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []payment.Order
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AddEvent appends an audit row for the order.
func (s *Store) AddEvent(ctx context.Context, orderNumber, event, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_events (order_number, event, detail)
		VALUES ($1, $2, $3)`,
		orderNumber, event, detail,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (payment.Order, error) {
	var rec payment.Order
	var status string
	var method sql.NullString
	err := row.Scan(
		&rec.ID, &rec.OrderNumber, &rec.SpaceID, &rec.SpaceName,
		&rec.UserID, &rec.UserName, &rec.TID, &status, &rec.Amount,
		&method, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payment.Order{}, payment.ErrUnknownOrder
		}
		return payment.Order{}, err
	}
	rec.Status = payment.Status(status)
	rec.PaymentMethod = method.String
	return rec, nil
}
